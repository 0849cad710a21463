package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclass/quiz-session-service/internal/cache"
	"github.com/openclass/quiz-session-service/internal/config"
	"github.com/openclass/quiz-session-service/internal/events"
	"github.com/openclass/quiz-session-service/internal/handlers"
	"github.com/openclass/quiz-session-service/internal/repositories/postgres"
	"github.com/openclass/quiz-session-service/internal/services"
	"github.com/openclass/quiz-session-service/internal/ticket"
	"github.com/openclass/quiz-session-service/internal/utils"
	"github.com/openclass/quiz-session-service/internal/validator"
	"github.com/openclass/quiz-session-service/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var logger utils.Logger
	if cfg.Environment == "production" {
		logger = utils.NewDefaultLogger()
	} else {
		logger = utils.NewDevelopmentLogger()
	}
	slogger := utils.ToSlogLogger(logger)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisClient, err := pkg.NewRedisClient(cfg)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	repo := postgres.NewRepository(db)

	var publisher events.EventPublisher
	publisher, err = events.NewKafkaEventPublisher(events.PublisherConfig{
		KafkaBrokers: cfg.KafkaBrokers,
		TopicName:    cfg.KafkaTopic,
		Logger:       slogger,
	})
	if err != nil {
		logger.Warn("Kafka unavailable, falling back to mock publisher", "error", err)
		publisher = events.NewMockEventPublisher(slogger)
	}
	defer publisher.Close()

	sessionService := services.NewSessionService(
		repo,
		ticket.NewSigner([]byte(cfg.TicketSecret), cfg.GraceWindow),
		cache.NewAnswerKeyCache(redisClient, repo.Quiz(), cfg.AnswerKeyTTL),
		cache.NewReplayGuard(redisClient),
		publisher,
		services.NewScoringEngine(cfg.PassThreshold, cfg.RewardPerCorrect),
		slogger,
		validator.New(),
		cfg.DefaultLanguage,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.LoggerMiddleware(logger))

	handlerManager := handlers.NewHandlerManager(sessionService, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", "error", err)
	}
	logger.Info("Server stopped")
}
