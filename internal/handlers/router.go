package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openclass/quiz-session-service/internal/services"
	"github.com/openclass/quiz-session-service/internal/utils"
)

type HandlerManager struct {
	sessionHandler *SessionHandler
}

func NewHandlerManager(sessionService services.SessionService, logger utils.Logger) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(sessionService, logger),
	}
}

// SetupRoutes sets up all API routes. Authentication is handled upstream;
// the gateway injects the verified user ID into the request context.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", HealthCheck)

	v1 := router.Group("/api/v1", IdentityMiddleware())
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", hm.sessionHandler.IssueSession)
			sessions.POST("/submit", hm.sessionHandler.SubmitSession)
		}

		attempts := v1.Group("/attempts")
		{
			attempts.GET("", hm.sessionHandler.ListAttempts)
			attempts.GET("/export", hm.sessionHandler.ExportAttempts)
		}
	}
}

// HealthCheck reports process liveness
// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "quiz-session-service",
	})
}
