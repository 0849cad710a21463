package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openclass/quiz-session-service/internal/cache"
	"github.com/openclass/quiz-session-service/internal/events"
	"github.com/openclass/quiz-session-service/internal/i18n"
	"github.com/openclass/quiz-session-service/internal/models"
	"github.com/openclass/quiz-session-service/internal/repositories"
	"github.com/openclass/quiz-session-service/internal/ticket"
	"github.com/openclass/quiz-session-service/internal/validator"
)

// AnswerKeyProvider supplies the server-side answer key for a quiz.
type AnswerKeyProvider interface {
	GetAnswerKey(ctx context.Context, quizID uint) (*cache.AnswerKey, error)
}

// ReplayGuard tracks one-time use of tickets.
type ReplayGuard interface {
	MarkUsed(ctx context.Context, signature string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, signature string) error
}

// SessionService is the assessment protocol end to end: ticket issuance,
// submission re-validation, scoring, atomic persistence and history reads.
type SessionService interface {
	Issue(ctx context.Context, req *IssueSessionRequest, userID string) (*SessionResponse, error)
	Submit(ctx context.Context, req *SubmitSessionRequest, userID string) (*SubmitResponse, error)
	History(ctx context.Context, userID string, filters repositories.AttemptFilters) (*HistoryResponse, error)
	ExportHistory(ctx context.Context, userID string) ([]byte, error)
}

// ===== REQUEST/RESPONSE TYPES =====

type IssueSessionRequest struct {
	QuizID   uint   `json:"quiz_id" validate:"required"`
	Language string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// OptionView is an option as the client sees it: no correctness flag, by
// construction rather than by omission.
type OptionView struct {
	ID   uint   `json:"id"`
	Text string `json:"text"`
}

type QuestionView struct {
	ID          uint         `json:"id"`
	Text        string       `json:"text"`
	Explanation string       `json:"explanation,omitempty"`
	Options     []OptionView `json:"options"`
}

type QuizView struct {
	ID              uint           `json:"id"`
	Title           string         `json:"title"`
	DurationSeconds int            `json:"duration_seconds"`
	Questions       []QuestionView `json:"questions"`
}

type SessionResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
	Quiz      QuizView  `json:"quiz"`
}

type SubmitSessionRequest struct {
	Ticket  string             `json:"ticket" validate:"required"`
	QuizID  uint               `json:"quiz_id" validate:"required"`
	Answers []AnswerSubmission `json:"answers" validate:"dive"`
}

type SubmitResponse struct {
	AttemptID       uint            `json:"attempt_id"`
	Score           int             `json:"score"`
	Total           int             `json:"total"`
	ScorePercentage float64         `json:"score_percentage"`
	Passed          bool            `json:"passed"`
	Reward          int             `json:"reward"`
	CorrectOptions  map[uint]uint   `json:"correct_options"`
	Explanations    map[uint]string `json:"explanations"`
}

type HistoryRow struct {
	AttemptID   uint      `json:"attempt_id"`
	QuizID      uint      `json:"quiz_id"`
	QuizTitle   string    `json:"quiz_title"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Passed      bool      `json:"passed"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type HistoryResponse struct {
	Attempts []HistoryRow `json:"attempts"`
	Total    int64        `json:"total"`
}

// ===== SERVICE =====

type sessionService struct {
	repo      repositories.Repository
	signer    *ticket.Signer
	keys      AnswerKeyProvider
	guard     ReplayGuard
	publisher events.EventPublisher
	scoring   *ScoringEngine
	logger    *slog.Logger
	validator *validator.Validator

	defaultLanguage string
}

func NewSessionService(
	repo repositories.Repository,
	signer *ticket.Signer,
	keys AnswerKeyProvider,
	guard ReplayGuard,
	publisher events.EventPublisher,
	scoring *ScoringEngine,
	logger *slog.Logger,
	v *validator.Validator,
	defaultLanguage string,
) SessionService {
	if defaultLanguage == "" {
		defaultLanguage = i18n.DefaultLanguage
	}
	return &sessionService{
		repo:            repo,
		signer:          signer,
		keys:            keys,
		guard:           guard,
		publisher:       publisher,
		scoring:         scoring,
		logger:          logger,
		validator:       v,
		defaultLanguage: defaultLanguage,
	}
}

// ===== ISSUE =====

func (s *sessionService) Issue(ctx context.Context, req *IssueSessionRequest, userID string) (*SessionResponse, error) {
	s.logger.Info("Issuing quiz session",
		"quiz_id", req.QuizID,
		"user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	quiz, err := s.repo.Quiz().GetByIDWithDetails(ctx, req.QuizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	if quiz.Status != models.QuizPublished && !user.IsStaff() {
		return nil, ErrQuizNotPublished
	}
	if len(quiz.Questions) == 0 {
		return nil, ErrQuizHasNoQuestions
	}

	lang := req.Language
	if lang == "" {
		lang = user.Language
	}

	token, expiresAt, err := s.signer.Issue(quiz.ID, userID, time.Duration(quiz.Duration)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session ticket: %w", err)
	}

	s.logger.Info("Quiz session issued",
		"quiz_id", quiz.ID,
		"user_id", userID,
		"expires_at", expiresAt)

	return &SessionResponse{
		Ticket:    token,
		ExpiresAt: expiresAt,
		Quiz:      s.buildQuizView(quiz, lang),
	}, nil
}

// buildQuizView strips the answer key and resolves localized text. Issuance
// has no side effects: the view and ticket are derived purely from the quiz
// row and the signing secret.
func (s *sessionService) buildQuizView(quiz *models.Quiz, lang string) QuizView {
	view := QuizView{
		ID:              quiz.ID,
		Title:           i18n.Resolve(quiz.Title, lang, s.defaultLanguage),
		DurationSeconds: quiz.Duration,
		Questions:       make([]QuestionView, 0, len(quiz.Questions)),
	}
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		questionView := QuestionView{
			ID:          q.ID,
			Text:        i18n.Resolve(q.Text, lang, s.defaultLanguage),
			Explanation: i18n.Resolve(q.Explanation, lang, s.defaultLanguage),
			Options:     make([]OptionView, 0, len(q.Options)),
		}
		for j := range q.Options {
			opt := &q.Options[j]
			questionView.Options = append(questionView.Options, OptionView{
				ID:   opt.ID,
				Text: i18n.Resolve(opt.Text, lang, s.defaultLanguage),
			})
		}
		view.Questions = append(view.Questions, questionView)
	}
	return view
}

// ===== SUBMIT =====

func (s *sessionService) Submit(ctx context.Context, req *SubmitSessionRequest, userID string) (*SubmitResponse, error) {
	s.logger.Info("Submitting quiz session",
		"quiz_id", req.QuizID,
		"user_id", userID,
		"answers_count", len(req.Answers))

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	// The ticket is the sole gate: structure, signature, binding, deadline.
	claims, err := s.signer.Verify(req.Ticket, req.QuizID, userID)
	if err != nil {
		s.logger.Warn("Ticket rejected",
			"quiz_id", req.QuizID,
			"user_id", userID,
			"reason", ticket.ReasonFor(err))
		return nil, err
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	quiz, err := s.repo.Quiz().GetByIDWithDetails(ctx, claims.QuizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	answerKey, err := s.loadAnswerKey(ctx, quiz)
	if err != nil {
		return nil, err
	}

	result := s.scoring.Score(answerKey.Correct, req.Answers)

	// The marker is consumed last, immediately before the write, so any
	// earlier failure leaves the still-valid ticket usable for a retry.
	signature := ticketSignature(req.Ticket)
	if err := s.markTicketUsed(ctx, signature, claims); err != nil {
		return nil, err
	}

	attempt, err := s.persistAttempt(ctx, userID, claims.QuizID, result)
	if err != nil {
		// Free the one-time marker so the client can retry with the same
		// still-valid ticket.
		if releaseErr := s.guard.Release(ctx, signature); releaseErr != nil {
			s.logger.Error("Failed to release ticket marker", "error", releaseErr)
		}
		s.logger.Error("Failed to persist attempt",
			"quiz_id", claims.QuizID,
			"user_id", userID,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	s.logger.Info("Quiz session graded",
		"attempt_id", attempt.ID,
		"quiz_id", claims.QuizID,
		"user_id", userID,
		"score", result.Score,
		"total", result.Total,
		"passed", result.Passed)

	event := events.NewAttemptGradedEvent(attempt.ID, claims.QuizID, userID,
		result.Score, result.Total, result.Passed, result.Reward)
	if err := s.publisher.PublishAttemptGraded(ctx, event); err != nil {
		// The attempt is committed; event delivery is best effort here.
		s.logger.Error("Failed to publish attempt event",
			"attempt_id", attempt.ID,
			"error", err)
	}

	return &SubmitResponse{
		AttemptID:       attempt.ID,
		Score:           result.Score,
		Total:           result.Total,
		ScorePercentage: result.ScorePercentage,
		Passed:          result.Passed,
		Reward:          result.Reward,
		CorrectOptions:  result.CorrectOptions,
		Explanations:    s.buildExplanationMap(quiz, user.Language),
	}, nil
}

// markTicketUsed records first use of the ticket. The guard failing hard
// (e.g. Redis down) is logged and ignored: replay protection degrades
// rather than blocking every submission.
func (s *sessionService) markTicketUsed(ctx context.Context, signature string, claims *ticket.Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	firstUse, err := s.guard.MarkUsed(ctx, signature, ttl)
	if err != nil {
		s.logger.Warn("Replay guard unavailable, accepting submission", "error", err)
		return nil
	}
	if !firstUse {
		s.logger.Warn("Ticket replay detected",
			"quiz_id", claims.QuizID,
			"user_id", claims.UserID)
		return ErrTicketReplayed
	}
	return nil
}

// loadAnswerKey prefers the cache and falls back to deriving the key from
// the already-loaded quiz when the cache is unavailable.
func (s *sessionService) loadAnswerKey(ctx context.Context, quiz *models.Quiz) (*cache.AnswerKey, error) {
	answerKey, err := s.keys.GetAnswerKey(ctx, quiz.ID)
	if err == nil {
		return answerKey, nil
	}
	s.logger.Warn("Answer key cache miss path failed, deriving from store",
		"quiz_id", quiz.ID,
		"error", err)

	derived := &cache.AnswerKey{QuizID: quiz.ID, Correct: make(map[uint]uint, len(quiz.Questions))}
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		derived.Correct[q.ID] = q.CorrectOptionID()
	}
	return derived, nil
}

// persistAttempt writes the attempt, its answer rows and the reward
// increment in one transaction; a failure anywhere leaves nothing behind.
func (s *sessionService) persistAttempt(ctx context.Context, userID string, quizID uint, result *ScoreResult) (attempt *models.Attempt, err error) {
	txRepo, err := s.repo.(repositories.TransactionRepository).Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := txRepo.(repositories.TransactionRepository).Rollback(ctx); rbErr != nil {
				s.logger.Error("Failed to roll back attempt transaction", "error", rbErr)
			}
		}
	}()

	attempt = &models.Attempt{
		UserID: userID,
		QuizID: quizID,
		Score:  result.Score,
		Total:  result.Total,
		Passed: result.Passed,
		Reward: result.Reward,
	}
	if err = txRepo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	answers := make([]*models.AttemptAnswer, 0, len(result.Graded))
	for _, graded := range result.Graded {
		answers = append(answers, &models.AttemptAnswer{
			AttemptID:  attempt.ID,
			QuestionID: graded.QuestionID,
			OptionID:   graded.OptionID,
			IsCorrect:  graded.IsCorrect,
		})
	}
	if err = txRepo.Attempt().CreateAnswersBatch(ctx, answers); err != nil {
		return nil, fmt.Errorf("failed to create answers: %w", err)
	}

	if result.Reward > 0 {
		if err = txRepo.User().IncrementReward(ctx, userID, result.Reward); err != nil {
			return nil, fmt.Errorf("failed to increment reward: %w", err)
		}
	}

	if err = txRepo.(repositories.TransactionRepository).Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return attempt, nil
}

// buildExplanationMap covers every question regardless of pass/fail so the
// learner can review mistakes.
func (s *sessionService) buildExplanationMap(quiz *models.Quiz, lang string) map[uint]string {
	explanations := make(map[uint]string, len(quiz.Questions))
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		explanations[q.ID] = i18n.Resolve(q.Explanation, lang, s.defaultLanguage)
	}
	return explanations
}

// ===== HISTORY =====

func (s *sessionService) History(ctx context.Context, userID string, filters repositories.AttemptFilters) (*HistoryResponse, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	attempts, total, err := s.repo.Attempt().GetByUser(ctx, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	rows := make([]HistoryRow, 0, len(attempts))
	for _, attempt := range attempts {
		rows = append(rows, HistoryRow{
			AttemptID:   attempt.ID,
			QuizID:      attempt.QuizID,
			QuizTitle:   i18n.Resolve(attempt.Quiz.Title, user.Language, s.defaultLanguage),
			Score:       attempt.Score,
			Total:       attempt.Total,
			Passed:      attempt.Passed,
			SubmittedAt: attempt.CreatedAt,
		})
	}

	return &HistoryResponse{Attempts: rows, Total: total}, nil
}

// ticketSignature returns the signature segment of a compact JWS token; it
// is what the replay guard keys on.
func ticketSignature(token string) string {
	if idx := strings.LastIndexByte(token, '.'); idx >= 0 {
		return token[idx+1:]
	}
	return token
}
