package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/openclass/quiz-session-service/internal/models"
	"gorm.io/gorm"
)

// Repository aggregates the per-entity repositories. Implementations bound
// to a transaction return the same interface from Begin.
type Repository interface {
	Quiz() QuizRepository
	Attempt() AttemptRepository
	User() UserRepository
}

// TransactionRepository is implemented by repositories that can open a
// transaction scope. All writes performed through the returned Repository
// commit or roll back together.
type TransactionRepository interface {
	Repository
	Begin(ctx context.Context) (Repository, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// QuizRepository is the answer-key store. The session subsystem only reads
// quiz definitions; the catalog service owns writes.
type QuizRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Quiz, error)
	// GetByIDWithDetails loads the quiz with questions and options in
	// display order, including the correctness flags.
	GetByIDWithDetails(ctx context.Context, id uint) (*models.Quiz, error)
}

// AttemptRepository persists graded attempts and reads them back for history.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	// CreateAnswersBatch bulk-inserts answer rows; duplicate
	// (attempt, question) pairs are skipped rather than failing the batch.
	CreateAnswersBatch(ctx context.Context, answers []*models.AttemptAnswer) error
	GetByID(ctx context.Context, id uint) (*models.Attempt, error)
	GetByUser(ctx context.Context, userID string, filters AttemptFilters) ([]*models.Attempt, int64, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	// IncrementReward adds delta to the user's cumulative reward balance.
	IncrementReward(ctx context.Context, id string, delta int) error
}

// AttemptFilters narrow and paginate history reads.
type AttemptFilters struct {
	QuizID    *uint      `json:"quiz_id"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
	SortBy    string     `json:"sort_by"`    // "created_at", "score"
	SortOrder string     `json:"sort_order"` // "asc", "desc"
}

// IsNotFoundError reports whether err is the backing store's missing-row error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
