package postgres

import (
	"context"

	"github.com/openclass/quiz-session-service/internal/repositories"
	"gorm.io/gorm"
)

// Repository is the gorm-backed aggregate. Begin returns a copy bound to a
// transaction; Commit/Rollback close that scope.
type Repository struct {
	db   *gorm.DB
	inTx bool
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Quiz() repositories.QuizRepository {
	return NewQuizPostgreSQL(r.db)
}

func (r *Repository) Attempt() repositories.AttemptRepository {
	return NewAttemptPostgreSQL(r.db)
}

func (r *Repository) User() repositories.UserRepository {
	return NewUserPostgreSQL(r.db)
}

func (r *Repository) Begin(ctx context.Context) (repositories.Repository, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Repository{db: tx, inTx: true}, nil
}

func (r *Repository) Commit(ctx context.Context) error {
	if !r.inTx {
		return gorm.ErrInvalidTransaction
	}
	return r.db.Commit().Error
}

func (r *Repository) Rollback(ctx context.Context) error {
	if !r.inTx {
		return gorm.ErrInvalidTransaction
	}
	return r.db.Rollback().Error
}
