package models

import (
	"time"
)

// Attempt is the immutable record of one graded submission. It is created
// in the same transaction as its answer rows and never updated afterwards.
type Attempt struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"not null;size:255;index"`
	QuizID uint   `json:"quiz_id" gorm:"not null;index"`

	Score  int  `json:"score" gorm:"not null"`
	Total  int  `json:"total" gorm:"not null"`
	Passed bool `json:"passed" gorm:"not null;default:false"`
	Reward int  `json:"reward" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`

	Quiz    Quiz            `json:"quiz" gorm:"foreignKey:QuizID"`
	Answers []AttemptAnswer `json:"answers" gorm:"foreignKey:AttemptID"`
}

// AttemptAnswer is one graded answer row, written atomically with its Attempt.
type AttemptAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index;uniqueIndex:idx_attempt_question,priority:1"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_attempt_question,priority:2"`
	OptionID   uint `json:"option_id" gorm:"not null"`
	IsCorrect  bool `json:"is_correct" gorm:"not null;default:false"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (AttemptAnswer) TableName() string {
	return "attempt_answers"
}
