package models

import (
	"time"

	"gorm.io/gorm"
)

type QuizStatus string

const (
	QuizDraft     QuizStatus = "Draft"
	QuizPublished QuizStatus = "Published"
	QuizArchived  QuizStatus = "Archived"
)

// Quiz is the authoritative quiz definition, including the answer key.
// It is read-only to the session subsystem; the catalog service owns writes.
type Quiz struct {
	ID       uint       `json:"id" gorm:"primaryKey"`
	Title    TextMap    `json:"title" gorm:"type:jsonb;not null"`
	Duration int        `json:"duration" gorm:"not null" validate:"required,min=10,max=7200"` // seconds
	Status   QuizStatus `json:"status" gorm:"default:Draft;index" validate:"omitempty,quiz_status"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Questions []Question `json:"questions" gorm:"foreignKey:QuizID"`
}

type Question struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	QuizID      uint    `json:"quiz_id" gorm:"not null;index"`
	Position    int     `json:"position" gorm:"not null;default:0"`
	Text        TextMap `json:"text" gorm:"type:jsonb;not null"`
	Explanation TextMap `json:"explanation" gorm:"type:jsonb"`

	Options []Option `json:"options" gorm:"foreignKey:QuestionID"`
}

// Option carries the correctness flag. It is never serialized to clients:
// the json tag hides it, and the quiz view types drop it entirely.
type Option struct {
	ID         uint    `json:"id" gorm:"primaryKey"`
	QuestionID uint    `json:"question_id" gorm:"not null;index"`
	Position   int     `json:"position" gorm:"not null;default:0"`
	Text       TextMap `json:"text" gorm:"type:jsonb;not null"`
	Correct    bool    `json:"-" gorm:"not null;default:false"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

func (Question) TableName() string {
	return "questions"
}

func (Option) TableName() string {
	return "options"
}

// CorrectOptionID returns the ID of the correct option, or 0 when the
// question has none (malformed content).
func (q *Question) CorrectOptionID() uint {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return 0
}
