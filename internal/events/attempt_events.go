package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAttemptGraded EventType = "attempt.graded"
)

const (
	eventSource  = "quiz-session-service"
	eventVersion = "1.0"
)

// AttemptGradedEvent is emitted after a submission has been scored and
// persisted. Downstream consumers (progress tracking, streaks, audit) feed
// off this instead of polling the attempts table.
type AttemptGradedEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	AttemptID uint   `json:"attempt_id"`
	QuizID    uint   `json:"quiz_id"`
	UserID    string `json:"user_id"`
	Score     int    `json:"score"`
	Total     int    `json:"total"`
	Passed    bool   `json:"passed"`
	Reward    int    `json:"reward"`
}

func NewAttemptGradedEvent(attemptID, quizID uint, userID string, score, total int, passed bool, reward int) *AttemptGradedEvent {
	return &AttemptGradedEvent{
		ID:        uuid.NewString(),
		Type:      EventAttemptGraded,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now().UTC(),
		AttemptID: attemptID,
		QuizID:    quizID,
		UserID:    userID,
		Score:     score,
		Total:     total,
		Passed:    passed,
		Reward:    reward,
	}
}
