package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	Source  = "test-engine"
	Version = "1.0"
)

// Event types published by the attempt lifecycle.
const (
	TypeAttemptStarted   = "attempt.started"
	TypeAttemptFinalized = "attempt.finalized"
	TypeAttemptExpired   = "attempt.expired"
)

type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent stamps id, source, version and timestamp on a payload.
func NewEvent(eventType string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    Source,
		Version:   Version,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// AttemptStartedEvent is published when a new attempt begins.
type AttemptStartedEvent struct {
	AttemptID     uint   `json:"attempt_id"`
	TestID        uint   `json:"test_id"`
	UserID        string `json:"user_id"`
	AttemptNumber int    `json:"attempt_number"`
}

// AttemptFinalizedEvent is published after scoring and statistics have
// been committed.
type AttemptFinalizedEvent struct {
	AttemptID       uint    `json:"attempt_id"`
	TestID          uint    `json:"test_id"`
	UserID          string  `json:"user_id"`
	AttemptNumber   int     `json:"attempt_number"`
	Score           float64 `json:"score"`
	MaxScore        float64 `json:"max_score"`
	PercentageScore int     `json:"percentage_score"`
	Passed          bool    `json:"passed"`
}

// AttemptExpiredEvent is published when an attempt runs out of time.
type AttemptExpiredEvent struct {
	AttemptID uint   `json:"attempt_id"`
	TestID    uint   `json:"test_id"`
	UserID    string `json:"user_id"`
}
