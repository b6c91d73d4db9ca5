package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptEvaluated  AttemptStatus = "evaluated"
	AttemptFinalized  AttemptStatus = "finalized"
	AttemptExpired    AttemptStatus = "expired"
	AttemptRejected   AttemptStatus = "rejected"
)

// Terminal reports whether the attempt can never transition again.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptFinalized || s == AttemptExpired || s == AttemptRejected
}

// SnapshotQuestion is one question as it was frozen into the attempt at
// start time. All grading reads the snapshot, never the live test, so
// concurrent edits to a published test cannot change a running attempt.
type SnapshotQuestion struct {
	QuestionID         uint         `json:"question_id"`
	Position           int          `json:"position"`
	Type               QuestionType `json:"type"`
	Text               string       `json:"text"`
	Options            []string     `json:"options,omitempty"`
	CorrectAnswer      *string      `json:"correct_answer,omitempty"`
	Points             float64      `json:"points"`
	AIEvaluation       bool         `json:"ai_evaluation"`
	EvaluationCriteria *string      `json:"evaluation_criteria,omitempty"`
}

type TestAttempt struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	TestID        uint          `json:"test_id" gorm:"not null;index:idx_attempt_test_user;uniqueIndex:uniq_attempt_seq"`
	UserID        string        `json:"user_id" gorm:"not null;index:idx_attempt_test_user;size:255;uniqueIndex:uniq_attempt_seq"`
	AttemptNumber int           `json:"attempt_number" gorm:"not null;uniqueIndex:uniq_attempt_seq"`
	Status        AttemptStatus `json:"status" gorm:"default:in_progress;index"`

	// Timing (server clock only)
	StartedAt        time.Time  `json:"started_at" gorm:"not null"`
	SubmittedAt      *time.Time `json:"submitted_at"`
	FinalizedAt      *time.Time `json:"finalized_at"`
	TimeLimitSeconds int        `json:"time_limit_seconds"` // 0 = unlimited
	TimeSpentSeconds int        `json:"time_spent_seconds"` // capped at TimeLimitSeconds when limited

	// Frozen question set ([]SnapshotQuestion)
	QuestionSnapshot datatypes.JSON `json:"-" gorm:"type:jsonb"`

	// Passing threshold frozen at start, so later edits to the test do
	// not change the outcome of a running attempt
	PassingScorePercent int `json:"passing_score_percent"`

	// Scoring
	Score           float64 `json:"score"`
	MaxScore        float64 `json:"max_score"`
	PercentageScore int     `json:"percentage_score"`
	Passed          bool    `json:"passed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Test    Test            `json:"-" gorm:"foreignKey:TestID"`
	User    User            `json:"-" gorm:"foreignKey:UserID"`
	Answers []AttemptAnswer `json:"answers" gorm:"foreignKey:AttemptID"`
}

type AttemptAnswer struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	AttemptID     uint   `json:"attempt_id" gorm:"not null;index"`
	QuestionIndex int    `json:"question_index" gorm:"not null"` // index into the snapshot
	Answer        string `json:"answer" gorm:"type:text"`

	// Grading
	IsCorrect            *bool    `json:"is_correct"` // null until graded
	PointsAwarded        float64  `json:"points_awarded"`
	MaxPoints            float64  `json:"max_points"`
	EvaluationScore      *float64 `json:"evaluation_score"` // raw [0,1] score from the evaluator
	Feedback             *string  `json:"feedback" gorm:"type:text"`
	RequiresManualReview bool     `json:"requires_manual_review"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Attempt TestAttempt `json:"-" gorm:"foreignKey:AttemptID"`
}
