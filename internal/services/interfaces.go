package services

import (
	"context"
	"time"

	"github.com/learnsphere/test-engine/internal/models"
)

// ===== REQUEST DTOs =====

type StartAttemptRequest struct {
	TestID uint `json:"test_id" validate:"required"`
}

type AnswerSubmission struct {
	QuestionIndex int    `json:"question_index" validate:"min=0"`
	Answer        string `json:"answer"`
}

type SubmitAttemptRequest struct {
	Answers []AnswerSubmission `json:"answers" validate:"required,dive"`
}

// ===== RESPONSE DTOs =====

// AttemptQuestionView is one snapshot question as shown to the test
// taker: no correct answers, no evaluation criteria.
type AttemptQuestionView struct {
	QuestionIndex int                 `json:"question_index"`
	Type          models.QuestionType `json:"type"`
	Text          string              `json:"text"`
	Options       []string            `json:"options,omitempty"`
	Points        float64             `json:"points"`
}

type AttemptResponse struct {
	ID                   uint                  `json:"id"`
	TestID               uint                  `json:"test_id"`
	TestTitle            string                `json:"test_title"`
	AttemptNumber        int                   `json:"attempt_number"`
	Status               models.AttemptStatus  `json:"status"`
	StartedAt            time.Time             `json:"started_at"`
	TimeLimitSeconds     int                   `json:"time_limit_seconds"`
	TimeRemainingSeconds *int                  `json:"time_remaining_seconds,omitempty"` // nil when unlimited
	Questions            []AttemptQuestionView `json:"questions"`
}

type QuestionResult struct {
	QuestionIndex        int     `json:"question_index"`
	Answer               string  `json:"answer"`
	IsCorrect            *bool   `json:"is_correct"`
	PointsAwarded        float64 `json:"points_awarded"`
	MaxPoints            float64 `json:"max_points"`
	Feedback             *string `json:"feedback,omitempty"`
	CorrectAnswer        *string `json:"correct_answer,omitempty"` // only when the test shows correct answers
	RequiresManualReview bool    `json:"requires_manual_review"`
}

type AttemptResultResponse struct {
	AttemptID            uint                 `json:"attempt_id"`
	TestID               uint                 `json:"test_id"`
	AttemptNumber        int                  `json:"attempt_number"`
	Status               models.AttemptStatus `json:"status"`
	Score                float64              `json:"score"`
	MaxScore             float64              `json:"max_score"`
	PercentageScore      int                  `json:"percentage_score"`
	Passed               bool                 `json:"passed"`
	SubmittedAt          *time.Time           `json:"submitted_at"`
	FinalizedAt          *time.Time           `json:"finalized_at"`
	TimeSpentSeconds     int                  `json:"time_spent_seconds"`
	RequiresManualReview bool                 `json:"requires_manual_review"`
	Questions            []QuestionResult     `json:"questions"`
}

type AttemptSummary struct {
	AttemptID       uint                 `json:"attempt_id"`
	AttemptNumber   int                  `json:"attempt_number"`
	Status          models.AttemptStatus `json:"status"`
	PercentageScore int                  `json:"percentage_score"`
	Passed          bool                 `json:"passed"`
	StartedAt       time.Time            `json:"started_at"`
	SubmittedAt     *time.Time           `json:"submitted_at"`
}

type AttemptHistoryResponse struct {
	TestID            uint             `json:"test_id"`
	AttemptsUsed      int              `json:"attempts_used"`
	MaxAttempts       int              `json:"max_attempts"`
	RemainingAttempts int              `json:"remaining_attempts"`
	AllowRetake       bool             `json:"allow_retake"`
	BestPercentage    int              `json:"best_percentage"`
	Passed            bool             `json:"passed"`
	Attempts          []AttemptSummary `json:"attempts"`
}

type TimeRemainingResponse struct {
	AttemptID            uint `json:"attempt_id"`
	TimeRemainingSeconds *int `json:"time_remaining_seconds"` // nil when unlimited
	Expired              bool `json:"expired"`
}

type TestStatsResponse struct {
	TestID        uint    `json:"test_id"`
	TotalAttempts int     `json:"total_attempts"`
	AverageScore  float64 `json:"average_score"`
	PassRate      float64 `json:"pass_rate"`
}

// ===== EVALUATION COORDINATION =====

// EvaluationJob is one open-ended answer queued for AI evaluation.
type EvaluationJob struct {
	AnswerIndex int
	Question    models.SnapshotQuestion
	Answer      string
}

// EvaluationOutcome is the result for one job. Degraded means the
// evaluator could not produce a usable result and the answer needs
// manual review.
type EvaluationOutcome struct {
	AnswerIndex int
	Score       float64
	Feedback    string
	Degraded    bool
}

// ===== SERVICE INTERFACES =====

type AttemptService interface {
	Start(ctx context.Context, req *StartAttemptRequest, userID string) (*AttemptResponse, error)
	Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, userID string) (*AttemptResultResponse, error)
	GetByID(ctx context.Context, attemptID uint, userID string) (*AttemptResultResponse, error)
	GetHistory(ctx context.Context, testID uint, userID string) (*AttemptHistoryResponse, error)
	GetTimeRemaining(ctx context.Context, attemptID uint, userID string) (*TimeRemainingResponse, error)

	// HandleTimeout expires one overdue attempt.
	HandleTimeout(ctx context.Context, attemptID uint) error
	// ExpireOverdueAttempts sweeps all overdue attempts, returning how
	// many were expired.
	ExpireOverdueAttempts(ctx context.Context) (int, error)
}

type GradingService interface {
	// GradeAttempt grades every answer of a submitted attempt against
	// its frozen snapshot and moves the attempt to the evaluated state.
	GradeAttempt(ctx context.Context, attemptID uint) error
}

// EvaluationCoordinator fans open-ended answers out to the AI evaluator
// with bounded concurrency.
type EvaluationCoordinator interface {
	EvaluateBatch(ctx context.Context, jobs []EvaluationJob) []EvaluationOutcome
}

type StatsService interface {
	// FinalizeAttempt folds an evaluated attempt into the test's
	// aggregate statistics and marks it finalized. Calling it again on
	// a finalized attempt is a no-op.
	FinalizeAttempt(ctx context.Context, attemptID uint) error
	GetTestStats(ctx context.Context, testID uint) (*TestStatsResponse, error)
}

type ReportService interface {
	// ExportTestResults renders all finalized attempts of a test as an
	// xlsx workbook. Returns the file bytes and a suggested filename.
	ExportTestResults(ctx context.Context, testID uint, requesterID string) ([]byte, string, error)
}

// ServiceManager provides access to all services.
type ServiceManager interface {
	Attempt() AttemptService
	Grading() GradingService
	Stats() StatsService
	Report() ReportService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
