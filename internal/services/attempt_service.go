package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/learnsphere/test-engine/internal/events"
	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
	"github.com/learnsphere/test-engine/internal/validator"
)

// overdueSweepBatchSize bounds how many attempts one sweep pass loads.
const overdueSweepBatchSize = 100

type attemptService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	grading   GradingService
	stats     StatsService
	publisher events.EventPublisher
}

func NewAttemptService(
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	grading GradingService,
	stats StatsService,
	publisher events.EventPublisher,
) AttemptService {
	return &attemptService{
		repo:      repo,
		logger:    logger,
		validator: validator,
		grading:   grading,
		stats:     stats,
		publisher: publisher,
	}
}

// ===== LIFECYCLE OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, userID string) (*AttemptResponse, error) {
	s.logger.Info("Starting attempt", "test_id", req.TestID, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	test, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, req.TestID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	if !test.Published {
		return nil, ErrTestNotPublished
	}
	if len(test.Questions) == 0 {
		return nil, ErrTestHasNoQuestions
	}

	var attempt *models.TestAttempt
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		active, err := txRepo.Attempt().HasActiveAttempt(ctx, nil, test.ID, userID)
		if err != nil {
			return fmt.Errorf("failed to check active attempt: %w", err)
		}
		if active {
			return ErrAttemptAlreadyActive
		}

		// AllowRetake governs whether retaking is offered at all; it
		// never raises the attempt ceiling.
		used, err := txRepo.Attempt().CountByTestAndUser(ctx, nil, test.ID, userID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}
		if used >= int64(test.MaxAttempts) {
			return ErrAttemptLimitExceeded
		}

		number, err := txRepo.Attempt().GetNextAttemptNumber(ctx, nil, test.ID, userID)
		if err != nil {
			return fmt.Errorf("failed to allocate attempt number: %w", err)
		}

		snapshot, err := buildQuestionSnapshot(test)
		if err != nil {
			return err
		}

		attempt = &models.TestAttempt{
			TestID:              test.ID,
			UserID:              userID,
			AttemptNumber:       number,
			Status:              models.AttemptInProgress,
			StartedAt:           time.Now(),
			TimeLimitSeconds:    test.TimeLimitMinutes * 60,
			QuestionSnapshot:    snapshot,
			PassingScorePercent: test.PassingScorePercent,
		}
		if err := txRepo.Attempt().Create(ctx, nil, attempt); err != nil {
			// The unique (test, user, attempt_number) index turns a
			// concurrent start into a plain insert failure here
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAttemptAlreadyActive
			}
			return fmt.Errorf("failed to create attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.NewEvent(events.TypeAttemptStarted, events.AttemptStartedEvent{
		AttemptID:     attempt.ID,
		TestID:        test.ID,
		UserID:        userID,
		AttemptNumber: attempt.AttemptNumber,
	}))

	return s.buildAttemptResponse(attempt, test.Title)
}

func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, userID string) (*AttemptResultResponse, error) {
	s.logger.Info("Submitting attempt", "attempt_id", attemptID, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	attempt, err := s.getOwnedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != models.AttemptInProgress {
		if attempt.Status == models.AttemptExpired {
			return nil, ErrAttemptTimeExpired
		}
		return nil, ErrAttemptAlreadySubmitted
	}

	// Server clock decides; a client-side timer is advisory only
	if attemptDeadlinePassed(attempt, time.Now()) {
		if err := s.expireAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		return nil, ErrAttemptTimeExpired
	}

	snapshot, err := decodeSnapshot(attempt)
	if err != nil {
		return nil, err
	}

	// Reject the whole submission before persisting anything
	if err := validateSubmission(req, snapshot); err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		// Claim the attempt first; a racing duplicate submit loses the
		// status guard before any answer row exists
		attempt.Status = models.AttemptSubmitted
		attempt.SubmittedAt = &now
		attempt.TimeSpentSeconds = timeSpentSeconds(attempt, now)
		if err := txRepo.Attempt().TransitionStatus(ctx, nil, attempt, models.AttemptInProgress); err != nil {
			return err
		}

		answers := buildAnswerRows(attempt.ID, req, snapshot)
		if err := txRepo.Attempt().CreateAnswers(ctx, nil, answers); err != nil {
			return fmt.Errorf("failed to save answers: %w", err)
		}
		return nil
	})
	if errors.Is(err, repositories.ErrStatusConflict) {
		return nil, ErrAttemptAlreadySubmitted
	}
	if err != nil {
		return nil, err
	}

	if err := s.grading.GradeAttempt(ctx, attempt.ID); err != nil {
		return nil, fmt.Errorf("failed to grade attempt: %w", err)
	}
	if err := s.stats.FinalizeAttempt(ctx, attempt.ID); err != nil {
		return nil, fmt.Errorf("failed to finalize attempt: %w", err)
	}

	graded, err := s.repo.Attempt().GetByIDWithAnswers(ctx, nil, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload attempt: %w", err)
	}

	s.publishEvent(ctx, events.NewEvent(events.TypeAttemptFinalized, events.AttemptFinalizedEvent{
		AttemptID:       graded.ID,
		TestID:          graded.TestID,
		UserID:          graded.UserID,
		AttemptNumber:   graded.AttemptNumber,
		Score:           graded.Score,
		MaxScore:        graded.MaxScore,
		PercentageScore: graded.PercentageScore,
		Passed:          graded.Passed,
	}))

	return s.buildResultResponse(ctx, graded)
}

// ===== READ OPERATIONS =====

func (s *attemptService) GetByID(ctx context.Context, attemptID uint, userID string) (*AttemptResultResponse, error) {
	attempt, err := s.repo.Attempt().GetByIDWithAnswers(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, ErrAttemptAccessDenied
	}
	return s.buildResultResponse(ctx, attempt)
}

func (s *attemptService) GetHistory(ctx context.Context, testID uint, userID string) (*AttemptHistoryResponse, error) {
	test, err := s.repo.Test().GetByID(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	attempts, err := s.repo.Attempt().GetByTestAndUser(ctx, nil, testID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt history: %w", err)
	}

	best, err := s.repo.Attempt().GetBestPercentage(ctx, nil, testID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get best percentage: %w", err)
	}

	history := &AttemptHistoryResponse{
		TestID:         testID,
		AttemptsUsed:   len(attempts),
		MaxAttempts:    test.MaxAttempts,
		AllowRetake:    test.AllowRetake,
		BestPercentage: best,
		Attempts:       make([]AttemptSummary, 0, len(attempts)),
	}
	if remaining := test.MaxAttempts - len(attempts); remaining > 0 {
		history.RemainingAttempts = remaining
	}
	for _, a := range attempts {
		if a.Status == models.AttemptFinalized && a.Passed {
			history.Passed = true
		}
		history.Attempts = append(history.Attempts, AttemptSummary{
			AttemptID:       a.ID,
			AttemptNumber:   a.AttemptNumber,
			Status:          a.Status,
			PercentageScore: a.PercentageScore,
			Passed:          a.Passed,
			StartedAt:       a.StartedAt,
			SubmittedAt:     a.SubmittedAt,
		})
	}
	return history, nil
}

func (s *attemptService) GetTimeRemaining(ctx context.Context, attemptID uint, userID string) (*TimeRemainingResponse, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	resp := &TimeRemainingResponse{AttemptID: attempt.ID}
	if attempt.Status == models.AttemptExpired {
		resp.Expired = true
		resp.TimeRemainingSeconds = intPtr(0)
		return resp, nil
	}
	if attempt.TimeLimitSeconds == 0 {
		return resp, nil
	}

	remaining := attemptTimeRemaining(attempt, time.Now())
	if remaining <= 0 && attempt.Status == models.AttemptInProgress {
		resp.Expired = true
		remaining = 0
	}
	resp.TimeRemainingSeconds = intPtr(remaining)
	return resp, nil
}

// ===== EXPIRY =====

func (s *attemptService) HandleTimeout(ctx context.Context, attemptID uint) error {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.Status != models.AttemptInProgress {
		return nil
	}
	if !attemptDeadlinePassed(attempt, time.Now()) {
		return ErrAttemptNotActive
	}
	return s.expireAttempt(ctx, attempt)
}

func (s *attemptService) ExpireOverdueAttempts(ctx context.Context) (int, error) {
	expired := 0
	for {
		overdue, err := s.repo.Attempt().GetOverdueAttempts(ctx, nil, overdueSweepBatchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to list overdue attempts: %w", err)
		}
		if len(overdue) == 0 {
			return expired, nil
		}
		for _, attempt := range overdue {
			if err := s.expireAttempt(ctx, attempt); err != nil {
				s.logger.Error("Failed to expire attempt", "attempt_id", attempt.ID, "error", err)
				continue
			}
			expired++
		}
		if len(overdue) < overdueSweepBatchSize {
			return expired, nil
		}
	}
}

func (s *attemptService) expireAttempt(ctx context.Context, attempt *models.TestAttempt) error {
	attempt.Status = models.AttemptExpired
	if attempt.TimeLimitSeconds > 0 {
		attempt.TimeSpentSeconds = attempt.TimeLimitSeconds
	}
	err := s.repo.Attempt().TransitionStatus(ctx, nil, attempt, models.AttemptInProgress)
	if errors.Is(err, repositories.ErrStatusConflict) {
		// Someone else expired or submitted it in the meantime
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to expire attempt: %w", err)
	}

	s.logger.Info("Attempt expired", "attempt_id", attempt.ID, "test_id", attempt.TestID)
	s.publishEvent(ctx, events.NewEvent(events.TypeAttemptExpired, events.AttemptExpiredEvent{
		AttemptID: attempt.ID,
		TestID:    attempt.TestID,
		UserID:    attempt.UserID,
	}))
	return nil
}

// publishEvent logs instead of failing: events are best effort and
// never block the attempt lifecycle.
func (s *attemptService) publishEvent(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
