package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

// statsUpdateMaxRetries bounds how many times a finalization retries
// the optimistic stats write before giving up.
const statsUpdateMaxRetries = 5

// errAlreadyFinalized signals that another writer finalized the attempt
// while this one was working. Mapped to a no-op, never surfaced.
var errAlreadyFinalized = errors.New("attempt already finalized")

type statsService struct {
	repo   repositories.Repository
	logger *slog.Logger

	// One mutex per test serializes local finalizations; the
	// stats_version check catches writers on other instances.
	testLocks sync.Map // uint -> *sync.Mutex
}

func NewStatsService(repo repositories.Repository, logger *slog.Logger) StatsService {
	return &statsService{
		repo:   repo,
		logger: logger,
	}
}

func (s *statsService) FinalizeAttempt(ctx context.Context, attemptID uint) error {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	// Already folded in, nothing to do
	if attempt.Status == models.AttemptFinalized {
		return nil
	}
	if attempt.Status != models.AttemptEvaluated {
		return ErrAttemptNotActive
	}

	lock := s.lockForTest(attempt.TestID)
	lock.Lock()
	defer lock.Unlock()

	for retry := 0; retry < statsUpdateMaxRetries; retry++ {
		err := s.finalizeOnce(ctx, attemptID)
		if errors.Is(err, errAlreadyFinalized) {
			return nil
		}
		if err == nil {
			s.logger.Info("Attempt finalized",
				"attempt_id", attempt.ID,
				"test_id", attempt.TestID,
				"percentage", attempt.PercentageScore,
				"passed", attempt.Passed)
			return nil
		}
		if !errors.Is(err, repositories.ErrStatsConflict) {
			return err
		}
		s.logger.Warn("Stats version conflict, retrying",
			"test_id", attempt.TestID, "retry", retry+1)
	}
	return ErrStatsUpdateConflict
}

// finalizeOnce re-reads the attempt, marks it finalized guarded by its
// status, and folds its percentage into the test aggregates, all in one
// transaction. The status guard makes a concurrent double-finalize roll
// the whole fold back instead of counting the attempt twice.
func (s *statsService) finalizeOnce(ctx context.Context, attemptID uint) error {
	now := time.Now()
	return s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		attempt, err := txRepo.Attempt().GetByID(ctx, nil, attemptID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("failed to get attempt: %w", err)
		}
		if attempt.Status == models.AttemptFinalized {
			return errAlreadyFinalized
		}
		if attempt.Status != models.AttemptEvaluated {
			return ErrAttemptNotActive
		}

		stats, err := txRepo.Test().GetStats(ctx, nil, attempt.TestID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrTestNotFound
			}
			return fmt.Errorf("failed to get test stats: %w", err)
		}

		update := foldAttempt(stats, attempt.PercentageScore, attempt.Passed)

		attempt.Status = models.AttemptFinalized
		attempt.FinalizedAt = &now
		err = txRepo.Attempt().TransitionStatus(ctx, nil, attempt, models.AttemptEvaluated)
		if errors.Is(err, repositories.ErrStatusConflict) {
			return errAlreadyFinalized
		}
		if err != nil {
			return fmt.Errorf("failed to finalize attempt: %w", err)
		}
		return txRepo.Test().UpdateStats(ctx, nil, attempt.TestID, update)
	})
}

func (s *statsService) GetTestStats(ctx context.Context, testID uint) (*TestStatsResponse, error) {
	stats, err := s.repo.Test().GetStats(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test stats: %w", err)
	}
	return &TestStatsResponse{
		TestID:        stats.TestID,
		TotalAttempts: stats.TotalAttempts,
		AverageScore:  stats.AverageScore,
		PassRate:      stats.PassRate,
	}, nil
}

func (s *statsService) lockForTest(testID uint) *sync.Mutex {
	lock, _ := s.testLocks.LoadOrStore(testID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// foldAttempt computes the next aggregate values from the current ones
// without rescanning past attempts. The pass count is reconstructed
// from the stored rate, so rates stay exact fractions of the total.
func foldAttempt(stats *repositories.TestStats, percentage int, passed bool) repositories.StatsUpdate {
	n := float64(stats.TotalAttempts)

	passCount := math.Round(stats.PassRate / 100 * n)
	if passed {
		passCount++
	}

	return repositories.StatsUpdate{
		TotalAttempts: stats.TotalAttempts + 1,
		AverageScore:  (stats.AverageScore*n + float64(percentage)) / (n + 1),
		PassRate:      passCount / (n + 1) * 100,
		FromVersion:   stats.StatsVersion,
	}
}
