package services

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

func TestFoldAttempt_FirstAttempt(t *testing.T) {
	stats := &repositories.TestStats{TestID: 1, StatsVersion: 3}

	update := foldAttempt(stats, 80, true)

	if update.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", update.TotalAttempts)
	}
	if update.AverageScore != 80 {
		t.Errorf("AverageScore = %v, want 80", update.AverageScore)
	}
	if update.PassRate != 100 {
		t.Errorf("PassRate = %v, want 100", update.PassRate)
	}
	if update.FromVersion != 3 {
		t.Errorf("FromVersion = %d, want 3", update.FromVersion)
	}
}

func TestFoldAttempt_RunningAverage(t *testing.T) {
	stats := &repositories.TestStats{
		TotalAttempts: 4,
		AverageScore:  70,
		PassRate:      50, // 2 of 4 passed
	}

	update := foldAttempt(stats, 95, true)

	if update.TotalAttempts != 5 {
		t.Errorf("TotalAttempts = %d, want 5", update.TotalAttempts)
	}
	if update.AverageScore != 75 { // (70*4 + 95) / 5
		t.Errorf("AverageScore = %v, want 75", update.AverageScore)
	}
	if update.PassRate != 60 { // 3 of 5
		t.Errorf("PassRate = %v, want 60", update.PassRate)
	}
}

func TestFoldAttempt_FailedAttemptKeepsPassCount(t *testing.T) {
	stats := &repositories.TestStats{
		TotalAttempts: 2,
		AverageScore:  90,
		PassRate:      100,
	}

	update := foldAttempt(stats, 30, false)

	if got, want := update.PassRate, 200.0/3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("PassRate = %v, want %v", got, want)
	}
	if update.AverageScore != 70 { // (90*2 + 30) / 3
		t.Errorf("AverageScore = %v, want 70", update.AverageScore)
	}
}

// The pass count is reconstructed from the stored rate each time; a
// long run of folds must not drift.
func TestFoldAttempt_NoDriftOverManyFolds(t *testing.T) {
	stats := &repositories.TestStats{}
	passCount := 0

	for i := 0; i < 1000; i++ {
		passed := i%3 == 0
		if passed {
			passCount++
		}
		update := foldAttempt(stats, 50+i%50, passed)
		stats.TotalAttempts = update.TotalAttempts
		stats.AverageScore = update.AverageScore
		stats.PassRate = update.PassRate
	}

	if stats.TotalAttempts != 1000 {
		t.Fatalf("TotalAttempts = %d, want 1000", stats.TotalAttempts)
	}
	reconstructed := math.Round(stats.PassRate / 100 * float64(stats.TotalAttempts))
	if int(reconstructed) != passCount {
		t.Errorf("reconstructed pass count = %v, want %d", reconstructed, passCount)
	}
}

func TestFinalizeAttempt_ConcurrentDistinctAttempts(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedTest(&models.Test{ID: 1, Published: true})

	const n = 8
	for i := 1; i <= n; i++ {
		repo.seedAttempt(&models.TestAttempt{
			TestID:          1,
			UserID:          "user-1",
			AttemptNumber:   i,
			Status:          models.AttemptEvaluated,
			PercentageScore: 80,
			Passed:          true,
		})
	}

	s := NewStatsService(repo, testLogger())

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.FinalizeAttempt(context.Background(), uint(i+1))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("FinalizeAttempt(%d) error = %v", i+1, err)
		}
	}

	stats := repo.statsFor(1)
	if stats.TotalAttempts != n {
		t.Errorf("TotalAttempts = %d, want %d", stats.TotalAttempts, n)
	}
	if stats.AverageScore != 80 {
		t.Errorf("AverageScore = %v, want 80", stats.AverageScore)
	}
	if stats.PassRate != 100 {
		t.Errorf("PassRate = %v, want 100", stats.PassRate)
	}
}

func TestFinalizeAttempt_ConcurrentSameAttemptFoldsOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedTest(&models.Test{ID: 1, Published: true})
	repo.seedAttempt(&models.TestAttempt{
		TestID:          1,
		UserID:          "user-1",
		AttemptNumber:   1,
		Status:          models.AttemptEvaluated,
		PercentageScore: 90,
		Passed:          true,
	})

	s := NewStatsService(repo, testLogger())

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.FinalizeAttempt(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d error = %v", i, err)
		}
	}

	stats := repo.statsFor(1)
	if stats.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", stats.TotalAttempts)
	}
	if got := repo.attemptByID(1).Status; got != models.AttemptFinalized {
		t.Errorf("attempt status = %q, want finalized", got)
	}
}

func TestFinalizeAttempt_SecondCallIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedTest(&models.Test{ID: 1, Published: true})
	repo.seedAttempt(&models.TestAttempt{
		TestID:          1,
		UserID:          "user-1",
		AttemptNumber:   1,
		Status:          models.AttemptEvaluated,
		PercentageScore: 40,
	})

	s := NewStatsService(repo, testLogger())

	if err := s.FinalizeAttempt(context.Background(), 1); err != nil {
		t.Fatalf("first FinalizeAttempt() error = %v", err)
	}
	if err := s.FinalizeAttempt(context.Background(), 1); err != nil {
		t.Fatalf("repeated FinalizeAttempt() error = %v", err)
	}

	stats := repo.statsFor(1)
	if stats.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", stats.TotalAttempts)
	}
	if stats.AverageScore != 40 {
		t.Errorf("AverageScore = %v, want 40", stats.AverageScore)
	}
}

func TestLockForTest_SameTestSameLock(t *testing.T) {
	s := &statsService{logger: testLogger()}

	if s.lockForTest(7) != s.lockForTest(7) {
		t.Error("same test should map to the same mutex")
	}
	if s.lockForTest(7) == s.lockForTest(8) {
		t.Error("different tests should map to different mutexes")
	}
}
