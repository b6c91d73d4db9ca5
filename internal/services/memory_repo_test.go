package services

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

// memoryRepo is an in-memory repositories.Repository for exercising
// service flows, including concurrent ones, without a database. The
// guarded writes behave like their postgres counterparts: status
// transitions check the stored status and stats updates check the
// version, so races resolve the same way they would against the real
// store.
type memoryRepo struct {
	mu       sync.Mutex
	tests    map[uint]*models.Test
	stats    map[uint]*repositories.TestStats
	attempts map[uint]*models.TestAttempt
	answers  map[uint][]*models.AttemptAnswer
	nextID   uint

	// forcedAttemptNumber, when non-zero, makes GetNextAttemptNumber
	// return a stale value, reproducing two starts racing for the same
	// slot.
	forcedAttemptNumber int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tests:    make(map[uint]*models.Test),
		stats:    make(map[uint]*repositories.TestStats),
		attempts: make(map[uint]*models.TestAttempt),
		answers:  make(map[uint][]*models.AttemptAnswer),
	}
}

func (m *memoryRepo) seedTest(test *models.Test) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[test.ID] = test
	m.stats[test.ID] = &repositories.TestStats{
		TestID:        test.ID,
		TotalAttempts: test.TotalAttempts,
		AverageScore:  test.AverageScore,
		PassRate:      test.PassRate,
		StatsVersion:  test.StatsVersion,
	}
}

func (m *memoryRepo) seedAttempt(attempt *models.TestAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt.ID == 0 {
		m.nextID++
		attempt.ID = m.nextID
	} else if attempt.ID > m.nextID {
		m.nextID = attempt.ID
	}
	m.attempts[attempt.ID] = attempt
}

func (m *memoryRepo) statsFor(testID uint) repositories.TestStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.stats[testID]
}

func (m *memoryRepo) attemptByID(id uint) models.TestAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.attempts[id]
}

func (m *memoryRepo) answersFor(attemptID uint) []*models.AttemptAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers[attemptID]
}

func (m *memoryRepo) Test() repositories.TestRepository       { return &memoryTestRepo{m} }
func (m *memoryRepo) Attempt() repositories.AttemptRepository { return &memoryAttemptRepo{m} }
func (m *memoryRepo) User() repositories.UserRepository       { return nil }

func (m *memoryRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *memoryRepo) Ping(ctx context.Context) error { return nil }
func (m *memoryRepo) Close() error                   { return nil }

// ===== TEST REPOSITORY =====

type memoryTestRepo struct {
	r *memoryRepo
}

func (t *memoryTestRepo) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	t.r.seedTest(test)
	return nil
}

func (t *memoryTestRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	test, ok := t.r.tests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *test
	return &copied, nil
}

func (t *memoryTestRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	return t.GetByID(ctx, tx, id)
}

func (t *memoryTestRepo) Update(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	copied := *test
	t.r.tests[test.ID] = &copied
	return nil
}

func (t *memoryTestRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	return nil, 0, nil
}

func (t *memoryTestRepo) ExistsByID(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	_, ok := t.r.tests[id]
	return ok, nil
}

func (t *memoryTestRepo) GetStats(ctx context.Context, tx *gorm.DB, id uint) (*repositories.TestStats, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	stats, ok := t.r.stats[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *stats
	return &copied, nil
}

func (t *memoryTestRepo) UpdateStats(ctx context.Context, tx *gorm.DB, id uint, update repositories.StatsUpdate) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	stats, ok := t.r.stats[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if stats.StatsVersion != update.FromVersion {
		return repositories.ErrStatsConflict
	}
	stats.TotalAttempts = update.TotalAttempts
	stats.AverageScore = update.AverageScore
	stats.PassRate = update.PassRate
	stats.StatsVersion++
	return nil
}

// ===== ATTEMPT REPOSITORY =====

type memoryAttemptRepo struct {
	r *memoryRepo
}

func (a *memoryAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	for _, existing := range a.r.attempts {
		if existing.TestID == attempt.TestID &&
			existing.UserID == attempt.UserID &&
			existing.AttemptNumber == attempt.AttemptNumber {
			return gorm.ErrDuplicatedKey
		}
	}
	a.r.nextID++
	attempt.ID = a.r.nextID
	copied := *attempt
	a.r.attempts[attempt.ID] = &copied
	return nil
}

func (a *memoryAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	attempt, ok := a.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (a *memoryAttemptRepo) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	attempt, ok := a.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *attempt
	copied.Answers = make([]models.AttemptAnswer, 0, len(a.r.answers[id]))
	for _, answer := range a.r.answers[id] {
		copied.Answers = append(copied.Answers, *answer)
	}
	return &copied, nil
}

func (a *memoryAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	copied := *attempt
	a.r.attempts[attempt.ID] = &copied
	return nil
}

func (a *memoryAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	return nil, 0, nil
}

func (a *memoryAttemptRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt, from models.AttemptStatus) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	stored, ok := a.r.attempts[attempt.ID]
	if !ok || stored.Status != from {
		return repositories.ErrStatusConflict
	}
	copied := *attempt
	a.r.attempts[attempt.ID] = &copied
	return nil
}

func (a *memoryAttemptRepo) CountByTestAndUser(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int64, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	var count int64
	for _, attempt := range a.r.attempts {
		if attempt.TestID == testID && attempt.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (a *memoryAttemptRepo) GetNextAttemptNumber(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	if a.r.forcedAttemptNumber != 0 {
		return a.r.forcedAttemptNumber, nil
	}
	max := 0
	for _, attempt := range a.r.attempts {
		if attempt.TestID == testID && attempt.UserID == userID && attempt.AttemptNumber > max {
			max = attempt.AttemptNumber
		}
	}
	return max + 1, nil
}

func (a *memoryAttemptRepo) GetActiveAttempt(ctx context.Context, tx *gorm.DB, testID uint, userID string) (*models.TestAttempt, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	for _, attempt := range a.r.attempts {
		if attempt.TestID == testID && attempt.UserID == userID && attempt.Status == models.AttemptInProgress {
			copied := *attempt
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (a *memoryAttemptRepo) HasActiveAttempt(ctx context.Context, tx *gorm.DB, testID uint, userID string) (bool, error) {
	_, err := a.GetActiveAttempt(ctx, tx, testID, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *memoryAttemptRepo) GetByTestAndUser(ctx context.Context, tx *gorm.DB, testID uint, userID string) ([]*models.TestAttempt, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	var out []*models.TestAttempt
	for _, attempt := range a.r.attempts {
		if attempt.TestID == testID && attempt.UserID == userID {
			copied := *attempt
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (a *memoryAttemptRepo) GetBestPercentage(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	best := 0
	for _, attempt := range a.r.attempts {
		if attempt.TestID == testID && attempt.UserID == userID &&
			attempt.Status == models.AttemptFinalized && attempt.PercentageScore > best {
			best = attempt.PercentageScore
		}
	}
	return best, nil
}

func (a *memoryAttemptRepo) GetFinalizedByTest(ctx context.Context, tx *gorm.DB, testID uint) ([]*models.TestAttempt, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	var out []*models.TestAttempt
	for _, attempt := range a.r.attempts {
		if attempt.TestID == testID && attempt.Status == models.AttemptFinalized {
			copied := *attempt
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (a *memoryAttemptRepo) GetOverdueAttempts(ctx context.Context, tx *gorm.DB, limit int) ([]*models.TestAttempt, error) {
	return nil, nil
}

func (a *memoryAttemptRepo) CreateAnswers(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	for _, answer := range answers {
		copied := *answer
		a.r.answers[answer.AttemptID] = append(a.r.answers[answer.AttemptID], &copied)
	}
	return nil
}

func (a *memoryAttemptRepo) UpdateAnswer(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	for i, existing := range a.r.answers[answer.AttemptID] {
		if existing.QuestionIndex == answer.QuestionIndex {
			copied := *answer
			a.r.answers[answer.AttemptID][i] = &copied
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (a *memoryAttemptRepo) GetAnswers(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	out := make([]*models.AttemptAnswer, 0, len(a.r.answers[attemptID]))
	for _, answer := range a.r.answers[attemptID] {
		copied := *answer
		out = append(out, &copied)
	}
	return out, nil
}

// ===== SERVICE STUBS =====

type stubGradingService struct {
	mu    sync.Mutex
	calls int
}

func (g *stubGradingService) GradeAttempt(ctx context.Context, attemptID uint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return nil
}

func (g *stubGradingService) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubStatsService struct{}

func (stubStatsService) FinalizeAttempt(ctx context.Context, attemptID uint) error { return nil }

func (stubStatsService) GetTestStats(ctx context.Context, testID uint) (*TestStatsResponse, error) {
	return nil, nil
}
