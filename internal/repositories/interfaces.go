package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/learnsphere/test-engine/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type TestFilters struct {
	CourseID  *uint   `json:"course_id"`
	Published *bool   `json:"published"`
	CreatedBy *string `json:"created_by"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
	SortBy    string  `json:"sort_by"`    // "created_at", "title"
	SortOrder string  `json:"sort_order"` // "asc", "desc"
}

type AttemptFilters struct {
	Status   *models.AttemptStatus `json:"status"`
	UserID   *string               `json:"user_id"`
	TestID   *uint                 `json:"test_id"`
	DateFrom *time.Time            `json:"date_from"`
	DateTo   *time.Time            `json:"date_to"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	SortBy   string                `json:"sort_by"`
	SortOrder string               `json:"sort_order"`
}

// ===== STATISTICS STRUCTS =====

// TestStats is the aggregate read model for one test.
type TestStats struct {
	TestID        uint    `json:"test_id"`
	TotalAttempts int     `json:"total_attempts"`
	AverageScore  float64 `json:"average_score"`
	PassRate      float64 `json:"pass_rate"`
	StatsVersion  int64   `json:"-"`
}

// StatsUpdate carries new aggregate values plus the version they were
// derived from for the optimistic concurrency check.
type StatsUpdate struct {
	TotalAttempts int
	AverageScore  float64
	PassRate      float64
	FromVersion   int64
}

// ===== REPOSITORY INTERFACES =====

// TestRepository reads test definitions and maintains their aggregate
// statistics. The tx parameter joins an ongoing transaction when non-nil.
type TestRepository interface {
	Create(ctx context.Context, tx *gorm.DB, test *models.Test) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error)
	Update(ctx context.Context, tx *gorm.DB, test *models.Test) error
	List(ctx context.Context, tx *gorm.DB, filters TestFilters) ([]*models.Test, int64, error)
	ExistsByID(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	// Statistics
	GetStats(ctx context.Context, tx *gorm.DB, id uint) (*TestStats, error)
	// UpdateStats applies the update only if stats_version still equals
	// update.FromVersion; otherwise it returns ErrStatsConflict.
	UpdateStats(ctx context.Context, tx *gorm.DB, id uint, update StatsUpdate) error
}

type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error)
	GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.TestAttempt, int64, error)

	// TransitionStatus persists the attempt only if its stored status
	// still equals from. Returns ErrStatusConflict when another writer
	// transitioned the attempt first.
	TransitionStatus(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt, from models.AttemptStatus) error

	// Attempt numbering and limits
	CountByTestAndUser(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int64, error)
	GetNextAttemptNumber(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int, error)
	GetActiveAttempt(ctx context.Context, tx *gorm.DB, testID uint, userID string) (*models.TestAttempt, error)
	HasActiveAttempt(ctx context.Context, tx *gorm.DB, testID uint, userID string) (bool, error)

	// History and reporting
	GetByTestAndUser(ctx context.Context, tx *gorm.DB, testID uint, userID string) ([]*models.TestAttempt, error)
	GetBestPercentage(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int, error)
	GetFinalizedByTest(ctx context.Context, tx *gorm.DB, testID uint) ([]*models.TestAttempt, error)

	// Expiry sweep support
	GetOverdueAttempts(ctx context.Context, tx *gorm.DB, limit int) ([]*models.TestAttempt, error)

	// Answers
	CreateAnswers(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error
	UpdateAnswer(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error
	GetAnswers(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error)
}
