package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/learnsphere/test-engine/internal/cache"
	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

type TestPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
	inTx         bool
}

func NewTestPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.TestRepository {
	return newTestPostgreSQL(db, redisClient, false)
}

func newTestPostgreSQL(db *gorm.DB, redisClient *redis.Client, inTx bool) *TestPostgreSQL {
	return &TestPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
		inTx:         inTx,
	}
}

func (t *TestPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return t.db
}

func (t *TestPostgreSQL) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	db := t.getDB(tx)
	return db.WithContext(ctx).Create(test).Error
}

func (t *TestPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	// Transactional reads bypass the cache to keep snapshot isolation
	if tx != nil || t.inTx {
		return t.fetchByID(ctx, tx, id)
	}

	var test models.Test
	err := t.cacheManager.Test.CacheOrExecute(ctx, fmt.Sprintf("id:%d", id), &test, cache.TestCacheConfig.TTL, func() (interface{}, error) {
		return t.fetchByID(ctx, nil, id)
	})
	if err != nil {
		return nil, err
	}
	return &test, nil
}

func (t *TestPostgreSQL) fetchByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	db := t.getDB(tx)
	var test models.Test
	if err := db.WithContext(ctx).First(&test, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return &test, nil
}

func (t *TestPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Test, error) {
	db := t.getDB(tx)
	var test models.Test
	if err := db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&test, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test with questions: %w", err)
	}
	return &test, nil
}

func (t *TestPostgreSQL) Update(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	db := t.getDB(tx)
	if err := db.WithContext(ctx).Save(test).Error; err != nil {
		return err
	}
	cache.SafeDelete(ctx, t.cacheManager.Test, fmt.Sprintf("id:%d", test.ID))
	return nil
}

func (t *TestPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	db := t.getDB(tx)
	var tests []*models.Test
	var total int64

	query := db.WithContext(ctx).Model(&models.Test{})
	query = t.helpers.ApplyTestFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = t.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&tests).Error; err != nil {
		return nil, 0, err
	}

	return tests, total, nil
}

func (t *TestPostgreSQL) ExistsByID(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := t.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.Test{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *TestPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, id uint) (*repositories.TestStats, error) {
	if tx != nil || t.inTx {
		return t.fetchStats(ctx, tx, id)
	}

	var stats repositories.TestStats
	err := t.cacheManager.Stats.CacheOrExecute(ctx, fmt.Sprintf("test:%d", id), &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		return t.fetchStats(ctx, nil, id)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (t *TestPostgreSQL) fetchStats(ctx context.Context, tx *gorm.DB, id uint) (*repositories.TestStats, error) {
	db := t.getDB(tx)
	var test models.Test
	if err := db.WithContext(ctx).
		Select("id, total_attempts, average_score, pass_rate, stats_version").
		First(&test, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test stats: %w", err)
	}

	return &repositories.TestStats{
		TestID:        test.ID,
		TotalAttempts: test.TotalAttempts,
		AverageScore:  test.AverageScore,
		PassRate:      test.PassRate,
		StatsVersion:  test.StatsVersion,
	}, nil
}

// UpdateStats performs a compare-and-swap on stats_version. Zero rows
// affected means another writer got there first.
func (t *TestPostgreSQL) UpdateStats(ctx context.Context, tx *gorm.DB, id uint, update repositories.StatsUpdate) error {
	db := t.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.Test{}).
		Where("id = ? AND stats_version = ?", id, update.FromVersion).
		Updates(map[string]interface{}{
			"total_attempts": update.TotalAttempts,
			"average_score":  update.AverageScore,
			"pass_rate":      update.PassRate,
			"stats_version":  gorm.Expr("stats_version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update test stats: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrStatsConflict
	}

	cache.SafeInvalidatePattern(ctx, t.cacheManager.Stats, fmt.Sprintf("test:%d*", id))
	return nil
}
