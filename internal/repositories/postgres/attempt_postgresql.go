package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/learnsphere/test-engine/internal/cache"
	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
	inTx         bool
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return newAttemptPostgreSQL(db, redisClient, false)
}

func newAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client, inTx bool) *AttemptPostgreSQL {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
		inTx:         inTx,
	}
}

func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return err
	}
	cache.SafeInvalidatePattern(ctx, a.cacheManager.Attempt,
		fmt.Sprintf("history:%d:%s*", attempt.TestID, attempt.UserID))
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id uint) (*models.TestAttempt, error) {
	key := fmt.Sprintf("id:%d:answers", id)

	// Only finalized attempts are cached; they no longer change
	if tx == nil && !a.inTx {
		var cached models.TestAttempt
		if err := a.cacheManager.Attempt.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_index ASC")
		}).
		First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt with answers: %w", err)
	}

	if tx == nil && !a.inTx && attempt.Status == models.AttemptFinalized {
		cache.SafeSet(ctx, a.cacheManager.Attempt, key, &attempt, cache.AttemptCacheConfig.TTL)
	}

	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Save(attempt).Error; err != nil {
		return err
	}
	cache.SafeDelete(ctx, a.cacheManager.Attempt,
		fmt.Sprintf("id:%d", attempt.ID),
		fmt.Sprintf("id:%d:answers", attempt.ID))
	return nil
}

// TransitionStatus writes the attempt guarded by its current status, so
// two writers racing through the same transition cannot both apply it.
func (a *AttemptPostgreSQL) TransitionStatus(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt, from models.AttemptStatus) error {
	db := a.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("id = ? AND status = ?", attempt.ID, from).
		Select("*").
		Omit("id", "created_at", "Test", "User", "Answers").
		Updates(attempt)
	if result.Error != nil {
		return fmt.Errorf("failed to transition attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrStatusConflict
	}

	cache.SafeDelete(ctx, a.cacheManager.Attempt,
		fmt.Sprintf("id:%d", attempt.ID),
		fmt.Sprintf("id:%d:answers", attempt.ID))
	return nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	var total int64

	query := db.WithContext(ctx).Model(&models.TestAttempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) CountByTestAndUser(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int64, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND user_id = ?", testID, userID).
		Count(&count).Error
	return count, err
}

// GetNextAttemptNumber returns max(attempt_number)+1 so numbering stays
// gap-free even after attempts end in expired or rejected states.
func (a *AttemptPostgreSQL) GetNextAttemptNumber(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int, error) {
	db := a.getDB(tx)
	var maxNumber int
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND user_id = ?", testID, userID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get next attempt number: %w", err)
	}
	return maxNumber + 1, nil
}

func (a *AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, tx *gorm.DB, testID uint, userID string) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Where("test_id = ? AND user_id = ? AND status = ?", testID, userID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) HasActiveAttempt(ctx context.Context, tx *gorm.DB, testID uint, userID string) (bool, error) {
	db := a.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND user_id = ? AND status = ?", testID, userID, models.AttemptInProgress).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *AttemptPostgreSQL) GetByTestAndUser(ctx context.Context, tx *gorm.DB, testID uint, userID string) ([]*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	if err := db.WithContext(ctx).
		Where("test_id = ? AND user_id = ?", testID, userID).
		Order("attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get attempts by test and user: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) GetBestPercentage(ctx context.Context, tx *gorm.DB, testID uint, userID string) (int, error) {
	db := a.getDB(tx)
	var best int
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("test_id = ? AND user_id = ? AND status = ?", testID, userID, models.AttemptFinalized).
		Select("COALESCE(MAX(percentage_score), 0)").
		Scan(&best).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get best percentage: %w", err)
	}
	return best, nil
}

func (a *AttemptPostgreSQL) GetFinalizedByTest(ctx context.Context, tx *gorm.DB, testID uint) ([]*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	if err := db.WithContext(ctx).
		Where("test_id = ? AND status = ?", testID, models.AttemptFinalized).
		Preload("User").
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_index ASC")
		}).
		Order("user_id ASC, attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get finalized attempts: %w", err)
	}
	return attempts, nil
}

// GetOverdueAttempts returns in-progress attempts whose time limit has
// elapsed. Unlimited attempts (time_limit_seconds = 0) are never overdue.
func (a *AttemptPostgreSQL) GetOverdueAttempts(ctx context.Context, tx *gorm.DB, limit int) ([]*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	query := db.WithContext(ctx).
		Where("status = ? AND time_limit_seconds > 0", models.AttemptInProgress).
		Where("started_at + (time_limit_seconds || ' seconds')::interval < ?", time.Now()).
		Order("started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get overdue attempts: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) CreateAnswers(ctx context.Context, tx *gorm.DB, answers []*models.AttemptAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	db := a.getDB(tx)
	return db.WithContext(ctx).Create(&answers).Error
}

func (a *AttemptPostgreSQL) UpdateAnswer(ctx context.Context, tx *gorm.DB, answer *models.AttemptAnswer) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Save(answer).Error
}

func (a *AttemptPostgreSQL) GetAnswers(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptAnswer, error) {
	db := a.getDB(tx)
	var answers []*models.AttemptAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_index ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	return answers, nil
}
