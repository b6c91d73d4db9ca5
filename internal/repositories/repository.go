package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Domain-level persistence errors.
var (
	ErrNotFound = errors.New("record not found")

	// ErrStatsConflict is returned when an optimistic stats update loses
	// the version check. Callers retry with freshly loaded values.
	ErrStatsConflict = errors.New("stats version conflict")

	// ErrStatusConflict is returned when a conditional status transition
	// matches no row: another writer moved the attempt first.
	ErrStatusConflict = errors.New("attempt status conflict")
)

// IsNotFoundError matches both the domain error and gorm's sentinel.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// Repository aggregates all repository interfaces.
type Repository interface {
	Test() TestRepository
	Attempt() AttemptRepository

	// User domain (read-only, users are owned by the identity provider)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
