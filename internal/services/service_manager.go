package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/learnsphere/test-engine/internal/evaluation"
	"github.com/learnsphere/test-engine/internal/events"
	"github.com/learnsphere/test-engine/internal/repositories"
	"github.com/learnsphere/test-engine/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Evaluator fan-out settings
	Evaluation CoordinatorConfig

	// Global settings
	DefaultTimeout time.Duration
}

// Validate checks the configuration before Initialize uses it.
func (config *ServiceManagerConfig) Validate() error {
	if config.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be positive")
	}
	if config.Evaluation.Workers <= 0 {
		return fmt.Errorf("evaluation workers must be positive")
	}
	if config.Evaluation.MaxRetries < 0 {
		return fmt.Errorf("evaluation max retries cannot be negative")
	}
	return nil
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	evaluator evaluation.Evaluator
	publisher events.EventPublisher
	config    ServiceManagerConfig

	// Service instances
	attemptService AttemptService
	gradingService GradingService
	statsService   StatsService
	reportService  ReportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	evaluator evaluation.Evaluator,
	publisher events.EventPublisher,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		repo:      repo,
		logger:    logger,
		validator: validator,
		evaluator: evaluator,
		publisher: publisher,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	evaluator evaluation.Evaluator,
	publisher events.EventPublisher,
) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,
		Evaluation:         DefaultCoordinatorConfig(),
		DefaultTimeout:     30 * time.Second,
	}
	return NewServiceManager(repo, logger, validator, evaluator, publisher, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if err := sm.config.Validate(); err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	coordinator := NewEvaluationCoordinator(sm.evaluator, sm.config.Evaluation, sm.logger)

	sm.gradingService = NewGradingService(sm.repo, sm.logger, coordinator)
	sm.logger.Info("Grading service initialized")

	sm.statsService = NewStatsService(sm.repo, sm.logger)
	sm.logger.Info("Stats service initialized")

	sm.attemptService = NewAttemptService(sm.repo, sm.logger, sm.validator, sm.gradingService, sm.statsService, sm.publisher)
	sm.logger.Info("Attempt service initialized")

	sm.reportService = NewReportService(sm.repo, sm.logger)
	sm.logger.Info("Report service initialized")

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters
func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.attemptService
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.gradingService
}

func (sm *serviceManager) Stats() StatsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.statsService
}

func (sm *serviceManager) Report() ReportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.reportService
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if repoManager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := repoManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("repository health check failed: %w", err)
		}
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if repoManager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := repoManager.Shutdown(ctx); err != nil {
			sm.logger.Error("Failed to shutdown repository manager", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}
