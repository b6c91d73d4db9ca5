package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/learnsphere/test-engine/internal/config"
	"github.com/learnsphere/test-engine/internal/evaluation"
	"github.com/learnsphere/test-engine/internal/events"
	"github.com/learnsphere/test-engine/internal/handlers"
	"github.com/learnsphere/test-engine/internal/repositories/postgres"
	"github.com/learnsphere/test-engine/internal/services"
	"github.com/learnsphere/test-engine/internal/utils"
	"github.com/learnsphere/test-engine/internal/validator"
	"github.com/learnsphere/test-engine/pkg"
)

// expirySweepInterval is how often overdue in-progress attempts are
// swept to the expired state.
const expirySweepInterval = time.Minute

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
		}
	}

	// Initialize repositories
	repoConfig := postgres.RepositoryConfig{
		DB:            db,
		RedisClient:   redisClient,
		CasdoorConfig: cfg.Casdoor,
	}
	repoManager := postgres.NewRepositoryManager(repoConfig)
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}

	// Initialize validator
	validator := validator.New()

	// Initialize the evaluation client
	evaluator := evaluation.NewClient(
		cfg.Evaluation.Endpoint,
		cfg.Evaluation.APIKey,
		cfg.Evaluation.Model,
		cfg.Evaluation.Timeout,
	)

	// Initialize the event publisher: kafka when brokers are configured,
	// in-process pubsub otherwise
	var publisher events.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, slogLogger)
		if err != nil {
			log.Fatalf("Failed to initialize kafka publisher: %v", err)
		}
	} else {
		publisher = events.NewChannelEventPublisher(cfg.KafkaTopic, slogLogger)
	}

	// Initialize services
	serviceConfig := services.ServiceManagerConfig{
		LogLevel: cfg.LogLevel,
		Evaluation: services.CoordinatorConfig{
			Workers:     cfg.Evaluation.Workers,
			CallTimeout: cfg.Evaluation.Timeout,
			MaxRetries:  cfg.Evaluation.MaxRetries,
			RetryDelay:  500 * time.Millisecond,
		},
		DefaultTimeout: 30 * time.Second,
	}
	serviceManager := services.NewServiceManager(repoManager.GetRepository(), slogLogger, validator, evaluator, publisher, serviceConfig)
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Background sweeper for overdue attempts
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go runExpirySweeper(sweepCtx, serviceManager.Attempt(), slogLogger)

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(serviceManager, validator, logger, cfg.Casdoor, repoManager.GetRepository().User())

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := serviceManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown services: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}

// runExpirySweeper periodically expires in-progress attempts that ran
// past their time limit without submitting.
func runExpirySweeper(ctx context.Context, attempts services.AttemptService, logger *slog.Logger) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := attempts.ExpireOverdueAttempts(ctx)
			if err != nil {
				logger.Error("Expiry sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				logger.Info("Expired overdue attempts", "count", expired)
			}
		}
	}
}
