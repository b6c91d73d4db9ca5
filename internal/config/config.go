package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/learnsphere/test-engine/internal/repositories/casdoor"
)

type EvaluationConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Workers    int
	MaxRetries int
}

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	Casdoor    casdoor.CasdoorConfig
	Evaluation EvaluationConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadConfig reads configuration from the environment, loading a local
// .env file first when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "test-engine.events"),
		Casdoor: casdoor.CasdoorConfig{
			Endpoint:         os.Getenv("CASDOOR_ENDPOINT"),
			ClientID:         os.Getenv("CASDOOR_CLIENT_ID"),
			ClientSecret:     os.Getenv("CASDOOR_CLIENT_SECRET"),
			Certificate:      os.Getenv("CASDOOR_CERTIFICATE"),
			OrganizationName: getEnv("CASDOOR_ORGANIZATION", "learnsphere"),
			ApplicationName:  getEnv("CASDOOR_APPLICATION", "test-engine"),
		},
		Evaluation: EvaluationConfig{
			Endpoint:   getEnv("EVALUATION_ENDPOINT", "http://localhost:11434"),
			APIKey:     os.Getenv("EVALUATION_API_KEY"),
			Model:      getEnv("EVALUATION_MODEL", "llama3.1"),
			Timeout:    getDurationEnv("EVALUATION_TIMEOUT", 30*time.Second),
			Workers:    getIntEnv("EVALUATION_WORKERS", 4),
			MaxRetries: getIntEnv("EVALUATION_MAX_RETRIES", 2),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
