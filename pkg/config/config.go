package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Storage
	DatabasePath string

	// HTTP server
	Addr string

	// Analytics
	ForecastMonths int

	// Batch jobs
	SweepInterval time.Duration

	// Logging
	LogLevel log.Level

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		// A missing .env file is fine; the process environment still applies.
		_ = godotenv.Load()

		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		DatabasePath:   "fundloan.db",
		Addr:           ":8080",
		ForecastMonths: 12,
		SweepInterval:  24 * time.Hour,
		LogLevel:       log.InfoLevel,
		Environment:    os.Getenv("ENVIRONMENT"),
	}

	if path := os.Getenv("FUNDLOAN_DB"); path != "" {
		config.DatabasePath = path
	}
	if addr := os.Getenv("FUNDLOAN_ADDR"); addr != "" {
		config.Addr = addr
	}
	if months := os.Getenv("FUNDLOAN_FORECAST_MONTHS"); months != "" {
		parsed, err := strconv.Atoi(months)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("FUNDLOAN_FORECAST_MONTHS must be a positive integer, got %q", months)
		}
		config.ForecastMonths = parsed
	}
	if interval := os.Getenv("FUNDLOAN_SWEEP_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("FUNDLOAN_SWEEP_INTERVAL must be a positive duration, got %q", interval)
		}
		config.SweepInterval = parsed
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		config.LogLevel = parsed
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	return config, nil
}

// ConfigureLogging applies the log level and picks a JSON formatter in production.
func (c *Config) ConfigureLogging() {
	log.SetLevel(c.LogLevel)
	if c.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
