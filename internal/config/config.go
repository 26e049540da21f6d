// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the server configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Store selects the rule store: postgres or memory.
	Store string `env:"RULES_STORE" envDefault:"postgres"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	ErrorSampleRate int    `env:"ERROR_SAMPLE_RATE" envDefault:"100"`
	OTELEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ruleops"`

	// SeedFile is a YAML file of rules created on startup when missing.
	// "default" loads the built-in rules; empty disables seeding.
	SeedFile string `env:"RULES_SEED_FILE"`

	CostLimit          uint64        `env:"RULES_COST_LIMIT" envDefault:"1000000"`
	ValidationCacheTTL time.Duration `env:"RULES_VALIDATION_CACHE_TTL" envDefault:"10m"`

	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option combinations the environment parser cannot.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RULES_STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("RULES_STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.ErrorSampleRate < 1 {
		return fmt.Errorf("ERROR_SAMPLE_RATE must be at least 1, got %d", c.ErrorSampleRate)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("HTTP_REQUEST_TIMEOUT must be positive")
	}
	return nil
}
