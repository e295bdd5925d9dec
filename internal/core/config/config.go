package config

import (
	"time"

	"github.com/vietddude/binlens/internal/infra/provider"
	redisclient "github.com/vietddude/binlens/internal/infra/redis"
	"github.com/vietddude/binlens/internal/infra/routing"
	"github.com/vietddude/binlens/internal/infra/storage/postgres"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
	Recovery  recovery.Config       `yaml:"recovery"`
	Factory   routing.FactoryConfig `yaml:"factory"`
	Providers []provider.Config     `yaml:"providers"`
	Journal   JournalConfig         `yaml:"journal"`
	Redis     redisclient.Config    `yaml:"redis"`
	Database  postgres.Config       `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// JournalConfig selects where failure records are mirrored.
type JournalConfig struct {
	Backend       string        `yaml:"backend"`        // memory, postgres, redis
	Retention     time.Duration `yaml:"retention"`      // 0 = keep forever
	PruneInterval time.Duration `yaml:"prune_interval"` // 0 = derived from retention
}
