package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vietddude/binlens/internal/infra/storage"
	"github.com/vietddude/binlens/internal/resilience/recovery"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables and
// applying defaults.
func Parse(data []byte) (*AppConfig, error) {
	// Keys absent from the file keep these values, so an explicit zero
	// default_max_retries survives decoding.
	cfg := AppConfig{Recovery: recovery.DefaultConfig()}
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	cfg.Recovery = cfg.Recovery.WithDefaults()
	cfg.Factory = cfg.Factory.WithDefaults()

	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = storage.BackendMemory
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = 7 * 24 * time.Hour
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = 60 * time.Second
		}
	}
}

// Validate checks the configuration for errors Load cannot default away.
func (c *AppConfig) Validate() error {
	switch c.Journal.Backend {
	case storage.BackendMemory:
	case storage.BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("journal backend postgres requires database.url")
		}
	case storage.BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("journal backend redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
