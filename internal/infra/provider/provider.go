// Package provider defines translation backends as the factory sees them.
//
// This package contains:
//   - Backend interface: lifecycle and health probe of one remote backend
//   - HTTPBackend / GRPCBackend: probes for HTTP and gRPC endpoints
//   - Stats: rolling request statistics kept per backend
//   - ThrottleMonitor: rate-limit tracking
//   - Preferences: per-request selection policy
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the transport a backend is probed over.
type Kind string

const (
	KindHTTP Kind = "http"
	KindGRPC Kind = "grpc"
)

// Backend is one remote translation service. The factory only drives its
// lifecycle; callers invoke domain operations on the concrete type directly.
type Backend interface {
	// Initialize prepares the backend for use. It is called once.
	Initialize(ctx context.Context) error

	// HealthCheck probes the backend and reports its state.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Cleanup releases connections held by the backend.
	Cleanup(ctx context.Context) error
}

// HealthStatus is the last health snapshot of a backend.
type HealthStatus struct {
	Healthy          bool           `json:"healthy"`
	WithinRateLimits bool           `json:"within_rate_limits"`
	Models           []string       `json:"models,omitempty"`
	LastCheck        time.Time      `json:"last_check"`
	CostPerToken     *float64       `json:"cost_per_token,omitempty"`
	Latency          *time.Duration `json:"latency,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Config holds settings for one backend.
type Config struct {
	ID       string `yaml:"id"`
	Kind     Kind   `yaml:"kind"`   // http, grpc
	Vendor   string `yaml:"vendor"` // anthropic, openai, gemini, ollama
	Endpoint string `yaml:"endpoint"`

	// HealthPath is appended to Endpoint for HTTP probes. For gRPC it is the
	// service name passed to the standard health service.
	HealthPath string `yaml:"health_path"`

	APIKey       string        `yaml:"api_key"`
	Models       []string      `yaml:"models"`
	CostPerToken float64       `yaml:"cost_per_token"`
	Timeout      time.Duration `yaml:"timeout"`
	Disabled     bool          `yaml:"disabled"`
}

// Enabled reports whether the backend may be selected.
func (c Config) Enabled() bool { return !c.Disabled }

// Validate checks required fields.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.New("provider id is required")
	}
	switch c.Kind {
	case KindHTTP, KindGRPC:
	default:
		return fmt.Errorf("provider %s: unknown kind %q", c.ID, c.Kind)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("provider %s: endpoint is required", c.ID)
	}
	if c.CostPerToken < 0 {
		return fmt.Errorf("provider %s: negative cost per token", c.ID)
	}
	return nil
}

// Constructor builds an uninitialized backend from its config.
type Constructor func(cfg Config) (Backend, error)

// New is the default Constructor. It dispatches on cfg.Kind.
func New(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindHTTP:
		return NewHTTPBackend(cfg), nil
	case KindGRPC:
		return NewGRPCBackend(cfg), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}
