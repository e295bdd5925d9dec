package cli

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/provider"
	"github.com/vietddude/binlens/internal/infra/routing"
)

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, logLevel("", false))
	assert.Equal(t, slog.LevelWarn, logLevel("warn", false))
	assert.Equal(t, slog.LevelError, logLevel("error", false))
	assert.Equal(t, slog.LevelDebug, logLevel("debug", false))
	assert.Equal(t, slog.LevelDebug, logLevel("error", true))
}

func TestPrintProviders(t *testing.T) {
	latency := 120 * time.Millisecond
	statuses := []routing.Status{
		{
			ID: "claude", Kind: provider.KindHTTP, Vendor: "anthropic", Enabled: true,
			Health: &provider.HealthStatus{Healthy: true, Latency: &latency, Models: []string{"a", "b"}},
		},
		{ID: "local", Kind: provider.KindGRPC, Vendor: "ollama", Enabled: false},
	}

	var buf bytes.Buffer
	printProviders(&buf, statuses)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PROVIDER")
	assert.Contains(t, lines[1], "claude")
	assert.Contains(t, lines[1], "120ms")
	assert.Contains(t, lines[2], "false")
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errs := []domain.OperationError{{
		Timestamp: at,
		Component: "analyzer",
		Operation: "explain_function",
		Attempt:   1,
		Category:  domain.CategoryTimeout,
		Severity:  domain.SeverityMedium,
		Action:    domain.ActionRetry,
		Outcome:   domain.OutcomeRetrying,
		Message:   strings.Repeat("x", 100),
	}}
	partials := []domain.PartialResult{{Timestamp: at, Component: "analyzer", Operation: "summarize", Completeness: 0.5, Confidence: 0.45}}

	var buf bytes.Buffer
	printStatus(&buf, errs, partials)

	out := buf.String()
	assert.Contains(t, out, "2026-03-01T12:00:00Z")
	assert.Contains(t, out, "medium")
	assert.Contains(t, out, "retry")
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "0.45")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
