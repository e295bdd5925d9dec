package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecoveryAttempts tracks attempts made inside recovery scopes
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_recovery_attempts_total",
			Help: "Total number of attempts made by recovery scopes",
		},
		[]string{"component", "operation"},
	)

	// RecoveryErrors tracks classified operation errors
	RecoveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_recovery_errors_total",
			Help: "Total number of classified operation errors",
		},
		[]string{"component", "category", "severity", "action"},
	)

	// RecoveryOutcomes tracks how recovery scopes end
	RecoveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_recovery_outcomes_total",
			Help: "Recovery scope results (success, exhausted, aborted)",
		},
		[]string{"component", "outcome"},
	)

	// PartialResultsSalvaged tracks partial results built after failures
	PartialResultsSalvaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_recovery_partial_results_total",
			Help: "Total number of partial results salvaged from failed operations",
		},
		[]string{"component"},
	)

	// RecoveryBackoff tracks the waits between attempts
	RecoveryBackoff = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binlens_recovery_backoff_seconds",
			Help:    "Backoff applied between recovery attempts",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"category"},
	)

	// AttemptDuration tracks how long single attempts run
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binlens_recovery_attempt_duration_seconds",
			Help:    "Duration of individual attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"component", "operation"},
	)

	// ProviderSelections tracks which backend the factory hands out
	ProviderSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_provider_selections_total",
			Help: "Total number of backend selections per operation type",
		},
		[]string{"provider", "operation_type"},
	)

	// ProviderRequests tracks reported request results per backend
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_provider_requests_total",
			Help: "Total number of backend requests reported to the factory",
		},
		[]string{"provider", "status"},
	)

	// ProviderLatency tracks reported request latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binlens_provider_latency_seconds",
			Help:    "Backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ProviderTokens tracks tokens consumed per backend
	ProviderTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_provider_tokens_total",
			Help: "Total number of tokens consumed per backend",
		},
		[]string{"provider"},
	)

	// ProviderCost tracks accumulated cost per backend
	ProviderCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_provider_cost_total",
			Help: "Accumulated request cost per backend",
		},
		[]string{"provider"},
	)

	// ProviderHealthy is 1 when the last health check passed
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "binlens_provider_healthy",
			Help: "Whether the backend passed its last health check (1) or not (0)",
		},
		[]string{"provider"},
	)

	// ProviderBreakerOpen is 1 while the circuit breaker rejects the backend
	ProviderBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "binlens_provider_breaker_open",
			Help: "Whether the backend circuit breaker is open (1) or closed (0)",
		},
		[]string{"provider"},
	)

	// ProviderThrottled tracks throttle responses per backend
	ProviderThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_provider_throttled_total",
			Help: "Total number of throttle responses per backend",
		},
		[]string{"provider"},
	)

	// JournalWrites tracks failure journal writes
	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_journal_writes_total",
			Help: "Failure journal writes by backend and result",
		},
		[]string{"backend", "status"},
	)

	// JournalPruned tracks records removed by the pruner
	JournalPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlens_journal_pruned_total",
			Help: "Total number of journal records removed by retention pruning",
		},
		[]string{"backend"},
	)

	// JournalDBPoolUsage tracks the postgres journal connection pool usage
	JournalDBPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "binlens_journal_db_pool_usage_percent",
			Help: "Percentage of open postgres journal connections relative to the pool maximum",
		},
	)
)
