package domain

import "time"

// OperationError is one observed failure of one attempt.
type OperationError struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Component         string            `json:"component"`
	Operation         string            `json:"operation"`
	Attempt           int               `json:"attempt"`
	Severity          ErrorSeverity     `json:"severity"`
	Category          ErrorCategory     `json:"category"`
	ErrorType         string            `json:"error_type"`
	Message           string            `json:"message"`
	Context           map[string]string `json:"context,omitempty"`
	RecoveryAttempted bool              `json:"recovery_attempted"`
	Action            RecoveryAction    `json:"action"`
	Outcome           ErrorOutcome      `json:"outcome"`

	// Backoff is the wait scheduled before the next attempt, zero when none follows.
	Backoff time.Duration `json:"backoff,omitempty"`
}

// ErrorOutcome records what happened after the error was handled.
type ErrorOutcome string

const (
	OutcomeRetrying   ErrorOutcome = "retrying"
	OutcomeRestarting ErrorOutcome = "restarting"
	OutcomeAborted    ErrorOutcome = "aborted"
	OutcomeExhausted  ErrorOutcome = "exhausted"
)

// PartialResult is the best-effort output salvaged from a failed operation.
type PartialResult struct {
	ID             string         `json:"id"`
	Component      string         `json:"component"`
	Operation      string         `json:"operation"`
	Payload        map[string]any `json:"payload"`
	CompletedSteps []string       `json:"completed_steps"`
	Confidence     float64        `json:"confidence"`
	Completeness   float64        `json:"completeness"`
	Timestamp      time.Time      `json:"timestamp"`
}
