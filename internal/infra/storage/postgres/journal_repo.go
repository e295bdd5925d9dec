package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/storage"
)

// JournalRepo implements storage.FailureJournal using PostgreSQL.
type JournalRepo struct {
	db *DB
}

var _ storage.FailureJournal = (*JournalRepo)(nil)

// NewJournalRepo creates a new PostgreSQL failure journal.
func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

type errorRow struct {
	ID                string    `db:"id"`
	OccurredAt        time.Time `db:"occurred_at"`
	Component         string    `db:"component"`
	Operation         string    `db:"operation"`
	Attempt           int       `db:"attempt"`
	Severity          string    `db:"severity"`
	Category          string    `db:"category"`
	Action            string    `db:"action"`
	Outcome           string    `db:"outcome"`
	ErrorType         string    `db:"error_type"`
	Message           string    `db:"message"`
	Context           string    `db:"context"`
	RecoveryAttempted bool      `db:"recovery_attempted"`
	BackoffMS         int64     `db:"backoff_ms"`
}

type partialRow struct {
	ID             string    `db:"id"`
	RecordedAt     time.Time `db:"recorded_at"`
	Component      string    `db:"component"`
	Operation      string    `db:"operation"`
	Payload        []byte    `db:"payload"`
	CompletedSteps []byte    `db:"completed_steps"`
	Confidence     float64   `db:"confidence"`
	Completeness   float64   `db:"completeness"`
}

const insertError = `
	INSERT INTO operation_errors (
		id, occurred_at, component, operation, attempt, severity, category, action,
		outcome, error_type, message, context, recovery_attempted, backoff_ms
	) VALUES (
		:id, :occurred_at, :component, :operation, :attempt, :severity, :category, :action,
		:outcome, :error_type, :message, CAST(:context AS JSONB), :recovery_attempted, :backoff_ms
	)
	ON CONFLICT (id) DO NOTHING
`

// RecordErrors inserts error records in one transaction.
func (r *JournalRepo) RecordErrors(ctx context.Context, errs []domain.OperationError) error {
	if len(errs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, insertError)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range errs {
		row, err := toErrorRow(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("failed to insert operation error %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit operation errors: %w", err)
	}
	return nil
}

// RecordPartial inserts one partial result.
func (r *JournalRepo) RecordPartial(ctx context.Context, p domain.PartialResult) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal partial payload: %w", err)
	}
	steps, err := json.Marshal(p.CompletedSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal completed steps: %w", err)
	}

	query := `
		INSERT INTO partial_results (
			id, recorded_at, component, operation, payload, completed_steps, confidence, completeness
		) VALUES ($1, $2, $3, $4, CAST($5 AS JSONB), CAST($6 AS JSONB), $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Timestamp, p.Component, p.Operation,
		string(payload), string(steps), p.Confidence, p.Completeness,
	)
	if err != nil {
		return fmt.Errorf("failed to insert partial result: %w", err)
	}
	return nil
}

// RecentErrors returns up to limit records, newest first.
func (r *JournalRepo) RecentErrors(ctx context.Context, limit int) ([]domain.OperationError, error) {
	query := `
		SELECT id, occurred_at, component, operation, attempt, severity, category, action,
		       outcome, error_type, message, context, recovery_attempted, backoff_ms
		FROM operation_errors
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	var rows []errorRow
	if err := r.db.SelectContext(ctx, &rows, query, limitOrAll(limit)); err != nil {
		return nil, fmt.Errorf("failed to get operation errors: %w", err)
	}

	out := make([]domain.OperationError, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RecentPartials returns up to limit partial results, newest first.
func (r *JournalRepo) RecentPartials(ctx context.Context, limit int) ([]domain.PartialResult, error) {
	query := `
		SELECT id, recorded_at, component, operation, payload, completed_steps, confidence, completeness
		FROM partial_results
		ORDER BY recorded_at DESC
		LIMIT $1
	`

	var rows []partialRow
	if err := r.db.SelectContext(ctx, &rows, query, limitOrAll(limit)); err != nil {
		return nil, fmt.Errorf("failed to get partial results: %w", err)
	}

	out := make([]domain.PartialResult, 0, len(rows))
	for _, row := range rows {
		p := domain.PartialResult{
			ID:           row.ID,
			Component:    row.Component,
			Operation:    row.Operation,
			Confidence:   row.Confidence,
			Completeness: row.Completeness,
			Timestamp:    row.RecordedAt,
		}
		if err := json.Unmarshal(row.Payload, &p.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode partial payload %s: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.CompletedSteps, &p.CompletedSteps); err != nil {
			return nil, fmt.Errorf("failed to decode completed steps %s: %w", row.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// DeleteOlderThan removes records and partial results older than cutoff.
func (r *JournalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, query := range []string{
		`DELETE FROM operation_errors WHERE occurred_at < $1`,
		`DELETE FROM partial_results WHERE recorded_at < $1`,
	} {
		res, err := r.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close closes the database connection.
func (r *JournalRepo) Close() error {
	return r.db.Close()
}

func toErrorRow(e domain.OperationError) (errorRow, error) {
	ctxJSON := []byte("{}")
	if len(e.Context) > 0 {
		var err error
		if ctxJSON, err = json.Marshal(e.Context); err != nil {
			return errorRow{}, fmt.Errorf("failed to marshal error context: %w", err)
		}
	}
	return errorRow{
		ID:                e.ID,
		OccurredAt:        e.Timestamp,
		Component:         e.Component,
		Operation:         e.Operation,
		Attempt:           e.Attempt,
		Severity:          e.Severity.String(),
		Category:          string(e.Category),
		Action:            e.Action.String(),
		Outcome:           string(e.Outcome),
		ErrorType:         e.ErrorType,
		Message:           e.Message,
		Context:           string(ctxJSON),
		RecoveryAttempted: e.RecoveryAttempted,
		BackoffMS:         e.Backoff.Milliseconds(),
	}, nil
}

func (row errorRow) toDomain() (domain.OperationError, error) {
	e := domain.OperationError{
		ID:                row.ID,
		Timestamp:         row.OccurredAt,
		Component:         row.Component,
		Operation:         row.Operation,
		Attempt:           row.Attempt,
		Category:          domain.ErrorCategory(row.Category),
		Outcome:           domain.ErrorOutcome(row.Outcome),
		ErrorType:         row.ErrorType,
		Message:           row.Message,
		RecoveryAttempted: row.RecoveryAttempted,
		Backoff:           time.Duration(row.BackoffMS) * time.Millisecond,
	}
	if err := e.Severity.UnmarshalText([]byte(row.Severity)); err != nil {
		return e, err
	}
	if err := e.Action.UnmarshalText([]byte(row.Action)); err != nil {
		return e, err
	}
	if row.Context != "" {
		if err := json.Unmarshal([]byte(row.Context), &e.Context); err != nil {
			return e, fmt.Errorf("failed to decode error context %s: %w", row.ID, err)
		}
	}
	return e, nil
}

// limitOrAll maps a non-positive limit to no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
