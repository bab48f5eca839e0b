// Package audit records engine operations (CLI commands and API mutations)
// in the engine_operations table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/otherjamesbrown/salelink/pkg/logging"
)

const maxErrorLen = 500

// Entry is one recorded operation.
type Entry struct {
	ID        int64           `json:"id"`
	Operation string          `json:"operation"`
	Actor     string          `json:"actor,omitempty"`
	Args      []string        `json:"args"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Duration  time.Duration   `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder stores operation entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	History(ctx context.Context, operation string, limit int) ([]Entry, error)
	Close() error
}

// SQLRecorder writes entries through database/sql with the lib/pq driver.
type SQLRecorder struct {
	db *sql.DB
}

// Open connects to Postgres with lib/pq.
func Open(connString string) (*SQLRecorder, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewSQLRecorder(db), nil
}

// NewSQLRecorder wraps an open database handle.
func NewSQLRecorder(db *sql.DB) *SQLRecorder {
	return &SQLRecorder{db: db}
}

// Record inserts one entry.
func (r *SQLRecorder) Record(ctx context.Context, e Entry) error {
	args := e.Args
	if args == nil {
		args = []string{}
	}

	query := `INSERT INTO engine_operations (operation, actor, args, success, error, summary, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		e.Operation,
		nullIfEmpty(e.Actor),
		pq.Array(args),
		e.Success,
		nullIfEmpty(truncate(e.Error, maxErrorLen)),
		nullIfEmptyJSON(e.Summary),
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording operation %s: %w", e.Operation, err)
	}
	return nil
}

// History returns recent entries, optionally for one operation.
func (r *SQLRecorder) History(ctx context.Context, operation string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, operation, actor, args, success, error, summary, duration_ms, created_at
		FROM engine_operations
		WHERE ($1::text IS NULL OR operation = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, nullIfEmpty(operation), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			actor      sql.NullString
			errMsg     sql.NullString
			summary    []byte
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.Operation, &actor, pq.Array(&e.Args), &e.Success, &errMsg, &summary, &durationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.Actor = actor.String
		e.Error = errMsg.String
		if len(summary) > 0 {
			e.Summary = json.RawMessage(summary)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return entries, nil
}

// Close closes the database handle.
func (r *SQLRecorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// NopRecorder discards entries.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }

func (NopRecorder) History(context.Context, string, int) ([]Entry, error) { return nil, nil }

func (NopRecorder) Close() error { return nil }

// Track runs fn, then records its outcome. Recording failures are logged and
// never replace fn's own result.
func Track[T any](ctx context.Context, rec Recorder, logger logging.Logger, operation, actor string, args []string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()

	entry := Entry{
		Operation: operation,
		Actor:     actor,
		Args:      args,
		Success:   err == nil,
		Duration:  time.Since(start),
	}
	if err != nil {
		entry.Error = err.Error()
	} else if data, mErr := json.Marshal(result); mErr == nil {
		entry.Summary = data
	}

	if recErr := rec.Record(ctx, entry); recErr != nil {
		logger.Warn("Failed to record operation", logging.Err(recErr), logging.F("operation", operation))
	}
	return result, err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfEmptyJSON(b json.RawMessage) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return []byte(b)
}
