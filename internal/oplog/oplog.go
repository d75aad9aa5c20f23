// Package oplog provides the durable pending-operation log for the sync core.
//
// Every mutation performed while the remote store is unreachable (and, by
// design, every mutation at all: writes are funneled through the log so the
// drain stays strictly sequential) is appended here before the caller gets an
// acknowledgment. The log is the single source of truth for "what local state
// has not yet been confirmed by the remote store".
//
// Persistence is an embedded SQLite database (WAL mode) so an enqueue is
// durable the moment it returns. The in-memory view and its on-disk mirror
// are guarded by one mutex because enqueue runs on the caller's goroutine
// concurrently with the drain loop's dequeue and mark calls.
package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// MaxRetries is the retry ceiling. Operations that fail this many times are
// surfaced as permanently failed but never auto-deleted, so a user's
// mutation stays visible for diagnostics instead of vanishing silently.
const MaxRetries = 5

// backoffCeiling caps the exponential retry delay.
const backoffCeiling = 60 * time.Second

// Type identifies what a pending operation does when drained.
// Game records ride along with their match's operation; they are never
// enqueued on their own.
type Type string

const (
	TypeCreateMatch  Type = "create_match"
	TypeUpdateMatch  Type = "update_match"
	TypeDeleteMatch  Type = "delete_match"
	TypeCreatePlayer Type = "create_player"
	TypeUpdatePlayer Type = "update_player"
	TypeDeletePlayer Type = "delete_player"
)

// Status is the lifecycle state of a pending operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Operation is one not-yet-confirmed remote mutation.
type Operation struct {
	// ID is a locally generated, globally unique identifier.
	ID string

	Type   Type
	Status Status

	// Payload is the serialized entity snapshot taken at enqueue time.
	Payload json.RawMessage

	// LocalID is the client-generated entity id the operation targets. It is
	// used to detect "already applied" during idempotent creates and to
	// overlay pending entities onto remote snapshots.
	LocalID string

	// DependsOn lists operation IDs that must reach completed before this
	// operation becomes eligible.
	DependsOn []string

	RetryCount    int
	LastError     string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}

// Backoff returns the retry delay for a given retry count:
// min(2^retry seconds, 60 seconds).
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Second << uint(retryCount)
	if d <= 0 || d > backoffCeiling {
		return backoffCeiling
	}
	return d
}

// Log is the durable pending-operation log.
type Log struct {
	mu   sync.Mutex
	conn *sql.DB
	path string
}

// Open creates or opens the operation log database at the specified path.
//
// The database is opened in embedded mode with WAL for durability and
// concurrent reads. The caller MUST call Close when done.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create oplog directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open oplog database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping oplog database: %w", err)
	}

	l := &Log{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := l.initSchema(); err != nil {
		_ = l.Close()
		return nil, err
	}
	if err := l.recoverInterrupted(); err != nil {
		_ = l.Close()
		return nil, err
	}

	return l, nil
}

// Close closes the underlying database, checkpointing the WAL first.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	if _, err := l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint oplog WAL: %v\n", err)
	}

	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("failed to close oplog database: %w", err)
	}
	l.conn = nil
	return nil
}

// initSchema creates the operations table if it doesn't exist. Idempotent.
func (l *Log) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT,
		local_id TEXT,
		depends_on TEXT,  -- JSON array of operation IDs
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		last_attempt_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
	CREATE INDEX IF NOT EXISTS idx_operations_local_id ON operations(local_id);
	`

	if _, err := l.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize oplog schema: %w", err)
	}
	return nil
}

// recoverInterrupted returns operations left in_progress by a previous run
// back to pending. The drain is single-process and sequential, so an
// in_progress row at open time means the process died before recording an
// outcome. The upload may or may not have reached the remote; replaying is
// safe because executors treat an already-present document as success.
// No failure was observed, so the retry count is left alone and the attempt
// stamp is cleared, making the operation eligible right away.
func (l *Log) recoverInterrupted() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.conn.Exec(
		"UPDATE operations SET status = ?, last_attempt_at = NULL WHERE status = ?",
		StatusPending, StatusInProgress,
	); err != nil {
		return fmt.Errorf("failed to recover interrupted operations: %w", err)
	}
	return nil
}

// Enqueue appends an operation and persists it before returning.
//
// Missing fields are defaulted: Status to pending, CreatedAt to now. The ID
// must already be set by the caller (operations carry entity-derived IDs so
// dependencies can be declared before enqueueing).
func (l *Log) Enqueue(ctx context.Context, op *Operation) error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	if op.Type == "" {
		return fmt.Errorf("operation type is required")
	}
	if op.Status == "" {
		op.Status = StatusPending
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	dependsJSON, err := json.Marshal(op.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal depends_on: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	query := `
	INSERT INTO operations (
		id, type, status, payload, local_id, depends_on,
		retry_count, last_error, created_at, last_attempt_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = l.conn.ExecContext(ctx, query,
		op.ID,
		string(op.Type),
		string(op.Status),
		string(op.Payload),
		op.LocalID,
		string(dependsJSON),
		op.RetryCount,
		op.LastError,
		op.CreatedAt.Format(time.RFC3339Nano),
		timeToNullString(op.LastAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation %s: %w", op.ID, err)
	}

	return nil
}

// DequeueNext returns the first operation, in insertion order, that is
// eligible to run: status pending or failed, under the retry ceiling, past
// its backoff window, and with every dependency completed. The operation is
// atomically flipped to in_progress and stamped with the attempt time.
//
// Returns (nil, nil) when nothing is eligible: the queue is empty, all
// entries are exhausted, or everything is blocked on backoff or a
// dependency.
func (l *Log) DequeueNext(ctx context.Context, now time.Time) (*Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops, err := l.scanOps(ctx, `
		SELECT id, type, status, payload, local_id, depends_on,
		       retry_count, last_error, created_at, last_attempt_at
		FROM operations
		WHERE status IN ('pending', 'failed') AND retry_count < ?
		ORDER BY seq ASC
	`, MaxRetries)
	if err != nil {
		return nil, err
	}

	completed, err := l.completedIDs(ctx)
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		if !eligibleAt(op, now) {
			continue
		}
		if !depsSatisfied(op, completed) {
			continue
		}

		attempt := now
		res, err := l.conn.ExecContext(ctx, `
			UPDATE operations SET status = ?, last_attempt_at = ?
			WHERE id = ? AND status IN ('pending', 'failed')
		`, string(StatusInProgress), attempt.Format(time.RFC3339Nano), op.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim operation %s: %w", op.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Claimed by another drain between scan and update; keep looking.
			continue
		}

		op.Status = StatusInProgress
		op.LastAttemptAt = &attempt
		return op, nil
	}

	return nil, nil
}

// eligibleAt reports whether an operation's backoff window has passed.
func eligibleAt(op *Operation, now time.Time) bool {
	if op.LastAttemptAt == nil {
		return true
	}
	return !now.Before(op.LastAttemptAt.Add(Backoff(op.RetryCount)))
}

// depsSatisfied reports whether every dependency has completed. Dependencies
// that are no longer present in the log (purged after completion) count as
// satisfied.
func depsSatisfied(op *Operation, completed map[string]statusPresence) bool {
	for _, dep := range op.DependsOn {
		p, present := completed[dep]
		if !present {
			continue // purged, therefore completed
		}
		if p != presenceCompleted {
			return false
		}
	}
	return true
}

type statusPresence int

const (
	presenceIncomplete statusPresence = iota
	presenceCompleted
)

// completedIDs maps every operation id in the log to whether it completed.
func (l *Log) completedIDs(ctx context.Context) (map[string]statusPresence, error) {
	rows, err := l.conn.QueryContext(ctx, `SELECT id, status FROM operations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation statuses: %w", err)
	}
	defer rows.Close()

	m := make(map[string]statusPresence)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan operation status: %w", err)
		}
		if Status(status) == StatusCompleted {
			m[id] = presenceCompleted
		} else {
			m[id] = presenceIncomplete
		}
	}
	return m, rows.Err()
}

// MarkCompleted transitions an operation to completed.
func (l *Log) MarkCompleted(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.ExecContext(ctx,
		`UPDATE operations SET status = ?, last_error = '' WHERE id = ?`,
		string(StatusCompleted), id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed transitions an operation to failed, increments its retry count,
// and records the error text.
func (l *Log) MarkFailed(ctx context.Context, id string, opErr error) error {
	msg := ""
	if opErr != nil {
		msg = opErr.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.ExecContext(ctx,
		`UPDATE operations SET status = ?, retry_count = retry_count + 1, last_error = ? WHERE id = ?`,
		string(StatusFailed), msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s failed: %w", id, err)
	}
	return nil
}

// RemoveCompleted compacts the log by purging completed operations.
func (l *Log) RemoveCompleted(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.ExecContext(ctx,
		`DELETE FROM operations WHERE status = ?`, string(StatusCompleted))
	if err != nil {
		return fmt.Errorf("failed to remove completed operations: %w", err)
	}
	return nil
}

// PendingCount returns the number of operations not yet confirmed by the
// remote store: pending, in progress, or failed-but-retryable. Permanently
// failed operations are excluded; they are reported by ExhaustedCount.
func (l *Log) PendingCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int
	err := l.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations
		WHERE status IN ('pending', 'in_progress')
		   OR (status = 'failed' AND retry_count < ?)
	`, MaxRetries).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// ExhaustedCount returns the number of permanently failed operations,
// failures at or past the retry ceiling, kept for diagnostics.
func (l *Log) ExhaustedCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int
	err := l.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations WHERE status = 'failed' AND retry_count >= ?
	`, MaxRetries).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count exhausted operations: %w", err)
	}
	return count, nil
}

// NextRetryIn returns how long until the earliest backoff window opens, and
// whether any retryable entry is waiting on backoff at all. The drain loop
// uses this to decide between going idle and scheduling a timed wake-up.
func (l *Log) NextRetryIn(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops, err := l.scanOps(ctx, `
		SELECT id, type, status, payload, local_id, depends_on,
		       retry_count, last_error, created_at, last_attempt_at
		FROM operations
		WHERE status = 'failed' AND retry_count < ?
	`, MaxRetries)
	if err != nil {
		return 0, false, err
	}

	var soonest time.Duration
	found := false
	for _, op := range ops {
		if op.LastAttemptAt == nil {
			return 0, true, nil
		}
		wait := op.LastAttemptAt.Add(Backoff(op.RetryCount)).Sub(now)
		if wait < 0 {
			wait = 0
		}
		if !found || wait < soonest {
			soonest = wait
			found = true
		}
	}
	return soonest, found, nil
}

// List returns every operation in insertion order, for diagnostics.
func (l *Log) List(ctx context.Context) ([]*Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.scanOps(ctx, `
		SELECT id, type, status, payload, local_id, depends_on,
		       retry_count, last_error, created_at, last_attempt_at
		FROM operations
		ORDER BY seq ASC
	`)
}

// PendingForOverlay returns the create/update operations still awaiting
// confirmation, in insertion order. The coordinator overlays their payloads
// onto remote snapshots so locally-pending entities stay visible.
func (l *Log) PendingForOverlay(ctx context.Context, types ...Type) ([]*Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops, err := l.scanOps(ctx, `
		SELECT id, type, status, payload, local_id, depends_on,
		       retry_count, last_error, created_at, last_attempt_at
		FROM operations
		WHERE status != 'completed'
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}

	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	var out []*Operation
	for _, op := range ops {
		if want[op.Type] {
			out = append(out, op)
		}
	}
	return out, nil
}

// RemoveAll purges the log entirely. Used by destructive reset flows.
func (l *Log) RemoveAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.ExecContext(ctx, `DELETE FROM operations`)
	if err != nil {
		return fmt.Errorf("failed to clear oplog: %w", err)
	}
	return nil
}

// scanOps runs a SELECT over the operations columns and decodes rows.
// Callers hold l.mu.
func (l *Log) scanOps(ctx context.Context, query string, args ...interface{}) ([]*Operation, error) {
	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var typ, status, payload, dependsJSON, createdAt string
		var lastError sql.NullString
		var lastAttemptAt sql.NullString

		err := rows.Scan(
			&op.ID,
			&typ,
			&status,
			&payload,
			&op.LocalID,
			&dependsJSON,
			&op.RetryCount,
			&lastError,
			&createdAt,
			&lastAttemptAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		op.Type = Type(typ)
		op.Status = Status(status)
		if payload != "" {
			op.Payload = json.RawMessage(payload)
		}
		op.LastError = lastError.String

		if dependsJSON != "" && dependsJSON != "null" {
			if err := json.Unmarshal([]byte(dependsJSON), &op.DependsOn); err != nil {
				return nil, fmt.Errorf("failed to unmarshal depends_on for %s: %w", op.ID, err)
			}
		}

		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			op.CreatedAt = t
		}
		op.LastAttemptAt = nullStringToTime(lastAttemptAt)

		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
