// Package store persists kernel bookkeeping in a local sqlite database:
// per-call tool usage and named checkpoints of kernel state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrCheckpointNotFound is returned when no checkpoint exists under the
// requested name.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Store is the kernel's persistence layer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// UsageRow is one aggregated row of tool call statistics.
type UsageRow struct {
	Tool   string
	Calls  int64
	Errors int64
	AvgMs  float64
	LastAt time.Time
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store wal mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tool_usage (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			tool        TEXT NOT NULL,
			ok          INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_tool ON tool_usage(tool, at DESC)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id      TEXT PRIMARY KEY,
			name    TEXT NOT NULL,
			payload BLOB NOT NULL,
			at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_name ON checkpoints(name, at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// RecordUsage appends one tool call observation.
func (s *Store) RecordUsage(ctx context.Context, tool string, ok bool, elapsed time.Duration) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_usage (tool, ok, duration_ms, at) VALUES (?, ?, ?, ?)`,
		tool, okInt, elapsed.Milliseconds(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates call counts per tool, most recently used
// first, capped at limit rows.
func (s *Store) UsageSummary(ctx context.Context, limit int) ([]UsageRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT tool,
       COUNT(*),
       SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END),
       AVG(duration_ms),
       MAX(at)
FROM tool_usage
GROUP BY tool
ORDER BY MAX(at) DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var r UsageRow
		var lastAt int64
		if err := rows.Scan(&r.Tool, &r.Calls, &r.Errors, &r.AvgMs, &lastAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.LastAt = time.Unix(lastAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCheckpoint stores payload under name and returns the checkpoint id.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, name, payload, at) VALUES (?, ?, ?, ?)`,
		id, name, payload, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	s.logger.Debug("checkpoint saved", "name", name, "id", id, "bytes", len(payload))
	return id, nil
}

// LoadCheckpoint returns the most recent payload saved under name.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE name = ? ORDER BY at DESC, rowid DESC LIMIT 1`,
		name,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return payload, nil
}

// PruneCheckpoints keeps the newest keep checkpoints per name and
// deletes the rest.
func (s *Store) PruneCheckpoints(ctx context.Context, name string, keep int) error {
	if keep <= 0 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM checkpoints
WHERE name = ? AND id NOT IN (
	SELECT id FROM checkpoints WHERE name = ? ORDER BY at DESC, rowid DESC LIMIT ?
)`, name, name, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints %s: %w", name, err)
	}
	return nil
}
