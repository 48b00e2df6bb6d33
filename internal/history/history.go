// Package history implements the durable append-only log behind the
// lifecycle manager: modification records, persistence operations, and the
// operation history that feeds stats reporting.
//
// The log is a single SQLite database (modernc.org/sqlite, pure Go) so a
// Kanri deployment needs nothing beyond its data directory.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kanri/migrations"
)

// Log is the SQLite-backed lifecycle history.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path and applies
// any pending schema migrations.
func Open(path string, logger *slog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under the manager's concurrent per-agent operations.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db, logger: logger}, nil
}

// runMigrations applies the embedded .sql files in lexical order. Applied
// files are tracked in schema_migrations and skipped on later opens.
func runMigrations(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`,
	); err != nil {
		return fmt.Errorf("history: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("history: read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("history: check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		stmt, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("history: read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("history: apply migration %s: %w", name, err)
		}
		if _, err := db.Exec(
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			name, time.Now().UnixNano(),
		); err != nil {
			return fmt.Errorf("history: record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordModification appends a modification record.
func (l *Log) RecordModification(ctx context.Context, rec ModificationEntry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO modifications (id, agent_name, operation, details, author, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentName, rec.Operation, rec.Details, rec.Author, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: record modification: %w", err)
	}
	return nil
}

// ModificationEntry is one append-only modification log row.
type ModificationEntry struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Operation string    `json:"operation"`
	Details   string    `json:"details,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListModifications returns up to limit modification entries for an agent,
// newest first.
func (l *Log) ListModifications(ctx context.Context, agentName string, limit int) ([]ModificationEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, agent_name, operation, details, author, created_at
		 FROM modifications WHERE agent_name = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		agentName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list modifications: %w", err)
	}
	defer rows.Close()

	var out []ModificationEntry
	for rows.Next() {
		var e ModificationEntry
		var ns int64
		if err := rows.Scan(&e.ID, &e.AgentName, &e.Operation, &e.Details, &e.Author, &ns); err != nil {
			return nil, fmt.Errorf("history: scan modification: %w", err)
		}
		e.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordPersistence appends a persistence-operation row (one durable write).
func (l *Log) RecordPersistence(ctx context.Context, id, agentName, strategy, path string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO persistence_ops (id, agent_name, strategy, path, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, agentName, strategy, path, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: record persistence op: %w", err)
	}
	return nil
}

// OperationEntry is one operation-history row in wire-friendly form.
type OperationEntry struct {
	Operation        string         `json:"operation"`
	AgentName        string         `json:"agent_name"`
	Success          bool           `json:"success"`
	DurationMS       float64        `json:"duration_ms"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ModificationID   string         `json:"modification_id,omitempty"`
	PersistenceID    string         `json:"persistence_id,omitempty"`
	CacheInvalidated bool           `json:"cache_invalidated"`
	RegistryUpdated  bool           `json:"registry_updated"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// RecordOperation appends an operation result to the history.
func (l *Log) RecordOperation(ctx context.Context, e OperationEntry) error {
	meta := []byte("{}")
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			l.logger.Warn("history: marshal operation metadata", "agent", e.AgentName, "error", err)
		} else {
			meta = b
		}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO operations (operation, agent_name, success, duration_ms, error_code, error_message,
		                         modification_id, persistence_id, cache_invalidated, registry_updated, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Operation, e.AgentName, boolToInt(e.Success), e.DurationMS, e.ErrorCode, e.ErrorMessage,
		e.ModificationID, e.PersistenceID, boolToInt(e.CacheInvalidated), boolToInt(e.RegistryUpdated),
		string(meta), e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: record operation: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListOperations returns up to limit operations, newest first, optionally
// filtered to one agent (empty agentName means no filter). The filtered view
// is a strict subset of the unfiltered one in the same order.
func (l *Log) ListOperations(ctx context.Context, agentName string, limit int) ([]OperationEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT operation, agent_name, success, duration_ms, error_code, error_message,
	                 modification_id, persistence_id, cache_invalidated, registry_updated, metadata, created_at
	          FROM operations`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list operations: %w", err)
	}
	defer rows.Close()

	var out []OperationEntry
	for rows.Next() {
		var e OperationEntry
		var meta string
		var ns int64
		if err := rows.Scan(&e.Operation, &e.AgentName, &e.Success, &e.DurationMS, &e.ErrorCode, &e.ErrorMessage,
			&e.ModificationID, &e.PersistenceID, &e.CacheInvalidated, &e.RegistryUpdated, &meta, &ns); err != nil {
			return nil, fmt.Errorf("history: scan operation: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				l.logger.Warn("history: unmarshal operation metadata", "agent", e.AgentName, "error", err)
			}
		}
		e.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats aggregates operation counts and durations, including a rolling
// count of operations in the last hour.
type Stats struct {
	TotalOperations      int     `json:"total_operations"`
	SuccessfulOperations int     `json:"successful_operations"`
	AverageDurationMS    float64 `json:"average_duration_ms"`
	OperationsLastHour   int     `json:"operations_last_hour"`
}

// OperationStats computes aggregate performance metrics over the whole
// operation history.
func (l *Log) OperationStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(success), 0),
		        COALESCE(AVG(duration_ms), 0)
		 FROM operations`,
	).Scan(&s.TotalOperations, &s.SuccessfulOperations, &s.AverageDurationMS)
	if err != nil {
		return Stats{}, fmt.Errorf("history: operation stats: %w", err)
	}

	cutoff := time.Now().Add(-time.Hour).UnixNano()
	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operations WHERE created_at >= ?`, cutoff,
	).Scan(&s.OperationsLastHour)
	if err != nil {
		return Stats{}, fmt.Errorf("history: last-hour count: %w", err)
	}
	return s, nil
}
