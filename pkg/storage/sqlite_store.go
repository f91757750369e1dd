package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/polisai/polis-recruit/pkg/domain"

	_ "modernc.org/sqlite"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	destination TEXT NOT NULL,
	rule INTEGER NOT NULL,
	fallback INTEGER NOT NULL,
	coerced INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT '',
	fields_json TEXT NOT NULL DEFAULT '[]',
	detail TEXT NOT NULL DEFAULT '',
	delivery_status TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id, id);
`

// SQLiteJournal stores the journal in a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal opens or creates the database at path. ":memory:" keeps the
// journal in process memory.
func NewSQLiteJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteJournal{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteJournal) Path() string {
	return s.path
}

// Record appends entry to the run's journal.
func (s *SQLiteJournal) Record(ctx context.Context, runID string, entry domain.TraceEntry) error {
	if runID == "" {
		return fmt.Errorf("record: run id is empty")
	}
	fields, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	if entry.Fields == nil {
		fields = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (run_id, step, destination, rule, fallback, coerced, reason,
			outcome, fields_json, detail, delivery_status, started_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		entry.Step,
		string(entry.Decision.Destination),
		entry.Decision.Rule,
		entry.Decision.Fallback,
		entry.Decision.Coerced,
		entry.Decision.Reason,
		entry.Outcome,
		string(fields),
		entry.Detail,
		entry.Delivery,
		entry.StartedAt.UTC(),
		entry.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Entries returns the run's journal in insertion order.
func (s *SQLiteJournal) Entries(ctx context.Context, runID string) ([]domain.TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, destination, rule, fallback, coerced, reason, outcome,
			fields_json, detail, delivery_status, started_at, duration_ms
		FROM decisions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.TraceEntry
	for rows.Next() {
		var (
			entry      domain.TraceEntry
			dest       string
			fieldsJSON string
			durationMS int64
		)
		if err := rows.Scan(
			&entry.Step,
			&dest,
			&entry.Decision.Rule,
			&entry.Decision.Fallback,
			&entry.Decision.Coerced,
			&entry.Decision.Reason,
			&entry.Outcome,
			&fieldsJSON,
			&entry.Detail,
			&entry.Delivery,
			&entry.StartedAt,
			&durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		entry.Decision.Destination = domain.Destination(dest)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(fieldsJSON), &entry.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		if len(entry.Fields) == 0 {
			entry.Fields = nil
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}
