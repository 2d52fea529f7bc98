// Package history persists install session outcomes to a local SQLite
// database so past updates can be audited from the CLI.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/log"
)

// Outcome classifies a terminal result code.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailure      Outcome = "failure"
	OutcomeDisconnected Outcome = "disconnected"
)

// OutcomeFor maps a session result code to its outcome class. The
// disconnect sentinel is reserved by the client, so a remote code of the
// same value cannot be told apart; both mean the update did not land.
func OutcomeFor(result int32) Outcome {
	switch {
	case result == installer.ResultSuccess:
		return OutcomeSuccess
	case result == installer.ResultDisconnected:
		return OutcomeDisconnected
	default:
		return OutcomeFailure
	}
}

// Record is one completed install session.
type Record struct {
	ID            string    `yaml:"id"`
	Bundle        string    `yaml:"bundle"`
	Result        int32     `yaml:"result"`
	Outcome       Outcome   `yaml:"outcome"`
	LastOperation string    `yaml:"last_operation,omitempty"`
	LastError     string    `yaml:"last_error,omitempty"`
	StartedAt     time.Time `yaml:"started_at"`
	FinishedAt    time.Time `yaml:"finished_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS installs (
	id TEXT PRIMARY KEY,
	bundle TEXT NOT NULL,
	result INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	last_operation TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_installs_finished_at ON installs(finished_at DESC);
`

// Store is the SQLite-backed install history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configuring history database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	log.Debug(log.CatHistory, "history store opened", "path", path)
	return &Store{db: db}, nil
}

// Add persists one completed session.
func (s *Store) Add(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installs (id, bundle, result, outcome, last_operation, last_error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Bundle, rec.Result, string(rec.Outcome),
		rec.LastOperation, rec.LastError,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording install: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first. A limit <= 0 means
// no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bundle, result, outcome, last_operation, last_error, started_at, finished_at
		 FROM installs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing installs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var outcome, started, finished string
		if err := rows.Scan(&rec.ID, &rec.Bundle, &rec.Result, &outcome,
			&rec.LastOperation, &rec.LastError, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning install row: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
