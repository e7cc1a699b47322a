package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

const createSamplesSQLite = `
CREATE TABLE IF NOT EXISTS frequency_samples (
    run_id TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    epoch REAL NOT NULL,
    mjd REAL NOT NULL,
    frequency TEXT NOT NULL,
    hz REAL NOT NULL,
    PRIMARY KEY (run_id, recorded_at)
);`

const insertSampleSQLite = `INSERT OR IGNORE INTO frequency_samples(run_id, recorded_at, epoch, mjd, frequency, hz) VALUES(?, ?, ?, ?, ?, ?)`

// SQLite stores samples in a local database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s, err := newSQLiteDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func newSQLiteDB(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, createSamplesSQLite); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Send(ctx context.Context, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSampleSQLite)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		ts := sample.Timestamp.UTC().Format(time.RFC3339Nano)
		if _, err := stmt.ExecContext(ctx, sample.RunID, ts, sample.Epoch, sample.MJD, sample.Frequency, sample.Hz); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored samples for runID.
func (s *SQLite) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frequency_samples WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
