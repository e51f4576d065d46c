// Package status records what the engine did: check runs, the availability
// facts each run discovered, and every notification attempt. The tables are
// append-only and write-only for the engine; runs are finalized exactly once
// and nothing here is ever read back on the hot path.
package status

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/yadowatch/availability"
)

const schema = `
CREATE TABLE IF NOT EXISTS check_runs (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	success      INTEGER,
	error        TEXT NOT NULL DEFAULT '',
	record_count INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS check_runs_source ON check_runs(source_id, started_at);

CREATE TABLE IF NOT EXISTS availability_history (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	item          TEXT NOT NULL,
	date          TEXT NOT NULL,
	unit          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	price         TEXT NOT NULL DEFAULT '',
	link          TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	inferred_year INTEGER NOT NULL DEFAULT 0,
	discovered_at TEXT NOT NULL,
	notified      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS availability_history_fp ON availability_history(fingerprint);

CREATE TABLE IF NOT EXISTS notification_attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id    TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	attempted_at TEXT NOT NULL
);
`

// Store appends engine events to the status database.
type Store struct {
	db *sql.DB
}

// NewStore creates the tables when absent and returns the store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("status: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// StartRun records the beginning of one source check.
func (s *Store) StartRun(ctx context.Context, runID, sourceID string, startedAt time.Time) error {
	err := execRetry(ctx, s.db,
		`INSERT INTO check_runs (id, source_id, started_at) VALUES (?, ?, ?)`,
		runID, sourceID, startedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("status: start run: %w", err)
	}
	return nil
}

// FinishRun finalizes a run. Called exactly once per started run.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, success bool, errMsg string, records int) error {
	err := execRetry(ctx, s.db, `
		UPDATE check_runs SET
			finished_at = ?,
			success = ?,
			error = ?,
			record_count = ?,
			duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339), boolInt(success), errMsg, records,
		finishedAt.UTC().Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("status: finish run: %w", err)
	}
	return nil
}

// AppendRecord stores one discovery with its notification flag.
func (s *Store) AppendRecord(ctx context.Context, runID, sourceID string, rec availability.Record, notified bool) error {
	err := execRetry(ctx, s.db, `
		INSERT INTO availability_history
			(id, run_id, source_id, fingerprint, item, date, unit, status,
			 price, link, location, inferred_year, discovered_at, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, sourceID, string(rec.Fingerprint(sourceID)),
		rec.Item, rec.Date, rec.Unit, string(rec.Status),
		rec.Price, rec.Link, rec.Location, boolInt(rec.InferredYear),
		rec.DiscoveredAt.UTC().Format(time.RFC3339), boolInt(notified))
	if err != nil {
		return fmt.Errorf("status: append record: %w", err)
	}
	return nil
}

// AppendAttempt stores one notification delivery attempt.
func (s *Store) AppendAttempt(ctx context.Context, sourceID string, fp availability.Fingerprint, attempt int, outcome string, at time.Time) error {
	err := execRetry(ctx, s.db, `
		INSERT INTO notification_attempts (source_id, fingerprint, attempt, outcome, attempted_at)
		VALUES (?, ?, ?, ?, ?)`,
		sourceID, string(fp), attempt, outcome, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("status: append attempt: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
