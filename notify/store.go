package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/yadowatch/availability"
)

// Delivery states of a fingerprint. Absence of a row means the fingerprint
// has never been seen (or was re-armed) and may be delivered.
const (
	statePending   = "pending"
	stateDelivered = "delivered"
	stateExhausted = "exhausted"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS notify_state (
	fingerprint TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS notify_state_source ON notify_state(source_id);
`

// store persists per-fingerprint delivery state so dedup survives restarts.
type store struct {
	db *sql.DB
}

func newStore(db *sql.DB) (*store, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("notify: create schema: %w", err)
	}
	return &store{db: db}, nil
}

// state returns the fingerprint's delivery state and the attempts already
// burned on it, "" when the fingerprint is unknown.
func (s *store) state(ctx context.Context, fp availability.Fingerprint) (string, int, error) {
	var st string
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`SELECT state, attempts FROM notify_state WHERE fingerprint = ?`, string(fp)).Scan(&st, &attempts)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("notify: read state: %w", err)
	}
	return st, attempts, nil
}

// setState upserts a fingerprint's state and attempt count.
func (s *store) setState(ctx context.Context, sourceID string, fp availability.Fingerprint, state string, attempts int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notify_state (fingerprint, source_id, state, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at`,
		string(fp), sourceID, state, attempts, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("notify: set state %s: %w", state, err)
	}
	return nil
}

// rearmAbsent deletes every state row of the source whose fingerprint is not
// in the open set, re-arming those discoveries for future delivery. Returns
// how many fingerprints were re-armed.
func (s *store) rearmAbsent(ctx context.Context, sourceID string, open map[availability.Fingerprint]bool) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint FROM notify_state WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("notify: list states: %w", err)
	}
	var stale []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: scan state: %w", err)
		}
		if !open[availability.Fingerprint(fp)] {
			stale = append(stale, fp)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("notify: list states: %w", err)
	}
	rows.Close()

	for _, fp := range stale {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM notify_state WHERE fingerprint = ?`, fp); err != nil {
			return 0, fmt.Errorf("notify: rearm: %w", err)
		}
	}
	return len(stale), nil
}
