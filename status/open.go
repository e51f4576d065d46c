package status

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Open opens the sqlite status database with the pragmas a long-running
// writer needs: WAL journaling, a 10s busy timeout, NORMAL synchronous and
// foreign keys on. Parent directories are created. The caller must blank-
// import a driver registering as "sqlite" (modernc.org/sqlite).
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("status: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("status: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("status: %s: %w", p, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("status: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests, capped to a single
// connection so every query sees the same database, closed via t.Cleanup.
func OpenMemory(t testing.TB) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("status.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

const busyRetries = 3

// isBusy reports whether err is an SQLITE_BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// execRetry executes a statement, retrying BUSY with 100/200/300ms pauses.
// The notify dispatcher writes to the same file; short lock contention is
// expected, not an error.
func execRetry(ctx context.Context, db *sql.DB, query string, args ...any) error {
	var err error
	for i := 0; i < busyRetries; i++ {
		_, err = db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == busyRetries-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100*(i+1)) * time.Millisecond):
		}
	}
	return err
}
