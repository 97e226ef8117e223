// Package schedule keeps durable, named, one-shot triggers. A trigger is
// registered with a delay, superseded by a later registration under the same
// name and consumed when it fires.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Scheduler stores trigger registrations in SQLite.
type Scheduler struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Open opens (or creates) the trigger table in the database at path. The
// file may be shared with other stores.
func Open(path string, opts ...Option) (*Scheduler, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create schedule dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open schedule db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS triggers (
			name          TEXT PRIMARY KEY,
			due_at        INTEGER NOT NULL,
			registered_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Scheduler{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register arms trigger name to fire after delay, replacing any pending
// registration with the same name.
func (s *Scheduler) Register(ctx context.Context, name string, delay time.Duration) error {
	return s.register(ctx, s.db, name, delay)
}

// RegisterTx is Register inside tx, a transaction opened on another handle
// to the same database file.
func (s *Scheduler) RegisterTx(ctx context.Context, tx *sql.Tx, name string, delay time.Duration) error {
	return s.register(ctx, tx, name, delay)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Scheduler) register(ctx context.Context, db execer, name string, delay time.Duration) error {
	now := s.now()
	_, err := db.ExecContext(ctx,
		"INSERT OR REPLACE INTO triggers (name, due_at, registered_at) VALUES (?, ?, ?)",
		name, now.Add(delay).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("register trigger %s: %w", name, err)
	}
	return nil
}

// CancelAll removes every pending registration of name.
func (s *Scheduler) CancelAll(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM triggers WHERE name = ?", name); err != nil {
		return fmt.Errorf("cancel trigger %s: %w", name, err)
	}
	return nil
}

// Pending returns when trigger name is due, if it is registered.
func (s *Scheduler) Pending(ctx context.Context, name string) (time.Time, bool, error) {
	var due int64
	err := s.db.QueryRowContext(ctx, "SELECT due_at FROM triggers WHERE name = ?", name).Scan(&due)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read trigger %s: %w", name, err)
	}
	return time.Unix(0, due), true, nil
}

// Claim consumes trigger name if it is due and reports whether the caller
// should fire it. The registration is not deleted but pushed lease into the
// future: a handler that finishes re-registers or cancels it, and a handler
// that dies mid-run is fired again once the lease runs out.
func (s *Scheduler) Claim(ctx context.Context, name string, lease time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE triggers SET due_at = ? WHERE name = ? AND due_at <= ?",
		now.Add(lease).UnixNano(), name, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("claim trigger %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim trigger %s: %w", name, err)
	}
	return n > 0, nil
}

// Close closes the database.
func (s *Scheduler) Close() error {
	return s.db.Close()
}
