// Package queue implements the durable FIFO of pending folder-copy tasks.
// The queue is the only checkpoint of an in-flight job: whatever is left in
// it is exactly what remains to be copied.
package queue

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

// ErrEmptyQueue is returned by PopFront on an empty queue. Hitting it means
// the caller popped without peeking first.
var ErrEmptyQueue = errors.New("queue is empty")

// ErrJobEnded is returned by EnqueueOnce when the job it enqueues for was
// stopped or replaced.
var ErrJobEnded = errors.New("job no longer active")

// Task mirrors one source folder into one already-existing target folder.
type Task struct {
	SourceID string
	TargetID string
	Path     string // accumulated path from the copy root, for logging only
}

// Phase records how the current (or last) job ended.
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
)

// Queue is a SQLite-backed FIFO of Tasks. Every method is a single statement
// or a single transaction, so a crash between calls never loses or
// duplicates a row.
type Queue struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the queue database at path.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// A single connection serializes statements from this process.
	db.SetMaxOpenConns(1)

	q := &Queue{db: db, path: path}
	if err := q.init(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) init() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id   TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			path        TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS tasks_pair ON tasks (source_id, target_id);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Enqueue appends task to the tail. The queue itself enforces no
// uniqueness.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO tasks (source_id, target_id, path, enqueued_at) VALUES (?, ?, ?, ?)",
		task.SourceID, task.TargetID, task.Path, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Path, err)
	}
	return nil
}

// EnqueueOnce appends task on behalf of job unless a queued task with the
// same source and target already exists, and reports whether it did. It
// returns ErrJobEnded, adding nothing, once job is no longer the started job.
func (q *Queue) EnqueueOnce(ctx context.Context, job string, task Task) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (source_id, target_id, path, enqueued_at)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM tasks WHERE source_id = ? AND target_id = ?
		)
		AND (SELECT COUNT(*) FROM meta
			WHERE (key = 'phase' AND value = ?) OR (key = 'job' AND value = ?)) = 2`,
		task.SourceID, task.TargetID, task.Path, time.Now().UnixNano(),
		task.SourceID, task.TargetID,
		string(PhaseStarted), job,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", task.Path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", task.Path, err)
	}
	if n > 0 {
		return true, nil
	}
	active, err := q.Active(ctx, job)
	if err != nil {
		return false, err
	}
	if !active {
		return false, fmt.Errorf("enqueue %s: %w", task.Path, ErrJobEnded)
	}
	return false, nil
}

// Active reports whether job is the current job and still started. A stop
// or a restart makes it false.
func (q *Queue) Active(ctx context.Context, job string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM meta WHERE (key = 'phase' AND value = ?) OR (key = 'job' AND value = ?)",
		string(PhaseStarted), job,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read job state: %w", err)
	}
	return n == 2, nil
}

// Front returns the oldest task without removing it.
func (q *Queue) Front(ctx context.Context) (Task, bool, error) {
	var t Task
	err := q.db.QueryRowContext(ctx,
		"SELECT source_id, target_id, path FROM tasks ORDER BY seq LIMIT 1",
	).Scan(&t.SourceID, &t.TargetID, &t.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("peek front: %w", err)
	}
	return t, true, nil
}

// PopFront removes the oldest task.
func (q *Queue) PopFront(ctx context.Context) error {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE seq = (SELECT MIN(seq) FROM tasks)",
	)
	if err != nil {
		return fmt.Errorf("pop front: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pop front: %w", err)
	}
	if n == 0 {
		return ErrEmptyQueue
	}
	return nil
}

// IsEmpty reports whether no tasks are queued.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	return n == 0, err
}

// Len returns the number of queued tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// Tasks returns every queued task in FIFO order.
func (q *Queue) Tasks(ctx context.Context) ([]Task, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT source_id, target_id, path FROM tasks ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.SourceID, &t.TargetID, &t.Path); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Discard drops every queued task.
func (q *Queue) Discard(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return fmt.Errorf("discard queue: %w", err)
	}
	return nil
}

// Phase returns the recorded job phase.
func (q *Queue) Phase(ctx context.Context) (Phase, error) {
	v, err := q.meta(ctx, "phase")
	return Phase(v), err
}

// SetPhase records the job phase.
func (q *Queue) SetPhase(ctx context.Context, p Phase) error {
	return q.setMeta(ctx, "phase", string(p))
}

// Job returns the id of the job that last seeded the queue.
func (q *Queue) Job(ctx context.Context) (string, error) {
	return q.meta(ctx, "job")
}

// Seed atomically discards any queued tasks, enqueues the root task and
// marks job as started.
func (q *Queue) Seed(ctx context.Context, job string, root Task) error {
	return q.SeedTx(ctx, job, root, nil)
}

// TxFunc runs extra writes inside a queue transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// SeedTx is Seed with also run in the same transaction, so a job and its
// trigger are committed together. also may be nil. Tables written by also
// must live in the queue's database file.
func (q *Queue) SeedTx(ctx context.Context, job string, root Task, also TxFunc) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return fmt.Errorf("discard queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO tasks (source_id, target_id, path, enqueued_at) VALUES (?, ?, ?, ?)",
		root.SourceID, root.TargetID, root.Path, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("enqueue root: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('phase', ?), ('job', ?)",
		string(PhaseStarted), job,
	); err != nil {
		return fmt.Errorf("store phase: %w", err)
	}
	if also != nil {
		if err := also(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (q *Queue) meta(ctx context.Context, key string) (string, error) {
	var v string
	err := q.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, nil
}

func (q *Queue) setMeta(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value,
	)
	if err != nil {
		return fmt.Errorf("store meta %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Path returns the path to the queue database file.
func (q *Queue) Path() string {
	return q.path
}
