// Package runlog is the operator-facing, append-only record of copy runs.
// Entries are stored one JSON object per line and survive across jobs; only
// Reset removes them.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Category groups entries the way the log is read.
type Category string

const (
	CategorySeparator Category = "---"
	CategoryStart     Category = "Start"
	CategoryRoot      Category = "Root folder"
	CategoryFile      Category = "File"
	CategorySubfolder Category = "Subfolder"
	CategoryFolder    Category = "Folder"
	CategoryProcess   Category = "Process"
)

// Statuses written by the engine and the job controller.
const (
	StatusStarting      = "Starting..."
	StatusRootCreated   = "Created"
	StatusRootResumed   = "Already existed (resuming)"
	StatusFolderCreated = "Structure created"
	StatusCreateError   = "CREATE ERROR"
	StatusCompleted     = "COPY COMPLETED"
)

// Entry is one row of the run log.
type Entry struct {
	Time      time.Time `json:"time"`
	Category  Category  `json:"category"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	SourceURL string    `json:"source_url,omitempty"`
	TargetURL string    `json:"target_url,omitempty"`
	Run       string    `json:"run,omitempty"`
}

// Separator returns the row that visually separates two job starts.
func Separator() Entry {
	return Entry{Category: CategorySeparator, Name: "---", Status: "---"}
}

// IsSeparator reports whether e is a separator row.
func (e Entry) IsSeparator() bool {
	return e.Category == CategorySeparator
}

// FileLog appends entries to a JSONL file. Appends from concurrent processes
// are serialized with flock.
type FileLog struct {
	path string
	run  string
	now  func() time.Time
	mu   sync.Mutex
}

// Open returns a log writing to path. Each FileLog stamps its entries with a
// fresh run id so the rows of one invocation can be told apart.
func Open(path string) *FileLog {
	return &FileLog{path: path, run: uuid.NewString(), now: time.Now}
}

// Run returns the run id stamped on appended entries.
func (l *FileLog) Run() string {
	return l.run
}

// Path returns the log file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes e to the end of the log. Zero Time and Run are filled in.
func (l *FileLog) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Time.IsZero() && !e.IsSeparator() {
		e.Time = l.now().UTC()
	}
	if e.Run == "" {
		e.Run = l.run
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock run log: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck // released on close anyway

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync run log: %w", err)
	}
	return nil
}

// Entries returns every entry in append order. A missing log is empty;
// malformed lines are skipped.
func (l *FileLog) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("lock run log: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck // released on close anyway

	return decode(f)
}

func decode(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan run log: %w", err)
	}
	return entries, nil
}

// Reset removes every entry.
func (l *FileLog) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY, 0)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock run log: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck // released on close anyway

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate run log: %w", err)
	}
	return nil
}
