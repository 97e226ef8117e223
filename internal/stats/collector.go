package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks the counters of one copy invocation using lock-free
// atomic counters.
type Collector struct {
	filesCopied    atomic.Int64
	filesSkipped   atomic.Int64
	filesFailed    atomic.Int64
	filesFiltered  atomic.Int64
	bytesCopied    atomic.Int64
	foldersCreated atomic.Int64
	foldersReused  atomic.Int64
	foldersFailed  atomic.Int64
	tasksDone      atomic.Int64
	tasksDropped   atomic.Int64
	startTime      time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesCopied    int64
	FilesSkipped   int64
	FilesFailed    int64
	FilesFiltered  int64
	BytesCopied    int64
	FoldersCreated int64
	FoldersReused  int64
	FoldersFailed  int64
	TasksDone      int64
	TasksDropped   int64
	Elapsed        time.Duration
}

func (c *Collector) AddFilesCopied(n int64)    { c.filesCopied.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)   { c.filesSkipped.Add(n) }
func (c *Collector) AddFilesFailed(n int64)    { c.filesFailed.Add(n) }
func (c *Collector) AddFilesFiltered(n int64)  { c.filesFiltered.Add(n) }
func (c *Collector) AddBytesCopied(n int64)    { c.bytesCopied.Add(n) }
func (c *Collector) AddFoldersCreated(n int64) { c.foldersCreated.Add(n) }
func (c *Collector) AddFoldersReused(n int64)  { c.foldersReused.Add(n) }
func (c *Collector) AddFoldersFailed(n int64)  { c.foldersFailed.Add(n) }
func (c *Collector) AddTasksDone(n int64)      { c.tasksDone.Add(n) }
func (c *Collector) AddTasksDropped(n int64)   { c.tasksDropped.Add(n) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesCopied:    c.filesCopied.Load(),
		FilesSkipped:   c.filesSkipped.Load(),
		FilesFailed:    c.filesFailed.Load(),
		FilesFiltered:  c.filesFiltered.Load(),
		BytesCopied:    c.bytesCopied.Load(),
		FoldersCreated: c.foldersCreated.Load(),
		FoldersReused:  c.foldersReused.Load(),
		FoldersFailed:  c.foldersFailed.Load(),
		TasksDone:      c.tasksDone.Load(),
		TasksDropped:   c.tasksDropped.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"copied=%d skipped=%d failed=%d filtered=%d bytes=%d folders=%d reused=%d folder_errors=%d tasks=%d dropped=%d",
		s.FilesCopied, s.FilesSkipped, s.FilesFailed, s.FilesFiltered, s.BytesCopied,
		s.FoldersCreated, s.FoldersReused, s.FoldersFailed, s.TasksDone, s.TasksDropped,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
