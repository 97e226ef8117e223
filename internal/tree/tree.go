// Package tree abstracts a hierarchical storage backend whose folders and
// files are addressed by stable identifiers.
package tree

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when an identifier does not resolve to a folder.
var ErrNotFound = errors.New("not found")

// TempSuffix ends the name of a file whose copy is still in flight.
const TempSuffix = ".shuttle-tmp"

// IsTempName reports whether name is an in-flight copy's temp file.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, TempSuffix)
}

// Provider resolves folder identifiers on one storage backend.
type Provider interface {
	// Folder resolves id to a folder. Fails with ErrNotFound when the id is
	// unknown, deleted or not a folder.
	Folder(ctx context.Context, id string) (Folder, error)

	// Close releases resources held by the provider.
	Close() error
}

// Folder is a container of files and subfolders.
type Folder interface {
	ID() string
	Name() string

	// URL is a human-readable locator used in run log entries.
	URL() string

	// Files lists the immediate files of the folder. The sequence is lazy
	// and can be restarted from scratch; it carries no cursor.
	Files(ctx context.Context) iter.Seq2[File, error]

	// Subfolders lists the immediate subfolders of the folder.
	Subfolders(ctx context.Context) iter.Seq2[Folder, error]

	// FindFile looks up an immediate file by name.
	FindFile(ctx context.Context, name string) (File, bool, error)

	// FindFolder looks up an immediate subfolder by name.
	FindFolder(ctx context.Context, name string) (Folder, bool, error)

	// CreateFolder creates a new immediate subfolder.
	CreateFolder(ctx context.Context, name string) (Folder, error)
}

// File is a leaf object that can be copied into a folder of the same
// provider.
type File interface {
	ID() string
	Name() string
	Size() int64

	// CopyInto copies the file into dst under name and returns the copy.
	CopyInto(ctx context.Context, dst Folder, name string) (File, error)
}

// Sweeper is implemented by folders whose copies land through temp files.
type Sweeper interface {
	// SweepTemp removes temp files an interrupted copy left in the folder
	// and returns how many it removed. Only safe while no copy into the
	// folder is running.
	SweepTemp(ctx context.Context) (int, error)
}
