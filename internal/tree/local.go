package tree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Compile-time interface checks.
var (
	_ Provider = (*Local)(nil)
	_ Folder   = (*localFolder)(nil)
	_ Sweeper  = (*localFolder)(nil)
	_ File     = (*localFile)(nil)
)

// readDirBatch bounds how many directory entries are read per syscall so
// listings stay lazy on very large folders.
const readDirBatch = 256

// Local is a Provider over a directory of the local filesystem. Identifiers
// are slash-separated paths relative to the provider root; "" and "/" name
// the root itself.
type Local struct {
	root    string
	limiter *rate.Limiter
}

// NewLocal creates a local provider rooted at root. A nil limiter disables
// bandwidth limiting.
func NewLocal(root string, limiter *rate.Limiter) *Local {
	return &Local{root: filepath.Clean(root), limiter: limiter}
}

func (p *Local) Folder(_ context.Context, id string) (Folder, error) {
	id = cleanID(id)
	abs := p.abs(id)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: folder %q: %v", ErrNotFound, id, err)
		}
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a folder", ErrNotFound, id)
	}
	return &localFolder{p: p, id: id}, nil
}

func (*Local) Close() error { return nil }

// Root returns the absolute root directory of the provider.
func (p *Local) Root() string { return p.root }

func (p *Local) abs(id string) string {
	return filepath.Join(p.root, filepath.FromSlash(id))
}

type localFolder struct {
	p  *Local
	id string
}

func (f *localFolder) ID() string { return f.id }

func (f *localFolder) Name() string {
	if f.id == "" {
		return filepath.Base(f.p.root)
	}
	return path.Base(f.id)
}

func (f *localFolder) URL() string { return "file://" + filepath.ToSlash(f.p.abs(f.id)) }

func (f *localFolder) Files(ctx context.Context) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		for entry, err := range f.entries(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				// Entry vanished between listing and stat.
				continue
			}
			file := &localFile{p: f.p, id: joinID(f.id, entry.Name()), size: info.Size()}
			if !yield(file, nil) {
				return
			}
		}
	}
}

func (f *localFolder) Subfolders(ctx context.Context) iter.Seq2[Folder, error] {
	return func(yield func(Folder, error) bool) {
		for entry, err := range f.entries(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !entry.IsDir() {
				continue
			}
			if !yield(&localFolder{p: f.p, id: joinID(f.id, entry.Name())}, nil) {
				return
			}
		}
	}
}

func (f *localFolder) SweepTemp(ctx context.Context) (int, error) {
	removed := 0
	for entry, err := range f.entries(ctx) {
		if err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() || !IsTempName(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(f.p.abs(f.id), entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove stale temp %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// entries streams directory entries in batches of readDirBatch.
func (f *localFolder) entries(ctx context.Context) iter.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		dir, err := os.Open(f.p.abs(f.id))
		if err != nil {
			yield(nil, fmt.Errorf("open folder %q: %w", f.id, err))
			return
		}
		defer dir.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			batch, err := dir.ReadDir(readDirBatch)
			for _, entry := range batch {
				if !yield(entry, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("readdir %q: %w", f.id, err))
				return
			}
		}
	}
}

func (f *localFolder) FindFile(_ context.Context, name string) (File, bool, error) {
	if err := validName(name); err != nil {
		return nil, false, err
	}
	id := joinID(f.id, name)
	info, err := os.Lstat(f.p.abs(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lstat %q: %w", id, err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}
	return &localFile{p: f.p, id: id, size: info.Size()}, true, nil
}

func (f *localFolder) FindFolder(_ context.Context, name string) (Folder, bool, error) {
	if err := validName(name); err != nil {
		return nil, false, err
	}
	id := joinID(f.id, name)
	info, err := os.Lstat(f.p.abs(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lstat %q: %w", id, err)
	}
	if !info.IsDir() {
		return nil, false, nil
	}
	return &localFolder{p: f.p, id: id}, true, nil
}

func (f *localFolder) CreateFolder(_ context.Context, name string) (Folder, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	id := joinID(f.id, name)
	if err := os.Mkdir(f.p.abs(id), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", id, err)
	}
	return &localFolder{p: f.p, id: id}, nil
}

type localFile struct {
	p    *Local
	id   string
	size int64
}

func (f *localFile) ID() string   { return f.id }
func (f *localFile) Name() string { return path.Base(f.id) }
func (f *localFile) Size() int64  { return f.size }

// CopyInto writes the file to a temp file in dst and renames it into place,
// so an interrupted copy never leaves a partial file under the final name.
func (f *localFile) CopyInto(ctx context.Context, dst Folder, name string) (File, error) {
	target, ok := dst.(*localFolder)
	if !ok {
		return nil, fmt.Errorf("copy %q: destination is not a local folder", f.id)
	}
	if err := validName(name); err != nil {
		return nil, err
	}

	src, err := os.Open(f.p.abs(f.id))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", f.id, err)
	}
	defer src.Close()

	dstDir := target.p.abs(target.id)
	tmpPath := filepath.Join(dstDir, tempName(name))
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp %s: %w", tmpPath, err)
	}

	n, err := f.copyTo(ctx, tmp, src, target.p.limiter)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("copy %q: %w", f.id, err)
	}

	id := joinID(target.id, name)
	if err := os.Rename(tmpPath, target.p.abs(id)); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return &localFile{p: target.p, id: id, size: n}, nil
}

// copyTo copies src into tmp. Unthrottled copies are done in the kernel
// when the filesystem supports it.
func (f *localFile) copyTo(ctx context.Context, tmp, src *os.File, limiter *rate.Limiter) (int64, error) {
	if limiter == nil {
		if n, ok, err := copyRange(tmp, src, f.size); ok {
			return n, err
		}
	}
	return io.CopyBuffer(tmp, limitReader(ctx, src, limiter), make([]byte, 32*1024))
}

// tempName returns a hidden, collision-free sibling name for name.
func tempName(name string) string {
	return fmt.Sprintf(".%s.%s%s", name, uuid.New().String()[:8], TempSuffix)
}

func cleanID(id string) string {
	id = strings.Trim(path.Clean("/"+filepath.ToSlash(id)), "/")
	return id
}

func joinID(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
