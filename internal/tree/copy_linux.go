//go:build linux

package tree

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// copyRange copies size bytes from src to dst in the kernel with
// copy_file_range(2), preallocating dst first. ok is false when the
// filesystem pair does not support it and nothing was written, in which
// case the caller falls back to a user-space copy.
func copyRange(dst, src *os.File, size int64) (n int64, ok bool, err error) {
	if size > 0 {
		//nolint:errcheck // fallocate is advisory; not supported on all filesystems
		unix.Fallocate(int(dst.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
	}

	for {
		w, err := unix.CopyFileRange(int(src.Fd()), nil, int(dst.Fd()), nil, 1<<30, 0)
		if err != nil {
			if n == 0 && unsupported(err) {
				return 0, false, nil
			}
			return n, true, err
		}
		if w == 0 {
			return n, true, nil
		}
		n += int64(w)
	}
}

func unsupported(err error) bool {
	return errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EINVAL)
}
