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

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
)

// Compile-time interface checks.
var (
	_ Provider = (*SFTP)(nil)
	_ Folder   = (*sftpFolder)(nil)
	_ Sweeper  = (*sftpFolder)(nil)
	_ File     = (*sftpFile)(nil)
)

// SFTP is a Provider over a directory tree on a remote host. Identifiers
// are slash-separated paths relative to the remote root.
type SFTP struct {
	client  *sftp.Client
	ssh     *ssh.Client
	host    string
	root    string
	limiter *rate.Limiter
}

// NewSFTP creates a provider backed by an established SSH connection. The
// provider owns sshClient and closes it in Close.
func NewSFTP(sshClient *ssh.Client, host, root string, limiter *rate.Limiter) (*SFTP, error) {
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	if root == "" {
		root = "/"
	}
	return &SFTP{
		client:  client,
		ssh:     sshClient,
		host:    host,
		root:    path.Clean(root),
		limiter: limiter,
	}, nil
}

func (p *SFTP) Folder(_ context.Context, id string) (Folder, error) {
	id = cleanID(id)
	abs := p.abs(id)
	info, err := p.client.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: folder %q: %v", ErrNotFound, id, err)
		}
		return nil, fmt.Errorf("sftp stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a folder", ErrNotFound, id)
	}
	return &sftpFolder{p: p, id: id}, nil
}

func (p *SFTP) Close() error {
	err := p.client.Close()
	if sshErr := p.ssh.Close(); sshErr != nil && err == nil {
		err = sshErr
	}
	return err
}

func (p *SFTP) abs(id string) string {
	return path.Join(p.root, id)
}

type sftpFolder struct {
	p  *SFTP
	id string
}

func (f *sftpFolder) ID() string { return f.id }

func (f *sftpFolder) Name() string {
	if f.id == "" {
		return path.Base(f.p.root)
	}
	return path.Base(f.id)
}

func (f *sftpFolder) URL() string { return "sftp://" + f.p.host + f.p.abs(f.id) }

func (f *sftpFolder) Files(ctx context.Context) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		infos, err := f.readDir(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, info := range infos {
			if !info.Mode().IsRegular() {
				continue
			}
			file := &sftpFile{p: f.p, id: joinID(f.id, info.Name()), size: info.Size()}
			if !yield(file, nil) {
				return
			}
		}
	}
}

func (f *sftpFolder) Subfolders(ctx context.Context) iter.Seq2[Folder, error] {
	return func(yield func(Folder, error) bool) {
		infos, err := f.readDir(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, info := range infos {
			if !info.IsDir() {
				continue
			}
			if !yield(&sftpFolder{p: f.p, id: joinID(f.id, info.Name())}, nil) {
				return
			}
		}
	}
}

func (f *sftpFolder) SweepTemp(ctx context.Context) (int, error) {
	infos, err := f.readDir(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		if !info.Mode().IsRegular() || !IsTempName(info.Name()) {
			continue
		}
		abs := path.Join(f.p.abs(f.id), info.Name())
		if err := f.p.client.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("sftp remove stale temp %s: %w", abs, err)
		}
		removed++
	}
	return removed, nil
}

func (f *sftpFolder) readDir(ctx context.Context) ([]os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs := f.p.abs(f.id)
	infos, err := f.p.client.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("sftp readdir %s: %w", abs, err)
	}
	return infos, nil
}

func (f *sftpFolder) FindFile(_ context.Context, name string) (File, bool, error) {
	info, id, ok, err := f.lstatChild(name)
	if err != nil || !ok || !info.Mode().IsRegular() {
		return nil, false, err
	}
	return &sftpFile{p: f.p, id: id, size: info.Size()}, true, nil
}

func (f *sftpFolder) FindFolder(_ context.Context, name string) (Folder, bool, error) {
	info, id, ok, err := f.lstatChild(name)
	if err != nil || !ok || !info.IsDir() {
		return nil, false, err
	}
	return &sftpFolder{p: f.p, id: id}, true, nil
}

func (f *sftpFolder) lstatChild(name string) (os.FileInfo, string, bool, error) {
	if err := validName(name); err != nil {
		return nil, "", false, err
	}
	id := joinID(f.id, name)
	info, err := f.p.client.Lstat(f.p.abs(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, id, false, nil
	}
	if err != nil {
		return nil, id, false, fmt.Errorf("sftp lstat %q: %w", id, err)
	}
	return info, id, true, nil
}

func (f *sftpFolder) CreateFolder(_ context.Context, name string) (Folder, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	id := joinID(f.id, name)
	if err := f.p.client.Mkdir(f.p.abs(id)); err != nil {
		return nil, fmt.Errorf("sftp mkdir %q: %w", id, err)
	}
	return &sftpFolder{p: f.p, id: id}, nil
}

type sftpFile struct {
	p    *SFTP
	id   string
	size int64
}

func (f *sftpFile) ID() string   { return f.id }
func (f *sftpFile) Name() string { return path.Base(f.id) }
func (f *sftpFile) Size() int64  { return f.size }

// CopyInto streams the file through this host into a temp file next to the
// destination and renames it into place.
func (f *sftpFile) CopyInto(ctx context.Context, dst Folder, name string) (File, error) {
	target, ok := dst.(*sftpFolder)
	if !ok || target.p != f.p {
		return nil, fmt.Errorf("copy %q: destination is not on the same sftp host", f.id)
	}
	if err := validName(name); err != nil {
		return nil, err
	}

	src, err := f.p.client.Open(f.p.abs(f.id))
	if err != nil {
		return nil, fmt.Errorf("sftp open %q: %w", f.id, err)
	}
	defer src.Close()

	tmpPath := path.Join(f.p.abs(target.id), tempName(name))
	tmp, err := f.p.client.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return nil, fmt.Errorf("sftp create temp %s: %w", tmpPath, err)
	}

	n, err := io.Copy(tmp, limitReader(ctx, src, f.p.limiter))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = f.p.client.Remove(tmpPath)
		return nil, fmt.Errorf("sftp copy %q: %w", f.id, err)
	}

	id := joinID(target.id, name)
	if err := f.p.client.PosixRename(tmpPath, f.p.abs(id)); err != nil {
		// Servers without the posix-rename extension fall back to plain rename.
		if renameErr := f.p.client.Rename(tmpPath, f.p.abs(id)); renameErr != nil {
			_ = f.p.client.Remove(tmpPath)
			return nil, fmt.Errorf("sftp rename %s: %w", tmpPath, renameErr)
		}
	}
	return &sftpFile{p: f.p, id: id, size: n}, nil
}
