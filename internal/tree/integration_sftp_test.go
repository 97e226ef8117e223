//go:build integration

package tree_test

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/ssh"

	"github.com/bamsammich/shuttle/internal/engine"
	"github.com/bamsammich/shuttle/internal/queue"
	"github.com/bamsammich/shuttle/internal/runlog"
	"github.com/bamsammich/shuttle/internal/schedule"
	"github.com/bamsammich/shuttle/internal/tree"
)

const (
	sftpUser     = "testuser"
	sftpPassword = "testpass"
	sftpRoot     = "/data" // chroot-relative home of sftpUser
)

// startSFTPServer runs an atmoz/sftp container with a writable data folder
// in the user's home and returns its address.
func startSFTPServer(t *testing.T) tree.SSHConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "atmoz/sftp:latest",
			ExposedPorts: []string{"22/tcp"},
			Cmd:          []string{fmt.Sprintf("%s:%s:::data", sftpUser, sftpPassword)},
			WaitingFor:   wait.ForListeningPort("22/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	}
	ctr, err := testcontainers.GenericContainer(ctx, req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	mapped, err := ctr.MappedPort(ctx, "22/tcp")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	return tree.SSHConfig{
		Host:                  host,
		Port:                  port,
		User:                  sftpUser,
		Password:              sftpPassword,
		InsecureIgnoreHostKey: true,
	}
}

// dial retries while sshd finishes starting behind the open port.
func dial(t *testing.T, cfg tree.SSHConfig) *ssh.Client {
	t.Helper()
	var lastErr error
	for range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := tree.DialSSH(ctx, cfg)
		cancel()
		if err == nil {
			return client
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, lastErr, "sftp server at %s never accepted a login", cfg.Addr())
	return nil
}

func openSFTP(t *testing.T, cfg tree.SSHConfig) *tree.SFTP {
	t.Helper()
	p, err := tree.NewSFTP(dial(t, cfg), cfg.Host, sftpRoot, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// rawClient is a plain sftp session for seeding and inspecting the server.
func rawClient(t *testing.T, cfg tree.SSHConfig) *sftp.Client {
	t.Helper()
	conn := dial(t, cfg)
	c, err := sftp.NewClient(conn)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		conn.Close()
	})
	return c
}

func put(t *testing.T, c *sftp.Client, rel, data string) {
	t.Helper()
	abs := path.Join(sftpRoot, rel)
	require.NoError(t, c.MkdirAll(path.Dir(abs)))
	f, err := c.Create(abs)
	require.NoError(t, err)
	_, err = f.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func get(t *testing.T, c *sftp.Client, rel string) string {
	t.Helper()
	f, err := c.Open(path.Join(sftpRoot, rel))
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

// remoteTree lists everything under rel as sorted slash paths, folders
// with a trailing slash.
func remoteTree(t *testing.T, c *sftp.Client, rel string) []string {
	t.Helper()
	base := path.Join(sftpRoot, rel)
	var out []string
	w := c.Walk(base)
	for w.Step() {
		require.NoError(t, w.Err())
		if w.Path() == base {
			continue
		}
		p := w.Path()[len(base)+1:]
		if w.Stat().IsDir() {
			p += "/"
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func TestIntegration_SFTPProvider(t *testing.T) {
	t.Parallel()
	cfg := startSFTPServer(t)
	raw := rawClient(t, cfg)
	p := openSFTP(t, cfg)
	ctx := context.Background()

	put(t, raw, "src/a.txt", "alpha")
	put(t, raw, "src/sub/c.txt", "charlie")

	root, err := p.Folder(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "data", root.Name())

	_, err = p.Folder(ctx, "missing")
	require.ErrorIs(t, err, tree.ErrNotFound)

	src, err := p.Folder(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, "sftp://"+cfg.Host+"/data/src", src.URL())

	file, ok, err := src.FindFile(ctx, "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), file.Size())

	_, ok, err = src.FindFile(ctx, "sub")
	require.NoError(t, err)
	assert.False(t, ok, "a folder is not a file")

	sub, ok, err := src.FindFolder(ctx, "sub")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "src/sub", sub.ID())

	dst, err := root.CreateFolder(ctx, "dst")
	require.NoError(t, err)
	_, err = root.CreateFolder(ctx, "dst")
	require.Error(t, err, "creating an existing folder fails")

	copied, err := file.CopyInto(ctx, dst, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "dst/a.txt", copied.ID())
	assert.Equal(t, int64(5), copied.Size())
	assert.Equal(t, "alpha", get(t, raw, "dst/a.txt"))
	assert.Equal(t, []string{"a.txt"}, remoteTree(t, raw, "dst"), "no temp file left behind")

	// A temp file from a killed copy is swept, real files stay.
	put(t, raw, "dst/.b.txt.0badc0de.shuttle-tmp", "br")
	n, err := dst.(tree.Sweeper).SweepTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a.txt"}, remoteTree(t, raw, "dst"))
}

func TestIntegration_EngineOverSFTP(t *testing.T) {
	t.Parallel()
	cfg := startSFTPServer(t)
	raw := rawClient(t, cfg)
	p := openSFTP(t, cfg)
	ctx := context.Background()

	put(t, raw, "src/docs/a.txt", "alpha")
	put(t, raw, "src/docs/b.txt", "bravo")
	put(t, raw, "src/docs/sub/c.txt", "charlie")
	put(t, raw, "src/docs/sub/deep/d.txt", "delta")
	require.NoError(t, raw.MkdirAll(path.Join(sftpRoot, "dst", "docs (Copia)")))

	state := t.TempDir()
	dbPath := filepath.Join(state, "shuttle.db")
	q, err := queue.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	s, err := schedule.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, q.Seed(ctx, "sftp", queue.Task{
		SourceID: "src/docs",
		TargetID: "dst/docs (Copia)",
		Path:     "docs (Copia)",
	}))

	res, err := engine.New(engine.Config{}, engine.Deps{
		Provider:  p,
		Queue:     q,
		Scheduler: s,
		Log:       runlog.Open(filepath.Join(state, "run.jsonl")),
	}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.Equal(t, int64(4), res.Stats.FilesCopied)
	assert.Equal(t, int64(2), res.Stats.FoldersCreated)
	assert.Equal(t, []string{"a.txt", "b.txt", "sub/", "sub/c.txt", "sub/deep/", "sub/deep/d.txt"},
		remoteTree(t, raw, "dst/docs (Copia)"))
	assert.Equal(t, "delta", get(t, raw, "dst/docs (Copia)/sub/deep/d.txt"))
}
