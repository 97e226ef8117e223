package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/shuttle/internal/config"
	"github.com/bamsammich/shuttle/internal/lock"
)

type harness struct {
	cfgPath  string
	stateDir string
	data     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		cfgPath:  filepath.Join(dir, "config.toml"),
		stateDir: filepath.Join(dir, "state"),
		data:     filepath.Join(dir, "data"),
	}

	writeFile(t, filepath.Join(h.data, "src", "docs", "a.txt"), "alpha")
	writeFile(t, filepath.Join(h.data, "src", "docs", "b.txt"), "bravo")
	writeFile(t, filepath.Join(h.data, "src", "docs", "sub", "c.txt"), "charlie")
	require.NoError(t, os.MkdirAll(filepath.Join(h.data, "dst"), 0o755))

	writeFile(t, h.cfgPath, "[storage]\nkind = \"local\"\nroot = \""+filepath.ToSlash(h.data)+"\"\n")
	return h
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// run executes shuttle with the harness's config and state dir.
func (h *harness) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", h.cfgPath, "--state-dir", h.stateDir}, args...)
	code := execute(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (h *harness) copied(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.data, "dst", "docs (Copia)", rel))
	require.NoError(t, err)
	return string(data)
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"--version"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Equal(t, "shuttle dev\n", stdout.String())
}

func TestJobLifecycle(t *testing.T) {
	h := newHarness(t)

	code, out, _ := h.run(t, "config", "set-folders", "src/docs", "dst")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "folders saved")

	code, out, errOut := h.run(t, "start")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `created "docs (Copia)"`)

	code, out, _ = h.run(t, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "suspended")
	assert.Contains(t, out, "1 folders")

	code, _, errOut = h.run(t, "tick")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "completed")

	assert.Equal(t, "alpha", h.copied(t, "a.txt"))
	assert.Equal(t, "bravo", h.copied(t, "b.txt"))
	assert.Equal(t, "charlie", h.copied(t, filepath.Join("sub", "c.txt")))

	code, out, _ = h.run(t, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "completed")

	code, out, _ = h.run(t, "log")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "COPY COMPLETED")
	assert.Contains(t, out, "Structure created")

	// Nothing is due once the job is done.
	code, _, errOut = h.run(t, "tick")
	require.Equal(t, 0, code)
	assert.Contains(t, errOut, "no invocation scheduled")

	code, out, _ = h.run(t, "stop")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "job stopped")

	code, out, _ = h.run(t, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "cancelled")
}

func TestStart_WithoutFoldersIsUsageError(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run(t, "start")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "not configured")
}

func TestStart_MissingSourceIsUsageError(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run(t, "config", "set-folders", "src/nope", "dst")
	require.Equal(t, 0, code)

	code, _, errOut := h.run(t, "start")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "not accessible")
}

func TestSetFolders_RejectsEmpty(t *testing.T) {
	h := newHarness(t)
	code, _, errOut := h.run(t, "config", "set-folders", " ", "dst")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "must not be empty")
}

func TestStart_FailsWhileInvocationRuns(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run(t, "config", "set-folders", "src/docs", "dst")
	require.Equal(t, 0, code)

	held := lock.New(filepath.Join(h.stateDir, config.LockFile))
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	code, _, errOut := h.run(t, "start")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already running")

	code, out, _ := h.run(t, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "running")
}

func TestStop_WhileInvocationRuns(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run(t, "config", "set-folders", "src/docs", "dst")
	require.Equal(t, 0, code)
	code, _, _ = h.run(t, "start")
	require.Equal(t, 0, code)

	held := lock.New(filepath.Join(h.stateDir, config.LockFile))
	require.NoError(t, held.TryLock())

	code, out, errOut := h.run(t, "stop")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "job stopped")

	require.NoError(t, held.Unlock())
	code, out, _ = h.run(t, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "cancelled")
	assert.Contains(t, out, "0 folders")

	// The trigger is gone: a later tick copies nothing.
	code, _, errOut = h.run(t, "tick", "--force")
	require.Equal(t, 0, code, errOut)
	assert.NoFileExists(t, filepath.Join(h.data, "dst", "docs (Copia)", "a.txt"))
}

func TestTick_SkipsWhileLocked(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run(t, "config", "set-folders", "src/docs", "dst")
	require.Equal(t, 0, code)
	code, _, _ = h.run(t, "start")
	require.Equal(t, 0, code)

	held := lock.New(filepath.Join(h.stateDir, config.LockFile))
	require.NoError(t, held.TryLock())

	code, _, errOut := h.run(t, "tick", "--force")
	assert.Equal(t, 0, code)
	assert.Contains(t, errOut, "another invocation is running")
	assert.NoFileExists(t, filepath.Join(h.data, "dst", "docs (Copia)", "a.txt"))

	require.NoError(t, held.Unlock())
	code, _, errOut = h.run(t, "tick", "--force")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "alpha", h.copied(t, "a.txt"))
}

func TestTick_InvalidFlags(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run(t, "tick", "--budget", "soon")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "budget")

	code, _, errOut = h.run(t, "tick", "--bwlimit", "fast")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "bwlimit")
}

func TestTick_UnknownStorageKind(t *testing.T) {
	h := newHarness(t)
	writeFile(t, h.cfgPath, "[storage]\nkind = \"ftp\"\n")

	code, _, errOut := h.run(t, "tick")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `unknown storage kind "ftp"`)
}

func TestTick_SFTPRequiresKnownHosts(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")
	h := newHarness(t)
	writeFile(t, h.cfgPath, "[storage]\nkind = \"sftp\"\nhost = \"127.0.0.1\"\nuser = \"ops\"\npassword = \"pw\"\n")

	code, _, errOut := h.run(t, "tick", "--force")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "known_hosts")
	assert.Contains(t, errOut, "insecure_ignore_host_key")
}

func TestConfigFileParseErrorIsUsageError(t *testing.T) {
	h := newHarness(t)
	writeFile(t, h.cfgPath, "[storage\n")

	code, _, _ := h.run(t, "status")
	assert.Equal(t, 2, code)
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	h := newHarness(t)
	writeFile(t, h.cfgPath, `[folders]
source = "src/docs"
dest = "dst"

[storage]
kind = "sftp"
host = "nas.local"
password = "tr0ub4dor"

[notify]
webhook_url = "https://hooks.example.com/shuttle"
webhook_secret = "s3cret"
smtp_password = "hunter2"
`)

	code, out, _ := h.run(t, "config", "show")
	require.Equal(t, 0, code)
	assert.Contains(t, out, h.cfgPath)
	assert.Contains(t, out, `source = "src/docs"`)
	assert.Contains(t, out, "https://hooks.example.com/shuttle")
	assert.Contains(t, out, masked)
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "tr0ub4dor")
}

func TestLogReset(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run(t, "config", "set-folders", "src/docs", "dst")
	require.Equal(t, 0, code)
	code, _, _ = h.run(t, "start")
	require.Equal(t, 0, code)

	code, out, _ := h.run(t, "log", "-n", "1")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Root folder")
	assert.NotContains(t, out, "New run")

	code, out, _ = h.run(t, "log", "--reset")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "run log cleared")

	code, out, _ = h.run(t, "log")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "run log is empty")
}

func TestLogFileFlag(t *testing.T) {
	h := newHarness(t)
	logPath := filepath.Join(t.TempDir(), "shuttle.jsonl")

	code, _, _ := h.run(t, "--log", logPath, "-v", "status")
	require.Equal(t, 0, code)
	assert.FileExists(t, logPath)
}

func TestApplyConfigDefaults(t *testing.T) {
	budget, rearm, bw := "5m", "30s", "10M"
	defaults := config.EngineConfig{Budget: &budget, RearmDelay: &rearm, BWLimit: &bw}

	t.Run("config fills unset flags", func(t *testing.T) {
		var s engineSettings
		cmd := &cobra.Command{}
		engineFlags(cmd, &s)
		applyConfigDefaults(cmd, defaults, &s)
		assert.Equal(t, engineSettings{budget: "5m", rearmDelay: "30s", bwLimit: "10M"}, s)
	})

	t.Run("flags win", func(t *testing.T) {
		var s engineSettings
		cmd := &cobra.Command{}
		engineFlags(cmd, &s)
		require.NoError(t, cmd.Flags().Set("budget", "1h"))
		applyConfigDefaults(cmd, defaults, &s)
		assert.Equal(t, "1h", s.budget)
		assert.Equal(t, "30s", s.rearmDelay)
	})
}

func TestNotifierFromConfig(t *testing.T) {
	url, addr := "https://hooks.example.com", "smtp.example.com:587"
	c := &cli{}
	assert.Empty(t, c.notifier(), "nothing configured")

	c.cfg.Notify.WebhookURL = &url
	c.cfg.Notify.SMTPAddr = &addr
	assert.Len(t, c.notifier(), 1, "mail needs recipients")

	c.cfg.Notify.MailTo = []string{"ops@example.com"}
	assert.Len(t, c.notifier(), 2)
}

func TestTick_ExcludeFlag(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run(t, "config", "set-folders", "src/docs", "dst")
	require.Equal(t, 0, code)
	code, _, _ = h.run(t, "start")
	require.Equal(t, 0, code)

	code, _, errOut := h.run(t, "tick", "--exclude", "b.txt", "--exclude", "sub/")
	require.Equal(t, 0, code, errOut)

	assert.Equal(t, "alpha", h.copied(t, "a.txt"))
	assert.NoFileExists(t, filepath.Join(h.data, "dst", "docs (Copia)", "b.txt"))
	assert.NoDirExists(t, filepath.Join(h.data, "dst", "docs (Copia)", "sub"))
}
