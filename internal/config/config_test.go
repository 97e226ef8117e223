package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/shuttle/internal/config"
)

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Folders.Source)
	assert.Nil(t, cfg.Engine.Budget)
	assert.Nil(t, cfg.Storage.Kind)
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "shuttle")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
[folders]
source = "photos"
dest = "backup"

[engine]
budget = "5m"
rearm_delay = "30s"
bwlimit = "10M"
root_suffix = " (copy)"

[storage]
kind = "sftp"
root = "/srv/data"
host = "nas.local"
port = 2222
user = "ops"
key_file = "~/.ssh/id_ed25519"
password = "hunter2"
known_hosts = "/etc/shuttle/known_hosts"

[state]
dir = "/var/lib/shuttle"

[watch]
poll = "@every 10s"

[filter]
exclude = ["*.tmp", ".git/"]
min_size = "1K"

[notify]
webhook_url = "https://hooks.example.com/shuttle"
mail_to = ["ops@example.com"]
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "photos", cfg.Folders.Source)
	assert.Equal(t, "backup", cfg.Folders.Dest)

	require.NotNil(t, cfg.Engine.Budget)
	assert.Equal(t, "5m", *cfg.Engine.Budget)
	require.NotNil(t, cfg.Engine.RootSuffix)
	assert.Equal(t, " (copy)", *cfg.Engine.RootSuffix)

	require.NotNil(t, cfg.Storage.Port)
	assert.Equal(t, 2222, *cfg.Storage.Port)
	assert.Equal(t, "nas.local", config.String(cfg.Storage.Host, ""))
	assert.Equal(t, "hunter2", config.String(cfg.Storage.Password, ""))
	assert.Equal(t, "/etc/shuttle/known_hosts", config.String(cfg.Storage.KnownHosts, ""))
	assert.Nil(t, cfg.Storage.InsecureIgnoreHostKey, "host key checking stays on unless asked")

	assert.Equal(t, "/var/lib/shuttle", cfg.StateDir())
	assert.Equal(t, "@every 10s", config.String(cfg.Watch.Poll, ""))
	assert.Equal(t, []string{"*.tmp", ".git/"}, cfg.Filter.Exclude)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Notify.MailTo)

	// Unset fields should remain nil.
	assert.Nil(t, cfg.Filter.MaxSize)
	assert.Nil(t, cfg.Notify.SMTPAddr)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "shuttle")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte("invalid [[["), 0o644))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/shuttle/config.toml", config.Path())
}

func TestStateDirDefault(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	assert.Equal(t, "/custom/state/shuttle", config.Config{}.StateDir())
}

func TestDuration(t *testing.T) {
	d, err := config.Duration(nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	v := "90s"
	d, err = config.Duration(&v, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	for _, bad := range []string{"soon", "-1m", "0s"} {
		_, err = config.Duration(&bad, time.Minute)
		assert.Error(t, err, bad)
	}
}
