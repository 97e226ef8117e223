package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the shuttle configuration file. Every section is
// optional; unset pointer fields fall back to flag defaults.
type Config struct {
	Folders FoldersConfig `toml:"folders"`
	Engine  EngineConfig  `toml:"engine"`
	Storage StorageConfig `toml:"storage"`
	State   StateConfig   `toml:"state"`
	Watch   WatchConfig   `toml:"watch"`
	Filter  FilterConfig  `toml:"filter"`
	Notify  NotifyConfig  `toml:"notify"`
}

// FoldersConfig holds the source and destination root folder ids.
type FoldersConfig struct {
	Source string `toml:"source,omitempty"`
	Dest   string `toml:"dest,omitempty"`
}

// EngineConfig tunes copy invocations.
type EngineConfig struct {
	Budget     *string `toml:"budget"`
	RearmDelay *string `toml:"rearm_delay"`
	BWLimit    *string `toml:"bwlimit"`
	RootSuffix *string `toml:"root_suffix"`
}

// StorageConfig selects the storage backend. Folder ids are paths relative
// to Root on that backend.
type StorageConfig struct {
	Kind       *string `toml:"kind"` // "local" or "sftp"
	Root       *string `toml:"root"`
	Host       *string `toml:"host"`
	Port       *int    `toml:"port"`
	User       *string `toml:"user"`
	KeyFile    *string `toml:"key_file"`
	Password   *string `toml:"password"`
	KnownHosts *string `toml:"known_hosts"` // default ~/.ssh/known_hosts
	// InsecureIgnoreHostKey skips host key verification. Off unless set.
	InsecureIgnoreHostKey *bool `toml:"insecure_ignore_host_key"`
}

// StateConfig locates the queue, trigger, lock and run log files.
type StateConfig struct {
	Dir *string `toml:"dir"`
}

// WatchConfig tunes `shuttle watch`.
type WatchConfig struct {
	Poll *string `toml:"poll"` // robfig/cron spec, e.g. "@every 30s"
}

// FilterConfig holds path and size filters.
type FilterConfig struct {
	Include   []string `toml:"include"`
	Exclude   []string `toml:"exclude"`
	RulesFile *string  `toml:"rules_file"`
	MinSize   *string  `toml:"min_size"`
	MaxSize   *string  `toml:"max_size"`
}

// NotifyConfig configures completion notifications.
type NotifyConfig struct {
	WebhookURL    *string  `toml:"webhook_url"`
	WebhookSecret *string  `toml:"webhook_secret"`
	SMTPAddr      *string  `toml:"smtp_addr"`
	SMTPUser      *string  `toml:"smtp_user"`
	SMTPPassword  *string  `toml:"smtp_password"`
	MailFrom      *string  `toml:"mail_from"`
	MailTo        []string `toml:"mail_to"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "shuttle", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file is a zero Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// StateDir returns the configured state directory, defaulting to
// $XDG_STATE_HOME/shuttle.
func (c Config) StateDir() string {
	if c.State.Dir != nil && *c.State.Dir != "" {
		return *c.State.Dir
	}
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "shuttle")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "shuttle")
}

// Files of a state directory.
const (
	DBFile   = "shuttle.db"
	LockFile = "shuttle.lock"
	LogFile  = "run.jsonl"
)

// Duration parses an optional duration value, returning def when unset.
func Duration(v *string, def time.Duration) (time.Duration, error) {
	if v == nil || *v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", *v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", *v)
	}
	return d, nil
}

// String returns *v, or def when unset.
func String(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
