package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Store keys.
const (
	KeySourceID = "source_id"
	KeyDestID   = "dest_id"
)

var (
	ErrUnknownKey = errors.New("unknown config key")
	ErrEmptyValue = errors.New("value must not be empty")
)

// Store is a durable key/value view of the [folders] section of a config
// file. Every call re-reads the file, so values set by another process are
// seen at once.
type Store struct {
	path string
}

// NewStore returns a store backed by the config file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value of key and whether it is set.
func (s *Store) Get(key string) (string, bool, error) {
	cfg, err := LoadFile(s.path)
	if err != nil {
		return "", false, err
	}
	var v string
	switch key {
	case KeySourceID:
		v = cfg.Folders.Source
	case KeyDestID:
		v = cfg.Folders.Dest
	default:
		return "", false, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v, v != "", nil
}

// Set stores value under key, preserving the rest of the file's settings.
func (s *Store) Set(key, value string) error {
	return s.SetFolders(map[string]string{key: value})
}

// SetFolders stores several keys in one write.
func (s *Store) SetFolders(values map[string]string) error {
	cfg, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	for key, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			return fmt.Errorf("%s: %w", key, ErrEmptyValue)
		}
		switch key {
		case KeySourceID:
			cfg.Folders.Source = value
		case KeyDestID:
			cfg.Folders.Dest = value
		default:
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
	}
	return Write(s.path, cfg)
}

// Write encodes cfg to path through a temp file and rename, so readers
// never see a partial file.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()[:8]+".tmp")
	// The file may hold SMTP and webhook secrets.
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
