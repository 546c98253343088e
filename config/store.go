package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/session"
)

// Store holds the live configuration and persists API edits back to the
// config file. Reads return deep copies. Updates are validated and
// persisted before they replace the live value, so a failed edit leaves
// both the file and memory untouched.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an already-loaded configuration.
func NewStore(path string, cfg *Config, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store needs a config file path", errors.ErrMissingConfig)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: store needs a loaded config", errors.ErrMissingConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		cfg:    cfg,
		logger: logger.With("component", "config-store"),
	}, nil
}

// Get returns a deep copy of the current configuration.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// SessionSettings is the snapshot source the session manager pulls from
// at every start.
func (s *Store) SessionSettings() session.Settings {
	return s.Get().SessionSettings()
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Update applies mutate to a copy of the configuration, validates the
// result, persists it, and only then swaps it in. The returned config is
// the new live value.
func (s *Store) Update(mutate func(*Config) error) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := writeConfigFile(s.path, next); err != nil {
		return nil, err
	}

	s.cfg = next
	s.logger.Info("configuration persisted", "path", s.path)
	return next.Clone(), nil
}

// writeConfigFile persists atomically: marshal, write a temp file next
// to the target, rename over it. Readers never observe a torn file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := marshalConfig(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// marshalConfig renders the file format the path implies: indented JSON
// by default, YAML through the JSON bridge for .yaml/.yml.
func marshalConfig(path string, cfg *Config) ([]byte, error) {
	if isYAMLPath(path) {
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return yaml.Marshal(raw)
	}
	return json.MarshalIndent(cfg, "", "  ")
}
