// Package config persists the workspace document and loads user settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
)

// FileName is the workspace document stored at the workspace root.
const FileName = ".multi-repo-config.json"

// Store owns the in-memory copy of one workspace document. Every change
// goes through Mutate, which serializes read-modify-write cycles.
type Store struct {
	root   string
	path   string
	logger *log.Logger

	mu        sync.Mutex
	cfg       *Config
	lastWrite []byte
	saves     int
	// corrupt is set while the file on disk failed to parse; the next save
	// moves it aside first.
	corrupt bool
}

func Open(root string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	root = filepath.Clean(root)
	return &Store{root: root, path: filepath.Join(root, FileName), logger: logger}
}

func (s *Store) Root() string { return s.root }
func (s *Store) Path() string { return s.path }

// Saves returns how many times the document was written.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Store) empty() *Config {
	return &Config{
		WorkspaceRoot:    s.root,
		ProjectLocations: map[string]string{},
		Features:         []Feature{},
	}
}

// loadLocked never fails: unreadable or corrupt documents are logged and
// replaced by an empty default in memory. A corrupt file is left alone
// until the next write, which first renames it to <file>.corrupt-<ts>.
func (s *Store) loadLocked() *Config {
	if s.cfg != nil {
		return s.cfg
	}
	s.corrupt = false
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("config unreadable, using empty default", "path", s.path, "err", err)
		}
		s.cfg = s.empty()
		return s.cfg
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn("config corrupt, using empty default", "path", s.path, "err", err)
		s.corrupt = true
		s.cfg = s.empty()
		return s.cfg
	}
	if cfg.ProjectLocations == nil {
		cfg.ProjectLocations = map[string]string{}
	}
	if cfg.Features == nil {
		cfg.Features = []Feature{}
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = s.root
	}
	s.cfg = &cfg
	s.lastWrite = data
	return s.cfg
}

// Load returns a copy of the current document.
func (s *Store) Load() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked().Clone()
}

// Save replaces the whole document.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg.Clone())
}

func (s *Store) saveLocked(cfg Config) error {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = s.root
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if s.corrupt {
		backup := s.path + ".corrupt-" + time.Now().UTC().Format("20060102T150405.000000000Z")
		if err := os.Rename(s.path, backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("move corrupt config aside: %w", err)
		}
		s.logger.Warn("corrupt config moved aside", "path", s.path, "backup", backup)
		s.corrupt = false
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.cfg = &cfg
	s.lastWrite = data
	s.saves++
	return nil
}

// Mutate applies fn to a copy of the document and persists the result when
// fn reports a change. Nothing is written when fn returns an error or
// changed == false.
func (s *Store) Mutate(fn func(cfg *Config) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.loadLocked().Clone()
	changed, err := fn(&work)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.saveLocked(work)
}

// Feature returns a copy of the named feature.
func (s *Store) Feature(name string) (Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.loadLocked().Feature(name)
	if !ok {
		return Feature{}, false
	}
	return f.Clone(), true
}

func (s *Store) Features() []Feature {
	cfg := s.Load()
	return cfg.Features
}

// Reload drops the cached document if the file on disk differs from the
// last write. It reports whether the cache was dropped.
func (s *Store) Reload() bool {
	data, err := os.ReadFile(s.path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && s.cfg != nil && bytes.Equal(data, s.lastWrite) {
		return false
	}
	s.cfg = nil
	return true
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
