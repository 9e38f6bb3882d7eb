// Package store persists rules across runs. The YAML file store is the
// durable Rule Store the pipeline reads from and the distillation stage
// appends to; the SQLite candidate corpus keeps the audit trail of what
// distillation proposed.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"slurmsage/internal/logging"
	"slurmsage/internal/rules"
)

// ErrRuleCollision is returned when an appended rule id already exists.
var ErrRuleCollision = errors.New("rule id already in store")

// storeFile is the on-disk document shape.
type storeFile struct {
	Version   int          `yaml:"version"`
	UpdatedAt time.Time    `yaml:"updated_at"`
	Rules     []rules.Rule `yaml:"rules"`
}

// FileStore is a versioned, append-only rule store backed by one YAML file.
//
// Load parses the file fresh on every call, so each caller gets a
// point-in-time snapshot it owns. Append serializes writers on the store
// handle and re-checks the collision condition after taking the lock, so two
// concurrent distillations cannot both commit the same id; version bumps by
// one per accepted rule.
type FileStore struct {
	path       string
	backupDir  string
	autoBackup bool
	mu         sync.Mutex
}

// NewFileStore creates a store handle for the given YAML file. The file may
// not exist yet; an absent file loads as zero rules.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// EnableBackups makes every mutation copy the previous file into dir first.
func (s *FileStore) EnableBackups(dir string) {
	s.backupDir = dir
	s.autoBackup = dir != ""
}

// Path returns the underlying file path.
func (s *FileStore) Path() string { return s.path }

// Ensure seeds the store with the given rules when the file does not exist
// yet. Existing stores are left untouched, whatever they contain.
func (s *FileStore) Ensure(seed []rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat rule store: %w", err)
	}

	for _, r := range seed {
		if err := rules.Validate(r); err != nil {
			return fmt.Errorf("seed rule rejected: %w", err)
		}
	}

	logging.Store("Seeding rule store %s with %d rules", s.path, len(seed))
	return s.write(storeFile{Version: 1, UpdatedAt: time.Now().UTC(), Rules: seed})
}

// Load returns a snapshot of all rules in store order. A missing file is an
// empty store, not an error.
func (s *FileStore) Load() ([]rules.Rule, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// Version returns the store's current version counter (0 for a missing file).
func (s *FileStore) Version() (int, error) {
	doc, err := s.read()
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// Append validates the rule, then commits it under the store's writer lock.
// The on-disk state is re-read after the lock is taken: a rule whose id
// arrived in the meantime is rejected with ErrRuleCollision instead of being
// silently dropped or duplicated.
func (s *FileStore) Append(r rules.Rule) error {
	timer := logging.StartTimer(logging.CategoryStore, "FileStore.Append")
	defer timer.Stop()

	if err := rules.Validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	for _, existing := range doc.Rules {
		if existing.ID == r.ID {
			return fmt.Errorf("%w: %s", ErrRuleCollision, r.ID)
		}
	}

	if s.autoBackup {
		if err := s.backup(doc.Version); err != nil {
			logging.StoreWarn("rule store backup failed: %v", err)
		}
	}

	doc.Rules = append(doc.Rules, r)
	doc.Version++
	doc.UpdatedAt = time.Now().UTC()

	if err := s.write(doc); err != nil {
		return err
	}
	logging.Store("Appended rule %s (store version %d)", r.ID, doc.Version)
	return nil
}

func (s *FileStore) read() (storeFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return storeFile{}, nil
		}
		return storeFile{}, fmt.Errorf("failed to read rule store: %w", err)
	}

	var doc storeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return storeFile{}, fmt.Errorf("failed to parse rule store %s: %w", s.path, err)
	}
	return doc, nil
}

// write replaces the store file atomically: marshal to a temp file in the
// same directory, then rename over the target.
func (s *FileStore) write(doc storeFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal rule store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rules-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace rule store: %w", err)
	}
	return nil
}

func (s *FileStore) backup(version int) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("rules-v%d-%s.yaml", version, time.Now().UTC().Format("20060102T150405"))
	return os.WriteFile(filepath.Join(s.backupDir, name), data, 0644)
}
