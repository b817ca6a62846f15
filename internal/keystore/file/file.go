// Package file implements keystore.Store as JSON files on disk: one file
// per key record under <baseDir>/keys/, plus append-only JSONL files for
// usage and rotation history under <baseDir>/usage/ and
// <baseDir>/rotation/. It has no external dependency and is the backend a
// single-node deployment or a test environment reaches for first.
package file

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/systmms/pqkeys/internal/keystore"
)

// Store is a filesystem-backed keystore.Store.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// New creates a Store rooted at baseDir, creating the directory layout if
// it doesn't exist.
func New(baseDir string) (*Store, error) {
	for _, sub := range []string{"keys", "usage", "rotation"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("file keystore: create %s dir: %w", sub, err)
		}
	}
	return &Store{baseDir: baseDir}, nil
}

// DefaultBaseDir mirrors the XDG-aware search order used elsewhere in this
// codebase's lineage: an explicit env var, then XDG_DATA_HOME, then
// ~/.local/share, then a temp dir as a last resort.
func DefaultBaseDir() string {
	if dir := os.Getenv("PQKEYS_DATA_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pqkeys")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "pqkeys")
	}
	return filepath.Join(os.TempDir(), "pqkeys")
}

func (s *Store) keyPath(id string) string {
	return filepath.Join(s.baseDir, "keys", sanitize(id)+".json")
}

func (s *Store) usagePath(id string) string {
	return filepath.Join(s.baseDir, "usage", sanitize(id)+".jsonl")
}

func (s *Store) rotationPath(id string) string {
	return filepath.Join(s.baseDir, "rotation", sanitize(id)+".jsonl")
}

// securityPath is a single append-only log, not one file per key:
// SecurityEvents like system_initialized aren't scoped to any key.
func (s *Store) securityPath() string {
	return filepath.Join(s.baseDir, "security.jsonl")
}

func sanitize(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_", " ", "_")
	return replacer.Replace(name)
}

func (s *Store) Insert(rec *keystore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.keyPath(rec.KeyID)
	if _, err := os.Stat(path); err == nil {
		return keystore.ErrAlreadyExists
	}
	return writeJSON(path, rec)
}

func (s *Store) Get(id string) (*keystore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec keystore.Record
	if err := readJSON(s.keyPath(id), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, keystore.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Update(rec *keystore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.keyPath(rec.KeyID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return keystore.ErrNotFound
	}
	return writeJSON(path, rec)
}

func (s *Store) allRecords() ([]*keystore.Record, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "keys"))
	if err != nil {
		return nil, fmt.Errorf("file keystore: read keys dir: %w", err)
	}
	var out []*keystore.Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var rec keystore.Record
		if err := readJSON(filepath.Join(s.baseDir, "keys", e.Name()), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *Store) ListActive() ([]*keystore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.allRecords()
	if err != nil {
		return nil, err
	}
	var active []*keystore.Record
	for _, rec := range all {
		if rec.State == keystore.Active {
			active = append(active, rec)
		}
	}
	return active, nil
}

func (s *Store) ListExpiring(horizon time.Time) ([]*keystore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.allRecords()
	if err != nil {
		return nil, err
	}
	var expiring []*keystore.Record
	for _, rec := range all {
		if rec.State != keystore.Active && rec.State != keystore.PendingRotation {
			continue
		}
		if rec.ExpiresAt.IsZero() {
			continue
		}
		if rec.ExpiresAt.Before(horizon) {
			expiring = append(expiring, rec)
		}
	}
	return expiring, nil
}

func (s *Store) AppendUsage(ev *keystore.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONL(s.usagePath(ev.KeyID), ev)
}

func (s *Store) AppendRotation(ev *keystore.RotationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONL(s.rotationPath(ev.KeyID), ev)
}

func (s *Store) UsageHistory(keyID string, limit int) ([]*keystore.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*keystore.UsageEvent
	err := readJSONL(s.usagePath(keyID), func() interface{} { return &keystore.UsageEvent{} }, func(v interface{}) {
		events = append(events, v.(*keystore.UsageEvent))
	})
	if err != nil {
		return nil, err
	}
	reverse(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) RotationHistory(keyID string, limit int) ([]*keystore.RotationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*keystore.RotationEvent
	err := readJSONL(s.rotationPath(keyID), func() interface{} { return &keystore.RotationEvent{} }, func(v interface{}) {
		events = append(events, v.(*keystore.RotationEvent))
	})
	if err != nil {
		return nil, err
	}
	reverse(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) AppendSecurityEvent(ev *keystore.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONL(s.securityPath(), ev)
}

func (s *Store) SecurityEvents(limit int) ([]*keystore.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*keystore.SecurityEvent
	err := readJSONL(s.securityPath(), func() interface{} { return &keystore.SecurityEvent{} }, func(v interface{}) {
		events = append(events, v.(*keystore.SecurityEvent))
	})
	if err != nil {
		return nil, err
	}
	reverse(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) Count() (map[keystore.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.allRecords()
	if err != nil {
		return nil, err
	}
	counts := map[keystore.State]int{}
	for _, rec := range all {
		counts[rec.State]++
	}
	return counts, nil
}

func (s *Store) Close() error { return nil }

func reverse(n int, swap func(i, j int)) {
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		swap(i, j)
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file keystore: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file keystore: write temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func appendJSONL(path string, v interface{}) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("file keystore: open append file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("file keystore: marshal: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("file keystore: append: %w", err)
	}
	return nil
}

func readJSONL(path string, newItem func() interface{}, onItem func(interface{})) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		item := newItem()
		if err := json.Unmarshal(line, item); err != nil {
			continue
		}
		onItem(item)
	}
	return scanner.Err()
}
