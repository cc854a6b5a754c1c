// Package breaker implements the durable per-(backend, tool) failure
// gate. State survives across runs in one JSON document that is read,
// modified and rewritten on every recorded outcome. No cross-process
// locking is attempted; concurrent writers from independent processes can
// race (documented limitation).
package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the gate state for one key.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults.
const (
	DefaultFailureThreshold = 3
	DefaultCooldownSec      = 300
)

// Entry is the persisted state for one "backend/tool" key.
type Entry struct {
	State     State  `json:"state"`
	Failures  int    `json:"failures"`
	OpenedAt  int64  `json:"opened_at,omitempty"` // unix seconds
	LastError string `json:"last_error,omitempty"`
}

// Key builds the store key for a backend/tool pair.
func Key(backend, tool string) string { return backend + "/" + tool }

// Store is the file-backed breaker. The zero value is unusable; build one
// with New.
type Store struct {
	mu        sync.Mutex
	path      string
	threshold int
	cooldown  time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// New builds a store writing to path. Non-positive threshold or cooldown
// fall back to the defaults.
func New(path string, threshold int, cooldown time.Duration) *Store {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldownSec * time.Second
	}
	return &Store{path: path, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// load reads the whole document. A missing file is an empty document.
func (s *Store) load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read breaker state: %w", err)
	}
	doc := map[string]Entry{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse breaker state: %w", err)
	}
	return doc, nil
}

// save rewrites the whole document.
func (s *Store) save(doc map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create breaker state directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write breaker state: %w", err)
	}
	return nil
}

// IsOpen reports whether the gate currently blocks the key. Evaluating an
// open entry after the cooldown has elapsed moves it to half_open, which
// admits the next attempt.
func (s *Store) IsOpen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		// A corrupt store must not wedge every call shut.
		return false
	}

	entry, ok := doc[key]
	if !ok || entry.State != StateOpen {
		return false
	}

	openedAt := time.Unix(entry.OpenedAt, 0)
	if s.now().Sub(openedAt) >= s.cooldown {
		entry.State = StateHalfOpen
		doc[key] = entry
		_ = s.save(doc)
		return false
	}
	return true
}

// RecordSuccess closes the gate for the key and resets its failure count.
func (s *Store) RecordSuccess(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[key] = Entry{State: StateClosed}
	return s.save(doc)
}

// RecordFailure counts a failure. The gate opens once failures since the
// last success reach the threshold; a failure while half_open re-opens
// immediately with a fresh opened_at.
func (s *Store) RecordFailure(key, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	entry := doc[key]
	if entry.State == "" {
		entry.State = StateClosed
	}
	entry.Failures++
	entry.LastError = errText
	if entry.State == StateHalfOpen || entry.Failures >= s.threshold {
		entry.State = StateOpen
		entry.OpenedAt = s.now().Unix()
	}
	doc[key] = entry
	return s.save(doc)
}

// Snapshot returns a copy of the whole document for display.
func (s *Store) Snapshot() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}
