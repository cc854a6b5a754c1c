package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

// Call modes recorded in the audit log.
const (
	ModeProtocolStdio = "protocol:stdio"
	ModeProtocolHTTP  = "protocol:http"
	ModeLocal         = "local"
)

// Call statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CallRecord is one audit-log line. Records are append-only and never
// mutated after being written.
type CallRecord struct {
	TraceID    string         `json:"trace_id"`
	Timestamp  time.Time      `json:"ts"`
	Backend    string         `json:"backend"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params,omitempty"`
	Status     string         `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Mode       string         `json:"mode"`
	Error      *string        `json:"error"`
	Route      map[string]any `json:"route,omitempty"`
	Preview    string         `json:"preview,omitempty"`
}

// Failed reports whether the record describes a failed call.
func (r *CallRecord) Failed() bool { return r.Status != StatusOK }

// previewLimit bounds the stored result preview.
const previewLimit = 240

// Preview truncates a result string for storage in a record. The cut
// lands on a rune boundary so the stored preview stays valid UTF-8.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// AuditLogger appends CallRecords to a JSONL file. A zero-path logger
// drops records, so callers never have to branch on whether auditing is
// enabled. Appends are serialized within the process; there is no
// cross-process locking (documented limitation).
type AuditLogger struct {
	mu   sync.Mutex
	path string
}

// NewAuditLogger builds a logger writing to path. Empty path disables
// persistence.
func NewAuditLogger(path string) *AuditLogger {
	return &AuditLogger{path: path}
}

// Path returns the audit log location, or "" when disabled.
func (a *AuditLogger) Path() string { return a.path }

// Append writes one record as a single JSONL line.
func (a *AuditLogger) Append(rec CallRecord) error {
	if a.path == "" {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append call record: %w", err)
	}
	return nil
}

// ReadSince returns the records newer than the cutoff, oldest first.
// Corrupt lines are skipped rather than failing the whole read.
func (a *AuditLogger) ReadSince(cutoff time.Time) ([]CallRecord, error) {
	if a.path == "" {
		return nil, nil
	}

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var records []CallRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec CallRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed while scanning audit log: %w", err)
	}
	return records, nil
}
