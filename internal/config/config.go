// Package config loads the backend registry document and global settings.
// The document is read once at startup and is immutable afterwards; a
// reload is a new process (or a new Load).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport identifies how a backend is reached.
type Transport string

const (
	// TransportStdio spawns the backend command and speaks framed
	// JSON-RPC over its stdio. One fresh subprocess per call by design.
	TransportStdio Transport = "stdio"

	// TransportHTTP posts one JSON-RPC envelope per call to the endpoint.
	TransportHTTP Transport = "http"
)

// Config is the full registry document.
type Config struct {
	Settings Settings           `yaml:"settings"`
	Backends map[string]Backend `yaml:"backends"`
}

// Settings holds global fabric settings.
type Settings struct {
	// TimeoutMs bounds a single tool call end to end.
	TimeoutMs int `yaml:"timeout_ms"`

	// ProtocolPreferred makes the runtime try the wire protocol before
	// local adapters. Unset means preferred.
	ProtocolPreferred *bool `yaml:"protocol_preferred"`

	// ProtocolTimeoutMs bounds the initialize handshake.
	ProtocolTimeoutMs int `yaml:"protocol_timeout_ms"`

	// StateDir anchors the audit log, breaker state and run reports.
	StateDir string `yaml:"state_dir"`

	Security SecuritySettings `yaml:"security"`
	Logging  LoggingSettings  `yaml:"logging"`
}

// SecuritySettings parameterizes the policy validators.
type SecuritySettings struct {
	// AllowedPaths are the roots file adapters may touch.
	AllowedPaths []string `yaml:"allowed_paths"`

	// BlockedCommands are substrings rejected in free-form command text.
	BlockedCommands []string `yaml:"blocked_commands"`
}

// LoggingSettings controls the audit log destination.
type LoggingSettings struct {
	// SaveToFile persists a CallRecord for every runtime call. Unset
	// means enabled; disabling the audit trail is an explicit opt-out.
	SaveToFile *bool  `yaml:"save_to_file"`
	FilePath   string `yaml:"file_path"`
}

// Backend describes one tool provider.
type Backend struct {
	// Name is filled from the map key at load time.
	Name string `yaml:"-"`

	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Description string            `yaml:"description"`
	Enabled     bool              `yaml:"enabled"`
	Categories  []string          `yaml:"categories"`
	Env         map[string]string `yaml:"env"`
	Transport   Transport         `yaml:"transport"`
	Endpoint    string            `yaml:"endpoint"`

	// AllowedDomains restricts http_get URLs for this backend. Empty
	// means allow all.
	AllowedDomains []string `yaml:"allowed_domains"`

	// CostScore overrides the static cost table in ranking (0 = unset).
	CostScore float64 `yaml:"cost_score"`
}

// Defaults applied when the document omits a setting.
const (
	DefaultTimeoutMs         = 20000
	DefaultProtocolTimeoutMs = 15000
	DefaultStateDir          = ".toolfab"
)

// Load reads and parses the registry document at path, applies defaults
// and resolves ${VAR} placeholders against the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse registry config: %w", err)
	}

	cfg.applyDefaults()
	cfg.expandEnv()
	return cfg, nil
}

// applyDefaults fills unset settings and stamps backend names.
func (c *Config) applyDefaults() {
	if c.Settings.TimeoutMs <= 0 {
		c.Settings.TimeoutMs = DefaultTimeoutMs
	}
	if c.Settings.ProtocolTimeoutMs <= 0 {
		c.Settings.ProtocolTimeoutMs = DefaultProtocolTimeoutMs
	}
	if c.Settings.StateDir == "" {
		c.Settings.StateDir = DefaultStateDir
	}
	if c.Settings.Logging.FilePath == "" {
		c.Settings.Logging.FilePath = filepath.Join(c.Settings.StateDir, "logs", "calls.jsonl")
	}
	if c.Backends == nil {
		c.Backends = map[string]Backend{}
	}
	for name, b := range c.Backends {
		b.Name = name
		if b.Transport == "" {
			b.Transport = TransportStdio
		}
		c.Backends[name] = b
	}
}

// expandEnv resolves ${VAR} placeholders in env values, args and
// endpoints. Unset variables expand to the empty string.
func (c *Config) expandEnv() {
	for name, b := range c.Backends {
		for k, v := range b.Env {
			b.Env[k] = os.Expand(v, os.Getenv)
		}
		for i, a := range b.Args {
			b.Args[i] = os.Expand(a, os.Getenv)
		}
		b.Endpoint = os.Expand(b.Endpoint, os.Getenv)
		c.Backends[name] = b
	}
}

// CallTimeout returns the per-call deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Settings.TimeoutMs) * time.Millisecond
}

// ProtocolTimeout returns the handshake deadline.
func (c *Config) ProtocolTimeout() time.Duration {
	return time.Duration(c.Settings.ProtocolTimeoutMs) * time.Millisecond
}

// ProtocolFirst reports whether protocol execution is preferred over the
// local adapters. Protocol-first is the default.
func (c *Config) ProtocolFirst() bool {
	return c.Settings.ProtocolPreferred == nil || *c.Settings.ProtocolPreferred
}

// AuditLogPath returns the audit log location, or "" when the operator
// explicitly disabled file logging.
func (c *Config) AuditLogPath() string {
	if c.Settings.Logging.SaveToFile != nil && !*c.Settings.Logging.SaveToFile {
		return ""
	}
	return c.Settings.Logging.FilePath
}

// BreakerPath returns the breaker state file location.
func (c *Config) BreakerPath() string {
	return filepath.Join(c.Settings.StateDir, "state", "breaker.json")
}

// RunsDir returns the run report directory.
func (c *Config) RunsDir() string {
	return filepath.Join(c.Settings.StateDir, "runs")
}

// Validate checks the document for obvious operator mistakes.
func (c *Config) Validate() error {
	for name, b := range c.Backends {
		switch b.Transport {
		case TransportStdio:
			if b.Command == "" {
				return fmt.Errorf("backend %q: stdio transport requires a command", name)
			}
		case TransportHTTP:
			if b.Endpoint == "" {
				return fmt.Errorf("backend %q: http transport requires an endpoint", name)
			}
		default:
			return fmt.Errorf("backend %q: unknown transport %q", name, b.Transport)
		}
	}
	return nil
}
