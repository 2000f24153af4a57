// Package config loads persistent daemon and CLI defaults from a YAML
// file. Everything has a sensible zero-config default; the file only
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file is absent or a field is unset.
const (
	DefaultListen      = "127.0.0.1:7465"
	DefaultIdleTimeout = 10 * time.Minute
	DefaultStopGrace   = 2 * time.Second
)

// Settings holds persistent defaults loaded from a config file.
type Settings struct {
	// DataDir roots the database and per-execution log files.
	DataDir string `yaml:"data_dir"`

	// Listen is the address the streaming HTTP server binds.
	Listen string `yaml:"listen"`

	// BusByteBudget caps the bytes of retained history per execution
	// message bus. Zero means the built-in default.
	BusByteBudget int `yaml:"bus_byte_budget,omitempty"`

	// IdleTimeout kills an execution that produces no output for this
	// long. Zero disables the watchdog.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// StopGrace is the pause between signal escalation steps when
	// stopping an execution.
	StopGrace time.Duration `yaml:"stop_grace"`

	// Executor profiles keyed by executor type (claude, codex, ...).
	Executors map[string]*ExecutorProfile `yaml:"executors,omitempty"`

	// Responses API → Chat Completions translation proxy
	Proxy *ProxyConfig `yaml:"proxy,omitempty"`
}

// ExecutorProfile carries per-executor launch defaults.
type ExecutorProfile struct {
	Model string            `yaml:"model,omitempty"`
	Env   map[string]string `yaml:"env,omitempty"`
}

// ProxyConfig controls the built-in Responses API → Chat Completions
// proxy. Executors that only speak the Responses API point their base
// URL at the proxy's listen address.
type ProxyConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Listen  string                  `yaml:"listen,omitempty"` // default ":4000"
	Targets map[string]*ProxyTarget `yaml:"targets"`
}

// ProxyTarget describes an upstream Chat Completions endpoint.
type ProxyTarget struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"` // literal or "env:VAR_NAME"
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentrelay.yaml"
	}
	return filepath.Join(home, ".agentrelay.yaml")
}

// Load reads a YAML config file into Settings. If the file does not
// exist, it returns defaults and nil error.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.applyDefaults()
			return s, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	s.applyDefaults()
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			s.DataDir = ".agentrelay"
		} else {
			s.DataDir = filepath.Join(home, ".agentrelay")
		}
	}
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.StopGrace == 0 {
		s.StopGrace = DefaultStopGrace
	}
}

// DBPath returns the SQLite database location under the data dir.
func (s *Settings) DBPath() string {
	return filepath.Join(s.DataDir, "agentrelay.db")
}

// Profile returns the profile for an executor type, or nil.
func (s *Settings) Profile(executorType string) *ExecutorProfile {
	return s.Executors[executorType]
}
