// Package config implements the §3 "Cluster settings" entity: an immutable
// configuration object, constructed only via a validating factory, that is
// passed by reference to every component at startup. Shape and validation
// style follow the teacher's internal/config/config.go (YAML struct tags,
// NewDefault/LoadFromFile/SaveToFile/Validate), adapted to the cluster
// coordination settings this core actually recognizes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	coreerrors "github.com/litefs-adapter/core/pkg/errors"
)

// ElectionMode selects how the Role Resolver (C3) determines primary vs.
// replica.
type ElectionMode string

const (
	ElectionStatic ElectionMode = "static"
	ElectionRaft   ElectionMode = "raft"
)

// Settings is the cluster-wide configuration object described in §3. It is
// immutable after New/Load succeeds; mutate by constructing a new value.
type Settings struct {
	MountPath      string       `yaml:"mount_path"`
	DataPath       string       `yaml:"data_path"`
	DatabaseName   string       `yaml:"database_name"`
	LeaderElection ElectionMode `yaml:"leader_election"`
	ProxyAddr      string       `yaml:"proxy_addr"`
	Enabled        bool         `yaml:"enabled"`

	// Static-mode fields. Ignored (even if malformed) outside static mode.
	PrimaryHostname string `yaml:"primary_hostname,omitempty"`

	// Raft-mode fields. Ignored (even if malformed) outside raft mode.
	SelfAddr string   `yaml:"self_addr,omitempty"`
	Peers    []string `yaml:"peers,omitempty"`

	Forwarding ForwardingSettings `yaml:"forwarding"`
	Proxy      ProxySettings      `yaml:"proxy"`
}

// ForwardingSettings mirrors §3's "Forwarding configuration" entity.
type ForwardingSettings struct {
	Enabled                 bool          `yaml:"enabled"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	RetryCount              int           `yaml:"retry_count"`
	RetryBackoffBase        time.Duration `yaml:"retry_backoff_base"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitResetTimeout     time.Duration `yaml:"circuit_reset_timeout"`
	ExcludedExact           []string      `yaml:"excluded_exact"`
	ExcludedGlob            []string      `yaml:"excluded_glob"`
	ExcludedRegex           []string      `yaml:"excluded_regex"`
	Scheme                  string        `yaml:"scheme"`
	PrimaryHint             string        `yaml:"primary_hint,omitempty"`
}

// ProxySettings configures the daemon's own HTTP proxy front door; the core
// only reads this to know where it is listening, it never manages the
// proxy process itself (that is out of scope per §1).
type ProxySettings struct {
	ListenAddr string `yaml:"listen_addr"`
}

// NewDefault returns Settings with the defaults the coordination core ships
// with: static mode until a mount_path and database_name are supplied, and
// forwarding timeouts matching the §4.8 default of a 30s total budget.
func NewDefault() *Settings {
	return &Settings{
		LeaderElection: ElectionStatic,
		Enabled:        true,
		Forwarding: ForwardingSettings{
			Enabled:                 true,
			ConnectTimeout:          10 * time.Second,
			ReadTimeout:             20 * time.Second,
			RetryCount:              3,
			RetryBackoffBase:        250 * time.Millisecond,
			CircuitBreakerThreshold: 5,
			CircuitResetTimeout:     30 * time.Second,
			Scheme:                  "http",
		},
	}
}

// New validates settings and returns them, or a configuration CoreError
// describing the first invariant violated.
func New(s Settings) (*Settings, error) {
	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFromFile reads and parses a YAML settings file, then validates it.
// Unknown keys are rejected at parse time per §4.10.
func LoadFromFile(filename string) (*Settings, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrCodeInvalidConfig, "failed to read settings file", err).
			WithComponent("config", "LoadFromFile").WithContext("path", filename)
	}

	s := Settings{}
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrCodeInvalidConfig, "failed to parse settings file", err).
			WithComponent("config", "LoadFromFile").WithContext("path", filename)
	}

	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveToFile serializes settings back to YAML. Round-tripping a validated
// Settings through SaveToFile then LoadFromFile yields an equivalent
// object, the round-trip property named in §8.
func (s *Settings) SaveToFile(filename string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return coreerrors.Wrap(coreerrors.ErrCodeInternal, "failed to marshal settings", err).
			WithComponent("config", "SaveToFile")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return coreerrors.Wrap(coreerrors.ErrCodeInternal, "failed to create settings directory", err).
			WithComponent("config", "SaveToFile")
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return coreerrors.Wrap(coreerrors.ErrCodeInternal, "failed to write settings file", err).
			WithComponent("config", "SaveToFile")
	}
	return nil
}

// validate enforces every invariant in §3. In static mode the raft fields
// are never inspected, even if malformed; the reverse holds for raft mode.
func validate(s *Settings) error {
	cfgErr := func(msg string) error {
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, msg).WithComponent("config", "Validate")
	}

	if err := validatePath("mount_path", s.MountPath); err != nil {
		return err
	}
	if err := validatePath("data_path", s.DataPath); err != nil {
		return err
	}
	if strings.TrimSpace(s.DatabaseName) == "" {
		return cfgErr("database_name must be non-empty and non-whitespace")
	}

	switch s.LeaderElection {
	case ElectionStatic:
		if strings.TrimSpace(s.PrimaryHostname) == "" {
			return cfgErr("primary_hostname must be non-empty in static mode")
		}
	case ElectionRaft:
		if strings.TrimSpace(s.SelfAddr) == "" {
			return cfgErr("self_addr must be non-empty in raft mode")
		}
		if len(s.Peers) == 0 {
			return cfgErr("peers must be non-empty in raft mode")
		}
	default:
		return cfgErr(fmt.Sprintf("leader_election must be %q or %q, got %q", ElectionStatic, ElectionRaft, s.LeaderElection))
	}

	if s.Forwarding.RetryCount < 0 {
		return cfgErr("forwarding.retry_count must be >= 0")
	}

	return nil
}

// validatePath enforces §3/§8's path invariant: must begin with "/" and
// contain no ".." segment.
func validatePath(field, path string) error {
	if !strings.HasPrefix(path, "/") {
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, fmt.Sprintf("%s must be an absolute path, got %q", field, path)).
			WithComponent("config", "Validate")
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return coreerrors.New(coreerrors.ErrCodeInvalidConfig, fmt.Sprintf("%s must not contain .. segments, got %q", field, path)).
				WithComponent("config", "Validate")
		}
	}
	return nil
}
