// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config defines the application configuration for the modelmux
// routing engine: the model table, fallback chains, intent rules, and the
// operational tunables for the circuit breaker, latency tracker, session
// tracker, and orchestrator. Configuration is loaded from a YAML file with
// optional SWITCHMUX_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// StateDir is the directory for mutable engine state (breaker snapshots,
	// decision history). Defaults to ~/.modelmux; overridable via SWITCHMUX_STATE_DIR.
	StateDir string `yaml:"state-dir" json:"-"`

	// Intent holds intent classification settings.
	Intent IntentConfig `yaml:"intent" json:"intent"`

	// Routing holds orchestrator selection and retry settings.
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	// Breaker holds per-model circuit breaker settings.
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`

	// Latency holds latency tracker settings.
	Latency LatencyConfig `yaml:"latency" json:"latency"`

	// Session holds per-conversation session tracker settings.
	Session SessionConfig `yaml:"session" json:"session"`

	// History holds decision history persistence settings.
	History HistoryConfig `yaml:"history" json:"history"`

	// Models defines the static model table served by the registry.
	Models []ModelConfig `yaml:"models" json:"models"`

	// FallbackChains maps a primary model id to its ordered substitute list.
	FallbackChains map[string][]string `yaml:"fallback-chains" json:"fallback-chains"`

	// IntentRules defines the deterministic intent -> model fast path.
	IntentRules []IntentRule `yaml:"intent-rules" json:"intent-rules"`
}

// IntentConfig holds intent classification settings.
type IntentConfig struct {
	// ConfidenceThreshold is the minimum aggregate score for an intent tag to
	// be kept. Intents below the threshold are discarded; if none survive the
	// classifier falls back to casual_chat. Default: 0.45.
	ConfidenceThreshold float64 `yaml:"confidence-threshold" json:"confidence-threshold"`
}

// RoutingConfig holds orchestrator selection and retry settings.
type RoutingConfig struct {
	// SafeDefaultModel is the model returned when every other selection path
	// fails. It must reference a model in the Models table.
	SafeDefaultModel string `yaml:"safe-default-model" json:"safe-default-model"`

	// MaxModelAttempts caps the number of distinct models tried per request.
	// Default: 4.
	MaxModelAttempts int `yaml:"max-model-attempts" json:"max-model-attempts"`

	// RetryCap is the number of in-place retries for transient provider
	// errors against the same model. Default: 2.
	RetryCap int `yaml:"retry-cap" json:"retry-cap"`

	// BackoffCap bounds a single backoff sleep. Default: "10s".
	BackoffCap string `yaml:"backoff-cap" json:"backoff-cap"`

	// AttemptTimeout bounds a single provider call. Default: "30s".
	AttemptTimeout string `yaml:"attempt-timeout" json:"attempt-timeout"`
}

// BreakerConfig holds per-model circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int `yaml:"failure-threshold" json:"failure-threshold"`

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit. Default: 2.
	SuccessThreshold int `yaml:"success-threshold" json:"success-threshold"`

	// OpenTimeout is how long an open circuit refuses admission before
	// allowing a half-open probe. Default: "30s".
	OpenTimeout string `yaml:"open-timeout" json:"open-timeout"`

	// RollingWindow is the observation window for the failure-rate trip.
	// Default: "60s".
	RollingWindow string `yaml:"rolling-window" json:"rolling-window"`

	// MaxFailureRate opens the circuit when failures/(failures+successes)
	// within the rolling window reaches this ratio (0.0-1.0). Default: 0.5.
	MaxFailureRate float64 `yaml:"max-failure-rate" json:"max-failure-rate"`

	// PermanentErrorWeight counts a permanent provider error as this many
	// failures, tripping the breaker faster than generic failures. Default: 2.
	PermanentErrorWeight int `yaml:"permanent-error-weight" json:"permanent-error-weight"`

	// PersistState enables snapshotting breaker counters to the state dir so
	// they survive restarts. Default: true.
	PersistState *bool `yaml:"persist-state,omitempty" json:"persist-state,omitempty"`
}

// LatencyConfig holds latency tracker settings.
type LatencyConfig struct {
	// Alpha is the EMA smoothing constant in (0,1]. Default: 0.3.
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// BaselineMs is the latency considered "slow" when converting the EMA
	// into a speed score. Default: 2000.
	BaselineMs float64 `yaml:"baseline-ms" json:"baseline-ms"`
}

// SessionConfig holds per-conversation session tracker settings.
type SessionConfig struct {
	// TTL is the inactivity timeout after which a session is evicted.
	// Default: "1h".
	TTL string `yaml:"ttl" json:"ttl"`

	// HistorySize is the capacity of the recent-intent and recent-skill ring
	// buffers. Default: 20.
	HistorySize int `yaml:"history-size" json:"history-size"`
}

// HistoryConfig holds decision history persistence settings.
type HistoryConfig struct {
	// Enabled toggles the SQLite decision history store. When false,
	// decisions are still fanned out to in-process subscribers but nothing
	// is persisted. Default: false.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path overrides the SQLite database location. Defaults to
	// <state-dir>/history.db.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// ModelConfig defines one entry of the static model table.
type ModelConfig struct {
	// ID is the stable model identifier, e.g. "openai:gpt-4o-mini".
	ID string `yaml:"id" json:"id"`

	// Capabilities tags what the model is good at. Known tags: general,
	// reasoning, long_context, tool_use, high_quality.
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	// MaxContextTokens is the model's context window size.
	MaxContextTokens int `yaml:"max-context-tokens" json:"max-context-tokens"`

	// CostScore is the relative cost of the model (higher is more expensive).
	CostScore float64 `yaml:"cost-score" json:"cost-score"`

	// QualityTier is one of "low", "medium", "high".
	QualityTier string `yaml:"quality-tier" json:"quality-tier"`
}

// IntentRule defines one entry of the deterministic intent -> model table.
// Rules are evaluated in declaration order; the first match wins.
type IntentRule struct {
	// Intent is the exact intent tag this rule matches.
	Intent string `yaml:"intent" json:"intent"`

	// Model is the model id the rule routes to.
	Model string `yaml:"model" json:"model"`

	// When is an optional expr-lang condition evaluated against the request
	// context (fields: intents, token_count, session_id, hour). A rule
	// without a condition always fires for its intent.
	When string `yaml:"when,omitempty" json:"when,omitempty"`

	// Confidence reported for decisions made by this rule. Default: 0.9.
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// LoadConfig reads and parses the YAML configuration file at the given path,
// applies defaults and environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses raw YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with every tunable at its default
// value and an empty model table.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.StateDir == "" {
		c.StateDir = "~/.modelmux"
	}
	if c.Intent.ConfidenceThreshold == 0 {
		c.Intent.ConfidenceThreshold = 0.45
	}
	if c.Routing.MaxModelAttempts == 0 {
		c.Routing.MaxModelAttempts = 4
	}
	if c.Routing.RetryCap == 0 {
		c.Routing.RetryCap = 2
	}
	if c.Routing.BackoffCap == "" {
		c.Routing.BackoffCap = "10s"
	}
	if c.Routing.AttemptTimeout == "" {
		c.Routing.AttemptTimeout = "30s"
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.OpenTimeout == "" {
		c.Breaker.OpenTimeout = "30s"
	}
	if c.Breaker.RollingWindow == "" {
		c.Breaker.RollingWindow = "60s"
	}
	if c.Breaker.MaxFailureRate == 0 {
		c.Breaker.MaxFailureRate = 0.5
	}
	if c.Breaker.PermanentErrorWeight == 0 {
		c.Breaker.PermanentErrorWeight = 2
	}
	if c.Breaker.PersistState == nil {
		t := true
		c.Breaker.PersistState = &t
	}
	if c.Latency.Alpha == 0 {
		c.Latency.Alpha = 0.3
	}
	if c.Latency.BaselineMs == 0 {
		c.Latency.BaselineMs = 2000
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "1h"
	}
	if c.Session.HistorySize == 0 {
		c.Session.HistorySize = 20
	}
	for i := range c.IntentRules {
		if c.IntentRules[i].Confidence == 0 {
			c.IntentRules[i].Confidence = 0.9
		}
	}
}

// applyEnvOverrides layers SWITCHMUX_* environment variables over the file
// values so operators can tune the engine without editing YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SWITCHMUX_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("SWITCHMUX_SAFE_DEFAULT_MODEL"); v != "" {
		c.Routing.SafeDefaultModel = v
	}
	if v, ok := envInt("SWITCHMUX_FAILURE_THRESHOLD"); ok {
		c.Breaker.FailureThreshold = v
	}
	if v, ok := envInt("SWITCHMUX_SUCCESS_THRESHOLD"); ok {
		c.Breaker.SuccessThreshold = v
	}
	if v := os.Getenv("SWITCHMUX_OPEN_TIMEOUT"); v != "" {
		c.Breaker.OpenTimeout = v
	}
	if v, ok := envFloat("SWITCHMUX_MAX_FAILURE_RATE"); ok {
		c.Breaker.MaxFailureRate = v
	}
	if v, ok := envFloat("SWITCHMUX_LATENCY_ALPHA"); ok {
		c.Latency.Alpha = v
	}
	if v, ok := envFloat("SWITCHMUX_INTENT_THRESHOLD"); ok {
		c.Intent.ConfidenceThreshold = v
	}
	if v, ok := envInt("SWITCHMUX_MAX_MODEL_ATTEMPTS"); ok {
		c.Routing.MaxModelAttempts = v
	}
	if v, ok := envInt("SWITCHMUX_RETRY_CAP"); ok {
		c.Routing.RetryCap = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Routing.SafeDefaultModel == "" && len(c.Models) > 0 {
		return fmt.Errorf("routing.safe-default-model is required when models are configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return fmt.Errorf("model with empty id in models table")
		}
		if seen[strings.ToLower(id)] {
			return fmt.Errorf("duplicate model id %q in models table", m.ID)
		}
		seen[strings.ToLower(id)] = true
		switch m.QualityTier {
		case "", "low", "medium", "high":
		default:
			return fmt.Errorf("model %s: invalid quality-tier %q", m.ID, m.QualityTier)
		}
		if m.MaxContextTokens < 0 {
			return fmt.Errorf("model %s: negative max-context-tokens", m.ID)
		}
	}
	if c.Routing.SafeDefaultModel != "" && len(c.Models) > 0 && !seen[strings.ToLower(c.Routing.SafeDefaultModel)] {
		return fmt.Errorf("routing.safe-default-model %q is not in the models table", c.Routing.SafeDefaultModel)
	}
	if c.Latency.Alpha <= 0 || c.Latency.Alpha > 1 {
		return fmt.Errorf("latency.alpha must be in (0,1], got %v", c.Latency.Alpha)
	}
	if c.Breaker.MaxFailureRate < 0 || c.Breaker.MaxFailureRate > 1 {
		return fmt.Errorf("breaker.max-failure-rate must be in [0,1], got %v", c.Breaker.MaxFailureRate)
	}
	if _, err := time.ParseDuration(c.Breaker.OpenTimeout); err != nil {
		return fmt.Errorf("breaker.open-timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Breaker.RollingWindow); err != nil {
		return fmt.Errorf("breaker.rolling-window: %w", err)
	}
	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return fmt.Errorf("session.ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Routing.BackoffCap); err != nil {
		return fmt.Errorf("routing.backoff-cap: %w", err)
	}
	if _, err := time.ParseDuration(c.Routing.AttemptTimeout); err != nil {
		return fmt.Errorf("routing.attempt-timeout: %w", err)
	}
	for _, r := range c.IntentRules {
		if r.Intent == "" || r.Model == "" {
			return fmt.Errorf("intent rule must set both intent and model")
		}
	}
	return nil
}

// BreakerPersistEnabled reports whether breaker snapshotting is on.
func (c *Config) BreakerPersistEnabled() bool {
	return c.Breaker.PersistState == nil || *c.Breaker.PersistState
}

// OpenTimeoutDuration returns the parsed breaker open timeout.
func (b *BreakerConfig) OpenTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(b.OpenTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RollingWindowDuration returns the parsed rolling window.
func (b *BreakerConfig) RollingWindowDuration() time.Duration {
	d, err := time.ParseDuration(b.RollingWindow)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// TTLDuration returns the parsed session inactivity timeout.
func (s *SessionConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(s.TTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// BackoffCapDuration returns the parsed backoff cap.
func (r *RoutingConfig) BackoffCapDuration() time.Duration {
	d, err := time.ParseDuration(r.BackoffCap)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// AttemptTimeoutDuration returns the parsed per-attempt timeout.
func (r *RoutingConfig) AttemptTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.AttemptTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
