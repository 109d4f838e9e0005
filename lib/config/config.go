// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig    = "BEACON_CONFIG"
	EnvAPIKey    = "BEACON_API_KEY"
	EnvAPISecret = "BEACON_API_SECRET"
	EnvEndpoint  = "BEACON_ENDPOINT"
)

// Config is the complete configuration of one agent.
type Config struct {
	// APIKey identifies the project to the collector. Sent with every
	// batch and recorded in each event's identity.
	APIKey string `yaml:"api_key" json:"api_key"`

	// APISecret signs batches. When empty the agent runs but never
	// sends.
	APISecret string `yaml:"api_secret" json:"api_secret"`

	// Endpoint is the collector URL batches are POSTed to.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Project and Environment are stamped on every event and batch.
	// Environment also selects the matching Environments section.
	Project     string `yaml:"project" json:"project"`
	Environment string `yaml:"environment" json:"environment"`

	// AppVersion and Region populate the identity snapshot.
	AppVersion string `yaml:"app_version" json:"app_version"`
	Region     string `yaml:"region" json:"region"`

	// FlushInterval is the time between dispatch cycles.
	// Default: 5s
	FlushInterval Duration `yaml:"flush_interval" json:"flush_interval"`

	// RetryLimit is the maximum number of send attempts per batch.
	// Default: 5
	RetryLimit int `yaml:"retry_limit" json:"retry_limit"`

	// BaseBackoff is the delay after the first failed attempt; each
	// later delay doubles, up to dispatch.MaxBackoff. Must be positive.
	// Default: 1s
	BaseBackoff Duration `yaml:"base_backoff" json:"base_backoff"`

	// SendTimeout bounds one HTTP attempt.
	// Default: 3s
	SendTimeout Duration `yaml:"send_timeout" json:"send_timeout"`

	// DrainTimeout bounds the final send at shutdown.
	// Default: 2s
	DrainTimeout Duration `yaml:"drain_timeout" json:"drain_timeout"`

	// StatusPolicy is "below-500" (any status under 500 ends a
	// delivery) or "success-only" (only 2xx does).
	// Default: below-500
	StatusPolicy string `yaml:"status_policy" json:"status_policy"`

	// Jitter randomizes retry delays.
	// Default: false
	Jitter bool `yaml:"jitter" json:"jitter"`

	// Instrument selects the built-in instrumentation sources.
	Instrument InstrumentConfig `yaml:"instrument" json:"instrument"`

	// Environments holds per-environment overrides, keyed by
	// environment name.
	Environments map[string]Overrides `yaml:"environments,omitempty" json:"environments,omitempty"`
}

// InstrumentConfig toggles instrumentation sources.
type InstrumentConfig struct {
	// HTTP enables the HTTP client interceptor.
	// Default: true
	HTTP bool `yaml:"http" json:"http"`

	// Requests enables the HTTP server middleware.
	// Default: true
	Requests bool `yaml:"requests" json:"requests"`

	// Logging enables the slog handler.
	// Default: true
	Logging bool `yaml:"logging" json:"logging"`

	// Exceptions enables panic capture.
	// Default: true
	Exceptions bool `yaml:"exceptions" json:"exceptions"`

	// Performance enables function timing.
	// Default: false
	Performance bool `yaml:"performance" json:"performance"`

	// Database enables the SQL observer.
	// Default: true
	Database bool `yaml:"database" json:"database"`

	// LogLevel is the minimum slog level forwarded as LOG events:
	// debug, info, warn, or error.
	// Default: warn
	LogLevel string `yaml:"log_level" json:"log_level"`

	// SlowThreshold is the duration at or above which a timed function
	// is reported as SLOW_FUNCTION.
	// Default: 500ms
	SlowThreshold Duration `yaml:"slow_threshold" json:"slow_threshold"`
}

// Overrides contains the fields that can differ per environment. Unset
// fields leave the base value alone.
type Overrides struct {
	Endpoint      string    `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	FlushInterval *Duration `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`
	RetryLimit    *int      `yaml:"retry_limit,omitempty" json:"retry_limit,omitempty"`
	BaseBackoff   *Duration `yaml:"base_backoff,omitempty" json:"base_backoff,omitempty"`
	StatusPolicy  string    `yaml:"status_policy,omitempty" json:"status_policy,omitempty"`
	Jitter        *bool     `yaml:"jitter,omitempty" json:"jitter,omitempty"`
	LogLevel      string    `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// Default returns the built-in configuration.
// Endpoint and credentials are empty.
func Default() *Config {
	return &Config{
		Environment:   "production",
		AppVersion:    "1.0.0",
		FlushInterval: Duration(5 * time.Second),
		RetryLimit:    5,
		BaseBackoff:   Duration(1 * time.Second),
		SendTimeout:   Duration(3 * time.Second),
		DrainTimeout:  Duration(2 * time.Second),
		StatusPolicy:  "below-500",
		Instrument: InstrumentConfig{
			HTTP:          true,
			Requests:      true,
			Logging:       true,
			Exceptions:    true,
			Database:      true,
			LogLevel:      "warn",
			SlowThreshold: Duration(500 * time.Millisecond),
		},
	}
}

// Load loads the file named by BEACON_CONFIG. When BEACON_CONFIG is
// unset there is no file: the result is Default with the environment
// overrides applied, which is how an embedded agent is usually
// configured.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		cfg := Default()
		cfg.finish()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default, then expands
// variables, applies the matching environment section, and finally
// applies the BEACON_* overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.finish()
	return cfg, nil
}

// Parse decodes configuration from data over Default. format is
// "yaml" or "json"; JSON may contain comments and trailing commas.
// Environment overrides are not applied.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, format); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

func (c *Config) finish() {
	c.expandVariables()
	c.applyEnvironmentOverrides()
	c.applyEnvironmentVariables()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	format := "yaml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		format = "json"
	}
	if err := c.decode(data, format); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func (c *Config) decode(data []byte, format string) error {
	switch format {
	case "yaml":
		return yaml.Unmarshal(data, c)
	case "json":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	}
	return fmt.Errorf("unknown config format %q", format)
}

func (c *Config) applyEnvironmentOverrides() {
	overrides, ok := c.Environments[c.Environment]
	if !ok {
		return
	}
	if overrides.Endpoint != "" {
		c.Endpoint = overrides.Endpoint
	}
	if overrides.FlushInterval != nil {
		c.FlushInterval = *overrides.FlushInterval
	}
	if overrides.RetryLimit != nil {
		c.RetryLimit = *overrides.RetryLimit
	}
	if overrides.BaseBackoff != nil {
		c.BaseBackoff = *overrides.BaseBackoff
	}
	if overrides.StatusPolicy != "" {
		c.StatusPolicy = overrides.StatusPolicy
	}
	if overrides.Jitter != nil {
		c.Jitter = *overrides.Jitter
	}
	if overrides.LogLevel != "" {
		c.Instrument.LogLevel = overrides.LogLevel
	}
}

func (c *Config) applyEnvironmentVariables() {
	for name, field := range map[string]*string{
		EnvAPIKey:    &c.APIKey,
		EnvAPISecret: &c.APISecret,
		EnvEndpoint:  &c.Endpoint,
	} {
		if value := os.Getenv(name); value != "" {
			*field = value
		}
	}
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.APIKey,
		&c.APISecret,
		&c.Endpoint,
		&c.Project,
		&c.Environment,
		&c.AppVersion,
		&c.Region,
	} {
		*field = expandVars(*field)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

var statusPolicies = []string{"below-500", "success-only"}

// Validate checks ranges and shapes. Missing credentials are not an
// error: an agent without a secret runs but never sends.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if endpoint, err := url.Parse(c.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	} else if (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint must be an absolute http or https URL, got %q", c.Endpoint))
	}

	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be positive, got %v", c.FlushInterval))
	}
	if c.RetryLimit < 1 {
		errs = append(errs, fmt.Errorf("retry_limit must be at least 1, got %d", c.RetryLimit))
	}
	if c.BaseBackoff <= 0 {
		errs = append(errs, fmt.Errorf("base_backoff must be positive, got %v", c.BaseBackoff))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send_timeout must be positive, got %v", c.SendTimeout))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("drain_timeout must be positive, got %v", c.DrainTimeout))
	}
	if !slices.Contains(statusPolicies, c.StatusPolicy) {
		errs = append(errs, fmt.Errorf("status_policy must be one of: %v", statusPolicies))
	}
	if _, err := c.Instrument.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Instrument.SlowThreshold < 0 {
		errs = append(errs, fmt.Errorf("instrument.slow_threshold must not be negative, got %v", c.Instrument.SlowThreshold))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (i InstrumentConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(i.LogLevel)); err != nil {
		return 0, fmt.Errorf("instrument.log_level: %w", err)
	}
	return level, nil
}
