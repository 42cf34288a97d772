// Package config loads the daemon configuration from a YAML file and
// republishes it on file changes. YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both formats.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Duration is a time.Duration that unmarshals from "30s"-style strings.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON renders the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SchedulerConfig holds the scheduler knobs.
type SchedulerConfig struct {
	MaxWorkers      int      `json:"max_workers"`
	TickInterval    Duration `json:"tick_interval"`
	DefaultTimeout  Duration `json:"default_timeout"`
	Coalesce        *bool    `json:"coalesce"`
	MaxInstances    int      `json:"max_instances"`
	CleanupInterval Duration `json:"cleanup_interval"`
	RetentionDays   int      `json:"retention_days"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	WebhookTimeout  Duration `json:"webhook_timeout"`
	PriorityChannel string   `json:"priority_channel"`
	RatePerSecond   float64  `json:"rate_per_second"`
	RateBurst       int      `json:"rate_burst"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `json:"level"`
}

// Config is the full daemon configuration.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Store     StoreConfig     `json:"store"`
	Notify    NotifyConfig    `json:"notify"`
	Log       LogConfig       `json:"log"`
}

// Default returns the configuration used when fields are omitted.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxWorkers:      10,
			TickInterval:    Duration(time.Second),
			MaxInstances:    1,
			CleanupInterval: Duration(time.Hour),
			RetentionDays:   30,
		},
		Store: StoreConfig{Driver: "sqlite", DSN: "scheduler.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers < 0 {
		return fmt.Errorf("scheduler.max_workers must be >= 0")
	}
	if c.Scheduler.RetentionDays < 0 {
		return fmt.Errorf("scheduler.retention_days must be >= 0")
	}
	switch c.Store.Driver {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	return nil
}

// applyDefaults fills omitted fields from Default.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Scheduler.MaxWorkers == 0 {
		c.Scheduler.MaxWorkers = def.Scheduler.MaxWorkers
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = def.Scheduler.TickInterval
	}
	if c.Scheduler.MaxInstances <= 0 {
		c.Scheduler.MaxInstances = def.Scheduler.MaxInstances
	}
	if c.Scheduler.CleanupInterval <= 0 {
		c.Scheduler.CleanupInterval = def.Scheduler.CleanupInterval
	}
	if c.Scheduler.RetentionDays == 0 {
		c.Scheduler.RetentionDays = def.Scheduler.RetentionDays
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = def.Store.DSN
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// CoalesceEnabled reports the coalesce knob, defaulting to true.
func (c *SchedulerConfig) CoalesceEnabled() bool {
	if c.Coalesce == nil {
		return true
	}
	return *c.Coalesce
}

// Retention returns the execution retention as a duration.
func (c *SchedulerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads, decodes, validates, and defaults the config at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(raw []byte) (*Config, error) {
	jsonBytes, err := coerceToJSON(raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("trailing data after config document")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// coerceToJSON converts the YAML document to JSON bytes.
func coerceToJSON(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	v = normalizeKeys(v)
	return json.Marshal(v)
}

// normalizeKeys forces all map keys to strings so the tree JSON-marshals.
func normalizeKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeKeys(x[i])
		}
		return x
	default:
		return in
	}
}
