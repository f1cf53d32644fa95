// Package config loads the runtime configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/schedule"
	"github.com/jdziat/accelrt/pkg/security"
)

// Signal store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Config struct {
	Queue      QueueConfig      `yaml:"queue"`
	Signals    SignalsConfig    `yaml:"signals"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Reassembly ReassemblyConfig `yaml:"reassembly"`
	Exceptions ExceptionsConfig `yaml:"exceptions"`
	Janitor    JanitorConfig    `yaml:"janitor"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type QueueConfig struct {
	FailureMode core.FailureMode `yaml:"failure_mode"`
	SyncTimeout Duration         `yaml:"sync_timeout"`
	Priority    int              `yaml:"priority"`
}

type SignalsConfig struct {
	Store        string   `yaml:"store"`
	Path         string   `yaml:"path"`
	PollInterval Duration `yaml:"poll_interval"`
}

type DispatchConfig struct {
	MaxGroups    int      `yaml:"max_groups"`
	PollInterval Duration `yaml:"poll_interval"`
	Backlog      int      `yaml:"backlog"`
}

type ReassemblyConfig struct {
	MaxReportBytes int      `yaml:"max_report_bytes"`
	MaxInflight    int      `yaml:"max_inflight"`
	StaleAfter     Duration `yaml:"stale_after"`
}

type ExceptionsConfig struct {
	Journal        bool     `yaml:"journal"`
	JournalTimeout Duration `yaml:"journal_timeout"`
}

type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Duration reads "250ms" style strings as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes raw YAML, fills defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Queue.FailureMode == "" {
		c.Queue.FailureMode = core.Continue
	}
	if c.Signals.Store == "" {
		c.Signals.Store = StoreMemory
	}
	if c.Signals.PollInterval == 0 {
		c.Signals.PollInterval = Duration(10 * time.Millisecond)
	}
	if c.Dispatch.MaxGroups == 0 {
		c.Dispatch.MaxGroups = security.MaxWorkerGroups
	}
	if c.Dispatch.PollInterval == 0 {
		c.Dispatch.PollInterval = Duration(100 * time.Millisecond)
	}
	if c.Dispatch.Backlog == 0 {
		c.Dispatch.Backlog = 1024
	}
	if c.Reassembly.MaxReportBytes == 0 {
		c.Reassembly.MaxReportBytes = 1 << 20
	}
	if c.Reassembly.MaxInflight == 0 {
		c.Reassembly.MaxInflight = 256
	}
	if c.Reassembly.StaleAfter == 0 {
		c.Reassembly.StaleAfter = Duration(30 * time.Second)
	}
	if c.Exceptions.JournalTimeout == 0 {
		c.Exceptions.JournalTimeout = Duration(5 * time.Second)
	}
	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "30s"
	}
}

func (c *Config) validate() error {
	switch c.Queue.FailureMode {
	case core.Continue, core.StopOnFailure:
	default:
		return fmt.Errorf("queue.failure_mode must be %q or %q, got %q", core.Continue, core.StopOnFailure, c.Queue.FailureMode)
	}
	if c.Queue.SyncTimeout < 0 {
		return fmt.Errorf("queue.sync_timeout must not be negative")
	}
	switch c.Signals.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Signals.Path == "" {
			return fmt.Errorf("signals.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("signals.store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Signals.Store)
	}
	if c.Exceptions.Journal && c.Signals.Store != StoreSQLite {
		return fmt.Errorf("exceptions.journal requires the sqlite store")
	}
	if c.Dispatch.MaxGroups < 1 || c.Dispatch.MaxGroups > security.MaxWorkerGroups {
		return fmt.Errorf("dispatch.max_groups must be in [1, %d]", security.MaxWorkerGroups)
	}
	if c.Dispatch.Backlog < 1 {
		return fmt.Errorf("dispatch.backlog must be positive")
	}
	if c.Reassembly.MaxReportBytes < 1 || c.Reassembly.MaxInflight < 1 {
		return fmt.Errorf("reassembly limits must be positive")
	}
	if _, err := schedule.Parse(c.Janitor.Schedule); err != nil {
		return fmt.Errorf("janitor.schedule: %w", err)
	}
	return nil
}
