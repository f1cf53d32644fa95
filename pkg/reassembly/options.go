package reassembly

import (
	"log/slog"
	"time"

	"github.com/jdziat/accelrt/pkg/metrics"
)

// Defaults.
const (
	DefaultMaxReportBytes = 1 << 20
	DefaultMaxInflight    = 256
	DefaultStaleAfter     = 30 * time.Second
)

// Config holds Reassembler configuration.
type Config struct {
	MaxReportBytes int
	MaxInflight    int
	StaleAfter     time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Option configures a Reassembler.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// WithMaxReportBytes bounds the size of one assembled report.
func WithMaxReportBytes(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.MaxReportBytes = n
		}
	})
}

// WithMaxInflight bounds the number of reports being assembled at once.
func WithMaxInflight(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.MaxInflight = n
		}
	})
}

// WithStaleAfter sets how long an idle buffer survives before Sweep evicts it.
// Zero disables eviction.
func WithStaleAfter(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.StaleAfter = d
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(c *Config) {
		c.Metrics = m
	})
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		c.Now = now
	})
}
