package dispatch

import (
	"log/slog"
	"time"

	"github.com/jdziat/accelrt/pkg/metrics"
	"github.com/jdziat/accelrt/pkg/security"
	"github.com/jdziat/accelrt/pkg/worker"
)

// Option configures a Dispatcher.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Options holds dispatcher configuration.
type Options struct {
	MaxGroups    int
	PollInterval time.Duration
	Backlog      int
	Exceptions   worker.Exceptions
	Assembler    worker.Assembler
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// NewOptions returns the defaults.
func NewOptions() *Options {
	return &Options{
		MaxGroups:    security.MaxWorkerGroups,
		PollInterval: 100 * time.Millisecond,
		Backlog:      1024,
		Logger:       slog.Default(),
	}
}

// WithMaxGroups bounds how many queues may be subscribed at once.
func WithMaxGroups(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxGroups = security.ClampWorkerGroups(n)
	})
}

// WithPollInterval sets each worker's idle tick.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.PollInterval = security.ClampPollInterval(d)
	})
}

// WithBacklog sets each worker's report channel capacity.
func WithBacklog(n int) Option {
	return optionFunc(func(o *Options) {
		if n > 0 {
			o.Backlog = n
		}
	})
}

// WithExceptions routes exception records to e.
func WithExceptions(e worker.Exceptions) Option {
	return optionFunc(func(o *Options) {
		o.Exceptions = e
	})
}

// WithAssembler routes report chunks to a.
func WithAssembler(a worker.Assembler) Option {
	return optionFunc(func(o *Options) {
		o.Assembler = a
	})
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(o *Options) {
		o.Metrics = m
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}
