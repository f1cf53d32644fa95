// Package queue provides the Queue type, the host handle of one hardware execution queue.
package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/metrics"
)

// Options holds configuration for a Queue.
type Options struct {
	Priority     int
	FailureMode  core.FailureMode
	SyncTimeout  time.Duration
	Logger       *slog.Logger
	Fallback     Router
	Expectations Expectations
	Metrics      *metrics.Metrics
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		FailureMode: core.Continue,
		Logger:      slog.Default(),
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithPriority sets the hardware queue priority.
func WithPriority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// WithFailureMode selects what happens to later ops after one fails.
func WithFailureMode(m core.FailureMode) Option {
	return optionFunc(func(o *Options) {
		o.FailureMode = m
	})
}

// WithSyncTimeout bounds Synchronize when the caller's context has no deadline.
func WithSyncTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.SyncTimeout = d
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		o.Logger = l
	})
}

// WithFallback routes reports while no subscriber is bound.
func WithFallback(r Router) Option {
	return optionFunc(func(o *Options) {
		o.Fallback = r
	})
}

// WithExpectations registers kernels launched from a binary as expected to
// raise exceptions under their (queue, task) ids.
func WithExpectations(e Expectations) Option {
	return optionFunc(func(o *Options) {
		o.Expectations = e
	})
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(o *Options) {
		o.Metrics = m
	})
}
