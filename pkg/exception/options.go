package exception

import (
	"log/slog"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/metrics"
)

// DeviceResolver translates a device's internal index into its user-visible id.
type DeviceResolver interface {
	DeviceID(index uint32) (core.DeviceID, error)
}

// ResolverFunc adapts a function to DeviceResolver.
type ResolverFunc func(index uint32) (core.DeviceID, error)

func (f ResolverFunc) DeviceID(index uint32) (core.DeviceID, error) { return f(index) }

// Option configures a Registry.
type Option interface {
	Apply(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) Apply(r *Registry) { f(r) }

// WithResolver sets the device id translator.
func WithResolver(res DeviceResolver) Option {
	return optionFunc(func(r *Registry) {
		r.resolver = res
	})
}

// WithJournal persists every dispatched record.
func WithJournal(j core.ExceptionJournal) Option {
	return optionFunc(func(r *Registry) {
		r.journal = j
	})
}

// WithJournalTimeout bounds one journal append.
func WithJournalTimeout(d time.Duration) Option {
	return optionFunc(func(r *Registry) {
		r.journalTimeout = d
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Registry) {
		r.logger = l
	})
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(r *Registry) {
		r.metrics = m
	})
}
