package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/accelrt/pkg/exception"
	"github.com/jdziat/accelrt/pkg/metrics"
	"github.com/jdziat/accelrt/pkg/reassembly"
	"github.com/jdziat/accelrt/pkg/security"
)

// Exceptions receives encoded exception records.
type Exceptions interface {
	OnException(ctx context.Context, raw []byte) (*exception.Record, error)
}

// Assembler rebuilds reports from chunk frames.
type Assembler interface {
	FeedFrame(frame []byte) (*reassembly.Report, error)
	Sweep(now time.Time) int
}

// ReportHandler receives every reassembled report.
type ReportHandler func(ctx context.Context, r *reassembly.Report)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Name         string
	ThreadID     uint32
	GroupID      int
	Backlog      int
	PollInterval time.Duration
	Exceptions   Exceptions
	Assembler    Assembler
	OnReport     ReportHandler
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// DefaultWorkerConfig returns the defaults applied before any option.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Name:         "worker",
		Backlog:      1024,
		PollInterval: 100 * time.Millisecond,
		Logger:       slog.Default(),
	}
}

// WithName labels the worker in logs.
func WithName(name string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Name = name
	})
}

// WithThread records the worker's thread and group ids.
func WithThread(thread uint32, group int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ThreadID = thread
		c.GroupID = group
	})
}

// WithBacklog sets the report channel capacity.
func WithBacklog(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if n > 0 {
			c.Backlog = n
		}
	})
}

// PollInterval bounds how long the loop blocks before an idle tick.
// Values are clamped to [security.MinPollInterval, security.MaxPollInterval].
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.PollInterval = security.ClampPollInterval(d)
	})
}

// WithExceptions routes exception records.
func WithExceptions(e Exceptions) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Exceptions = e
	})
}

// WithAssembler routes report chunks.
func WithAssembler(a Assembler) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Assembler = a
	})
}

// OnReport sets the handler for reassembled reports.
func OnReport(fn ReportHandler) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.OnReport = fn
	})
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Metrics = m
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}
