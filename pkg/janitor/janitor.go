package janitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/metrics"
	"github.com/jdziat/accelrt/pkg/schedule"
)

// Sweeper evicts stale entries and returns how many it dropped.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Liveness reports whether a process exists.
type Liveness func(pid int) bool

// ProcessAlive probes pid with signal 0. A pid we may not signal still
// exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Result summarizes one pass.
type Result struct {
	Evicted int
	Removed int
	Swept   int
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithSchedule sets when passes run. The default is every 30 seconds.
func WithSchedule(s schedule.Schedule) Option {
	return func(j *Janitor) {
		if s != nil {
			j.schedule = s
		}
	}
}

// WithLiveness replaces the pid probe.
func WithLiveness(fn Liveness) Option {
	return func(j *Janitor) {
		if fn != nil {
			j.alive = fn
		}
	}
}

// WithSweeper adds a sweeper run on every pass.
func WithSweeper(s Sweeper) Option {
	return func(j *Janitor) {
		if s != nil {
			j.sweepers = append(j.sweepers, s)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Janitor) {
		j.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// Janitor reaps dead holders from a signal store.
type Janitor struct {
	store    core.SignalStore
	sweepers []Sweeper
	schedule schedule.Schedule
	alive    Liveness
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a janitor. store may be nil when only sweepers are used.
func New(store core.SignalStore, opts ...Option) *Janitor {
	j := &Janitor{
		store:    store,
		schedule: schedule.Every(30 * time.Second),
		alive:    ProcessAlive,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "janitor")
	return j
}

// RunOnce performs one pass.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	for _, s := range j.sweepers {
		res.Swept += s.Sweep(j.now())
	}
	if j.store == nil {
		return res, nil
	}

	names, err := j.store.Names(ctx)
	if err != nil {
		return res, err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		holders, err := j.store.Holders(ctx, name)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		for _, h := range holders {
			if j.alive(h.PID) {
				continue
			}
			left, err := j.store.Evict(ctx, name, h.PID)
			if errors.Is(err, core.ErrNotFound) {
				break
			}
			if err != nil {
				return res, err
			}
			res.Evicted++
			j.logger.Info("evicted dead signal holder", "signal", name, "pid", h.PID, "refs", h.Refs)
			if left == 0 {
				res.Removed++
				break
			}
		}
	}
	j.metrics.HoldersEvicted(res.Evicted)
	return res, nil
}

// Start runs passes on the schedule until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) error {
	for {
		now := j.now()
		wait := j.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		res, err := j.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.logger.Warn("janitor pass failed", "error", err)
			continue
		}
		if res.Evicted > 0 || res.Swept > 0 {
			j.logger.Debug("janitor pass", "evicted", res.Evicted, "removed", res.Removed, "swept", res.Swept)
		}
	}
}
