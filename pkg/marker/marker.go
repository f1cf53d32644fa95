// Package marker provides CompletionMarker, a one-shot synchronization point
// recorded on one queue and waited on by the host or by other queues.
package marker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device"
	"github.com/jdziat/accelrt/pkg/queue"
)

// Status is the progress of a marker's latest record.
type Status int

const (
	// StatusInit means never recorded, or reset.
	StatusInit Status = iota
	// StatusRecording means a record is queued but not reached yet.
	StatusRecording
	// StatusRecorded means the latest record has executed.
	StatusRecorded
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusRecording:
		return "recording"
	case StatusRecorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// Option configures a Marker.
type Option interface {
	Apply(*Marker)
}

type optionFunc func(*Marker)

func (f optionFunc) Apply(m *Marker) { f(m) }

// WithTiming captures a device timestamp on every record.
func WithTiming(enabled bool) Option {
	return optionFunc(func(m *Marker) {
		m.timing = enabled
	})
}

type record struct {
	queue    core.QueueID
	done     chan struct{}
	ticks    uint64
	rate     uint64
	err      error
	consumed atomic.Bool
}

func (r *record) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Marker is a CompletionMarker.
type Marker struct {
	timing bool

	mu  sync.Mutex
	cur *record
}

// New creates an unrecorded marker.
func New(opts ...Option) *Marker {
	m := &Marker{}
	for _, opt := range opts {
		opt.Apply(m)
	}
	return m
}

// Timing reports whether the marker captures timestamps.
func (m *Marker) Timing() bool { return m.timing }

func (m *Marker) latest() *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Record captures everything submitted to q before this call.
func (m *Marker) Record(q *queue.Queue) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", core.ErrInvalidParameter)
	}
	dev := q.Device()
	r := &record{queue: q.ID(), done: make(chan struct{})}

	_, err := q.Submit(core.Op{
		Kind: core.OpMarkerRecord,
		Body: func(context.Context) error {
			if m.timing {
				r.ticks = dev.Now()
				r.rate = dev.TickRate()
			}
			close(r.done)
			return nil
		},
		Abort: func(err error) {
			r.err = cause(err)
			close(r.done)
		},
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cur = r
	m.mu.Unlock()
	return nil
}

// Wait makes q's later ops wait for the latest record. The caller does not block.
func (m *Marker) Wait(q *queue.Queue) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", core.ErrInvalidParameter)
	}
	r := m.latest()
	if r == nil {
		return core.ErrMarkerNotRecorded
	}
	_, err := q.Submit(core.Op{
		Kind: core.OpMarkerWait,
		Body: func(ctx context.Context) error {
			select {
			case <-r.done:
			case <-ctx.Done():
				return core.ErrQueueDestroyed
			}
			r.consumed.Store(true)
			return r.err
		},
	})
	return err
}

// Synchronize blocks until the latest record has executed. It returns the
// failure that prevented the record, if any.
func (m *Marker) Synchronize(ctx context.Context) error {
	r := m.latest()
	if r == nil {
		return core.ErrMarkerNotRecorded
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return core.Timeout(ctx.Err())
	}
	r.consumed.Store(true)
	return r.err
}

// Query returns the marker's status without blocking.
func (m *Marker) Query() Status {
	r := m.latest()
	switch {
	case r == nil:
		return StatusInit
	case r.finished():
		return StatusRecorded
	default:
		return StatusRecording
	}
}

// Reset re-arms the marker once q reaches this point. It is rejected with
// core.ErrMarkerBusy while the latest record is still pending or has not
// been consumed by a host or device wait.
func (m *Marker) Reset(q *queue.Queue) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", core.ErrInvalidParameter)
	}
	r := m.latest()
	if r == nil {
		return nil
	}
	if !r.finished() || !r.consumed.Load() {
		return core.ErrMarkerBusy
	}
	_, err := q.Submit(core.Op{
		Kind: core.OpMarkerReset,
		Body: func(context.Context) error {
			m.mu.Lock()
			if m.cur == r {
				m.cur = nil
			}
			m.mu.Unlock()
			return nil
		},
	})
	return err
}

// Timestamp returns the device ticks captured by the latest record.
func (m *Marker) Timestamp() (uint64, error) {
	r, err := m.timed()
	if err != nil {
		return 0, err
	}
	return r.ticks, nil
}

func (m *Marker) timed() (*record, error) {
	if !m.timing {
		return nil, fmt.Errorf("%w: marker created without timing", core.ErrInvalidParameter)
	}
	r := m.latest()
	if r == nil || !r.finished() {
		return nil, core.ErrMarkerNotRecorded
	}
	if r.err != nil {
		return nil, r.err
	}
	return r, nil
}

// Elapsed returns the device time between the records of a and b.
func Elapsed(a, b *Marker) (time.Duration, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("%w: nil marker", core.ErrInvalidParameter)
	}
	ra, err := a.timed()
	if err != nil {
		return 0, err
	}
	rb, err := b.timed()
	if err != nil {
		return 0, err
	}
	if rb.ticks >= ra.ticks {
		return device.TicksToDuration(rb.ticks-ra.ticks, ra.rate), nil
	}
	return -device.TicksToDuration(ra.ticks-rb.ticks, ra.rate), nil
}

// cause strips the abort wrapper so waiters see the failure that stopped
// the recording queue.
func cause(err error) error {
	var abort *queue.AbortError
	if errors.As(err, &abort) && abort.Err != nil {
		return abort.Err
	}
	return err
}
