package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device"
	"github.com/jdziat/accelrt/pkg/metrics"
)

// Router receives the reports of a queue.
type Router interface {
	Route(ctx context.Context, r core.Report) error
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, r core.Report) error

func (f RouterFunc) Route(ctx context.Context, r core.Report) error { return f(ctx, r) }

// Expectations is the (queue, task) table of kernels expected to fault.
type Expectations interface {
	Expect(q core.QueueID, t core.TaskID, ref core.BinaryRef) error
	Forget(q core.QueueID, t core.TaskID) bool
}

// AbortError is passed to tasks the queue refused to execute.
type AbortError struct {
	QueueID core.QueueID
	TaskID  core.TaskID
	Err     error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("accelrt: task %d on queue %d aborted: %v", e.TaskID, e.QueueID, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Queue is the host handle of one hardware execution queue.
type Queue struct {
	dev    device.Device
	engine device.Engine
	id     core.QueueID
	opts   *Options
	logger *slog.Logger

	mu        sync.RWMutex
	nextTask  core.TaskID
	submitted uint64
	finished  uint64
	progress  chan struct{}
	failure   error
	stopped   bool
	closing   bool
	closed    bool
	router    Router

	// Event stream
	eventSubs []chan core.Event
}

var _ device.Sink = (*Queue)(nil)

// New opens a hardware queue on dev.
func New(dev device.Device, opts ...Option) (*Queue, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", core.ErrInvalidParameter)
	}
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	switch o.FailureMode {
	case core.Continue, core.StopOnFailure:
	default:
		return nil, fmt.Errorf("%w: failure mode %q", core.ErrInvalidParameter, o.FailureMode)
	}

	q := &Queue{
		dev:      dev,
		opts:     o,
		progress: make(chan struct{}),
	}
	engine, err := dev.Open(o.Priority, q)
	if err != nil {
		return nil, err
	}
	q.engine = engine
	q.id = engine.QueueID()
	q.logger = o.Logger.With("queue_id", q.id)
	return q, nil
}

// ID returns the hardware queue id.
func (q *Queue) ID() core.QueueID { return q.id }

// Device returns the owning device.
func (q *Queue) Device() device.Device { return q.dev }

// FailureMode returns the queue's failure mode.
func (q *Queue) FailureMode() core.FailureMode { return q.opts.FailureMode }

// Submit appends op to the queue and returns its task id. It never blocks on
// device work.
func (q *Queue) Submit(op core.Op) (core.TaskID, error) {
	if op.Kind == 0 {
		return 0, fmt.Errorf("%w: op without a kind", core.ErrInvalidParameter)
	}

	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		return 0, core.ErrQueueDestroyed
	}
	q.nextTask++
	t := &core.Task{Op: op, ID: q.nextTask, QueueID: q.id, Seq: q.submitted}
	if op.Binary.Valid() && q.opts.Expectations != nil {
		if err := q.opts.Expectations.Expect(q.id, t.ID, op.Binary); err != nil {
			q.logger.Warn("failed to register exception expectation", "task_id", t.ID, "error", err)
		}
	}
	if err := q.engine.Launch(t); err != nil {
		q.mu.Unlock()
		q.forget(t)
		return 0, err
	}
	q.submitted++
	q.mu.Unlock()

	q.opts.Metrics.Task(op.Kind.String(), metrics.OutcomeSubmitted)
	return t.ID, nil
}

// Publish emits a multi-chunk report attributed to task.
func (q *Queue) Publish(task core.TaskID, typ core.ReportType, data []byte) error {
	return q.engine.Publish(task, typ, data)
}

// Synchronize blocks until every op submitted before the call has finished.
// It returns a core.ErrTimeout error if ctx (or the configured sync timeout)
// expires first; device work is not cancelled. Otherwise it returns the
// queue's device failure, if any: once in Continue mode, and on every call
// until Acknowledge in StopOnFailure mode.
func (q *Queue) Synchronize(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && q.opts.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.SyncTimeout)
		defer cancel()
	}

	q.mu.Lock()
	target := q.submitted
	for q.finished < target {
		ch := q.progress
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return core.Timeout(ctx.Err())
		}
		q.mu.Lock()
	}
	defer q.mu.Unlock()

	err := q.failure
	if q.opts.FailureMode == core.Continue {
		q.failure = nil
	}
	return err
}

// Query reports the queue's progress without blocking.
func (q *Queue) Query() core.QueryStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	switch {
	case q.stopped:
		return core.QueryError
	case q.finished < q.submitted:
		return core.QueryPending
	case q.failure != nil:
		return core.QueryError
	default:
		return core.QueryComplete
	}
}

// Err returns the recorded failure without clearing it.
func (q *Queue) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.failure
}

// Acknowledge clears the recorded failure. A stopped queue resumes executing
// ops that have not been aborted yet.
func (q *Queue) Acknowledge() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueDestroyed
	}
	had := q.failure != nil || q.stopped
	q.failure = nil
	q.stopped = false
	q.mu.Unlock()

	if had {
		q.logger.Info("queue failure acknowledged")
		q.Emit(&core.QueueAcknowledged{QueueID: q.id, Timestamp: time.Now()})
	}
	return nil
}

// Destroy closes the queue. Without force it first drains every submitted
// op. With force, ops that have not started complete with
// core.ErrQueueDestroyed without running, and their callbacks may never fire.
func (q *Queue) Destroy(ctx context.Context, force bool) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueDestroyed
	}
	q.closing = true
	q.mu.Unlock()

	if err := q.engine.Close(ctx, force); err != nil {
		return err
	}

	q.mu.Lock()
	q.closed = true
	q.router = nil
	q.mu.Unlock()
	q.logger.Debug("queue destroyed", "force", force)
	return nil
}

// Bind routes the queue's reports to r. Only one router may be bound.
func (q *Queue) Bind(r Router) error {
	if r == nil {
		return fmt.Errorf("%w: nil router", core.ErrInvalidParameter)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrQueueDestroyed
	}
	if q.router != nil {
		return core.ErrAlreadySubscribed
	}
	q.router = r
	return nil
}

// Unbind detaches the bound router; reports go to the fallback again.
func (q *Queue) Unbind() Router {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := q.router
	q.router = nil
	return r
}

// Bound reports whether a router is bound.
func (q *Queue) Bound() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.router != nil
}

// Admit implements device.Sink. In StopOnFailure mode every op after a
// failure is refused until Acknowledge.
func (q *Queue) Admit(t *core.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return &AbortError{QueueID: q.id, TaskID: t.ID, Err: q.failure}
	}
	return nil
}

// Complete implements device.Sink. Events are emitted before the task counts
// as finished, so a returning Synchronize has seen them all.
func (q *Queue) Complete(t *core.Task, err error, elapsed time.Duration) {
	var abort *AbortError
	aborted := errors.As(err, &abort) || errors.Is(err, core.ErrQueueDestroyed)
	if !faulted(err) {
		q.forget(t)
	}

	kind := t.Kind.String()
	now := time.Now()
	switch {
	case err == nil:
		q.opts.Metrics.Task(kind, metrics.OutcomeCompleted)
		q.Emit(&core.TaskCompleted{QueueID: q.id, TaskID: t.ID, Kind: t.Kind, Duration: elapsed, Timestamp: now})
	case aborted:
		q.opts.Metrics.Task(kind, metrics.OutcomeAborted)
		q.logger.Debug("task aborted", "task_id", t.ID, "kind", kind, "error", err)
		q.Emit(&core.TaskAborted{QueueID: q.id, TaskID: t.ID, Kind: t.Kind, Error: err, Timestamp: now})
	default:
		q.opts.Metrics.Task(kind, metrics.OutcomeFailed)
		q.logger.Warn("task failed", "task_id", t.ID, "kind", kind, "error", err)
		q.Emit(&core.TaskFailed{QueueID: q.id, TaskID: t.ID, Kind: t.Kind, Error: err, Timestamp: now})
	}

	q.mu.Lock()
	q.finished++
	if err != nil && !aborted {
		if q.failure == nil {
			q.failure = err
		}
		if q.opts.FailureMode == core.StopOnFailure {
			q.stopped = true
		}
	}
	close(q.progress)
	q.progress = make(chan struct{})
	q.mu.Unlock()
}

// Report implements device.Sink: it hands r to the bound router, or to the
// fallback when nothing is bound.
func (q *Queue) Report(ctx context.Context, r core.Report) error {
	q.mu.RLock()
	rt := q.router
	q.mu.RUnlock()
	if rt == nil {
		rt = q.opts.Fallback
	}
	if rt == nil {
		q.logger.Debug("report dropped, no router", "kind", r.Kind.String(), "task_id", r.TaskID)
		return core.ErrNotSubscribed
	}
	return rt.Route(ctx, r)
}

// faulted reports whether err came with an exception record, which clears
// the expectation itself once dispatched.
func faulted(err error) bool {
	var fault *core.Fault
	return errors.As(err, &fault)
}

func (q *Queue) forget(t *core.Task) {
	if t.Binary.Valid() && q.opts.Expectations != nil {
		q.opts.Expectations.Forget(q.id, t.ID)
	}
}

// Events returns a channel that receives queue events.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling Unsubscribe.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full
		}
	}
}
