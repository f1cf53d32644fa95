package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jdziat/accelrt/pkg/container"
	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device"
	"github.com/jdziat/accelrt/pkg/exception"
	"github.com/jdziat/accelrt/pkg/reassembly"
)

// CodePanic is the fault code reported for a body that panicked.
const CodePanic = uint32(0xdead)

// Engine runs one hardware queue.
type Engine struct {
	dev      *Device
	id       core.QueueID
	priority int
	sink     device.Sink
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending *container.Vector[*core.Task]
	closing bool
	force   bool
	rng     *rand.Rand
}

var _ device.Engine = (*Engine)(nil)

func newEngine(d *Device, id core.QueueID, priority int, sink device.Sink) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		dev:      d,
		id:       id,
		priority: priority,
		sink:     sink,
		logger:   d.logger.With("queue_id", id),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		pending:  container.NewVector[*core.Task](64),
	}
	if d.shuffle {
		e.rng = rand.New(rand.NewPCG(d.seed, uint64(id)))
	}
	return e
}

func (e *Engine) QueueID() core.QueueID { return e.id }
func (e *Engine) Priority() int         { return e.priority }

// Launch appends a task.
func (e *Engine) Launch(t *core.Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", core.ErrInvalidParameter)
	}
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return core.ErrQueueDestroyed
	}
	e.pending.PushBack(t)
	e.mu.Unlock()
	e.signal()
	return nil
}

// Pending returns the number of launched tasks not yet started.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Len()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close stops the engine and waits for its executor to exit.
func (e *Engine) Close(ctx context.Context, force bool) error {
	e.mu.Lock()
	e.closing = true
	if force {
		e.force = true
		e.cancel()
	}
	e.mu.Unlock()
	e.signal()

	select {
	case <-e.done:
	case <-ctx.Done():
		return core.Timeout(ctx.Err())
	}
	e.cancel()
	e.dev.remove(e.id)
	return nil
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		t, ok := e.pending.PopFront()
		closing, force := e.closing, e.force
		e.mu.Unlock()

		if !ok {
			if closing {
				return
			}
			<-e.wake
			continue
		}
		if force {
			e.abort(t, core.ErrQueueDestroyed)
			continue
		}
		e.execute(t)
	}
}

func (e *Engine) abort(t *core.Task, err error) {
	if t.Abort != nil {
		t.Abort(err)
	}
	e.sink.Complete(t, err, 0)
}

func (e *Engine) execute(t *core.Task) {
	if err := e.sink.Admit(t); err != nil {
		e.abort(t, err)
		return
	}

	start := time.Now()
	err := e.call(t)

	var fault *core.Fault
	switch {
	case err == nil:
	case errors.As(err, &fault):
		e.raise(t, fault)
		err = &core.DeviceError{QueueID: e.id, TaskID: t.ID, Code: fault.Code, Err: fault}
	case errors.Is(err, core.ErrDeviceFailure), errors.Is(err, core.ErrQueueDestroyed):
	default:
		err = &core.DeviceError{QueueID: e.id, TaskID: t.ID, Err: err}
	}
	e.sink.Complete(t, err, time.Since(start))
}

func (e *Engine) call(t *core.Task) (err error) {
	if t.Body == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("task body panicked", "task_id", t.ID, "panic", p)
			err = &core.Fault{Code: CodePanic}
		}
	}()
	return t.Body(e.ctx)
}

// raise reports a fault as an exception record.
func (e *Engine) raise(t *core.Task, f *core.Fault) {
	rec := &exception.Record{
		DeviceIndex: e.dev.index,
		QueueID:     e.id,
		TaskID:      t.ID,
		ThreadID:    f.ThreadID,
		Code:        f.Code,
	}
	switch {
	case t.Fused:
		rec.Payload = exception.FusedInfo{ContextID: t.ContextID, Core: exception.CoreInfo{Binary: t.Binary}}
	case t.Kind == core.OpKernel:
		rec.Payload = exception.CoreInfo{Binary: t.Binary}
	default:
		rec.Payload = exception.InvalidInfo{}
	}
	raw, err := exception.Encode(rec)
	if err != nil {
		e.logger.Error("failed to encode exception record", "task_id", t.ID, "error", err)
		return
	}
	report := core.Report{Kind: core.ReportException, QueueID: e.id, TaskID: t.ID, Data: raw}
	if err := e.sink.Report(e.ctx, report); err != nil {
		e.logger.Warn("exception record not delivered", "task_id", t.ID, "error", err)
	}
}

// Publish cuts a report into chunks and delivers them.
func (e *Engine) Publish(task core.TaskID, typ core.ReportType, data []byte) error {
	frames, err := reassembly.Frames(reassembly.MakeKey(task, e.id, typ), data)
	if err != nil {
		return err
	}
	if e.rng != nil && len(frames) > 2 {
		e.mu.Lock()
		rest := frames[1:]
		e.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		e.mu.Unlock()
	}
	for _, f := range frames {
		r := core.Report{Kind: core.ReportChunk, QueueID: e.id, TaskID: task, Data: f}
		if err := e.sink.Report(e.ctx, r); err != nil {
			return err
		}
	}
	return nil
}
