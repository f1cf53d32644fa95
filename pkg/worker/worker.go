package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/queue"
	"github.com/jdziat/accelrt/pkg/reassembly"
)

// Callback statuses reported to metrics.
const (
	StatusOK       = "ok"
	StatusPanic    = "panic"
	StatusReleased = "released"
)

// ErrStarted is returned by Start on a worker that already ran.
var ErrStarted = errors.New("accelrt: worker already started")

// Worker drains one report channel.
type Worker struct {
	config  WorkerConfig
	logger  *slog.Logger
	reports chan core.Report

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	mu      sync.RWMutex
	stopped bool

	processed atomic.Uint64
}

var _ queue.Router = (*Worker)(nil)

// NewWorker creates a worker. It does nothing until Start.
func NewWorker(opts ...WorkerOption) *Worker {
	config := DefaultWorkerConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	return &Worker{
		config: config,
		logger: config.Logger.With(
			"worker", config.Name,
			"thread_id", config.ThreadID,
			"group_id", config.GroupID,
		),
		reports: make(chan core.Report, config.Backlog),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Config returns the worker's configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Processed returns how many reports the worker has handled.
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Deliver enqueues r. It blocks while the channel is full, and fails with
// core.ErrNotSubscribed once the worker is stopping.
func (w *Worker) Deliver(ctx context.Context, r core.Report) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return core.ErrNotSubscribed
	}
	select {
	case w.reports <- r:
		return nil
	case <-w.stop:
		return core.ErrNotSubscribed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Route implements queue.Router.
func (w *Worker) Route(ctx context.Context, r core.Report) error {
	return w.Deliver(ctx, r)
}

// Start runs the loop until Stop is called or ctx is cancelled. Reports
// still queued at exit are drained; callbacks among them are released
// without running.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	defer close(w.done)

	w.logger.Debug("worker started")
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	lastActive := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case <-w.stop:
			w.drain()
			return nil
		case r := <-w.reports:
			w.process(ctx, r)
			lastActive = time.Now()
		case now := <-ticker.C:
			if now.Sub(lastActive) >= w.config.PollInterval {
				w.idle(now)
			}
		}
	}
}

// Stop signals the loop to exit and waits for it. Safe to call more than
// once, and before Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
		return
	}
	w.drain()
}

// Done is closed when Start returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) drain() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	for {
		select {
		case r := <-w.reports:
			if r.Kind == core.ReportCallback {
				w.release(r.Invocation)
				continue
			}
			w.process(context.Background(), r)
		default:
			w.logger.Debug("worker stopped", "processed", w.processed.Load())
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, r core.Report) {
	defer w.processed.Add(1)

	switch r.Kind {
	case core.ReportCallback:
		w.invoke(r)
	case core.ReportException:
		w.exception(ctx, r)
	case core.ReportChunk:
		w.chunk(ctx, r)
	default:
		w.logger.Warn("unknown report kind", "kind", r.Kind, "queue_id", r.QueueID, "task_id", r.TaskID)
	}
}

func (w *Worker) invoke(r core.Report) {
	inv := r.Invocation
	if inv == nil {
		w.logger.Warn("callback report without invocation", "queue_id", r.QueueID, "task_id", r.TaskID)
		return
	}

	start := time.Now()
	status := StatusOK
	if err := w.call(inv); err != nil {
		status = StatusPanic
		w.logger.Error("callback panicked",
			"queue_id", r.QueueID,
			"task_id", r.TaskID,
			"error", err,
		)
	}
	w.config.Metrics.Callback(inv.Mode.String(), status, time.Since(start))
	inv.Finish(nil)
}

func (w *Worker) call(inv *core.Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if inv.Fn != nil {
		inv.Fn(inv.Err)
	}
	return nil
}

func (w *Worker) release(inv *core.Invocation) {
	if inv == nil {
		return
	}
	w.config.Metrics.Callback(inv.Mode.String(), StatusReleased, 0)
	inv.Finish(core.ErrNotSubscribed)
}

func (w *Worker) exception(ctx context.Context, r core.Report) {
	if w.config.Exceptions == nil {
		w.logger.Warn("exception dropped, no registry", "queue_id", r.QueueID, "task_id", r.TaskID)
		return
	}
	if _, err := w.config.Exceptions.OnException(ctx, r.Data); err != nil {
		w.logger.Warn("failed to handle exception record",
			"queue_id", r.QueueID,
			"task_id", r.TaskID,
			"error", err,
		)
	}
}

func (w *Worker) chunk(ctx context.Context, r core.Report) {
	if w.config.Assembler == nil {
		w.logger.Warn("chunk dropped, no assembler", "queue_id", r.QueueID, "task_id", r.TaskID)
		return
	}
	rep, err := w.config.Assembler.FeedFrame(r.Data)
	if err != nil {
		// Rejections are logged by the assembler.
		if !reassembly.IsRejection(err) {
			w.logger.Warn("failed to feed chunk", "queue_id", r.QueueID, "error", err)
		}
		return
	}
	if rep == nil || w.config.OnReport == nil {
		return
	}
	w.deliverReport(ctx, rep)
}

func (w *Worker) deliverReport(ctx context.Context, rep *reassembly.Report) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("report handler panicked", "key", rep.Key.String(), "error", fmt.Sprintf("%v", p))
		}
	}()
	w.config.OnReport(ctx, rep)
}

func (w *Worker) idle(now time.Time) {
	if w.config.Assembler == nil {
		return
	}
	if n := w.config.Assembler.Sweep(now); n > 0 {
		w.logger.Debug("swept stale reassembly buffers", "count", n)
	}
}
