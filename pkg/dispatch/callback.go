package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/queue"
)

// LaunchCallback enqueues fn on q, ordered with q's other work. q must be
// subscribed.
//
// A Blocking callback holds the queue until fn has returned. A NonBlocking
// one releases it as soon as the callback is handed to the worker. If the
// queue refuses the op after a failure, fn still runs, with the failure as
// its argument, and a Blocking one still holds the queue until it returns.
// Callbacks abandoned by a forced destroy never run.
func (d *Dispatcher) LaunchCallback(q *queue.Queue, fn core.HostFunc, mode core.CallbackMode) (core.TaskID, error) {
	if q == nil || fn == nil {
		return 0, fmt.Errorf("%w: nil queue or callback", core.ErrInvalidParameter)
	}
	switch mode {
	case core.Blocking, core.NonBlocking:
	default:
		return 0, fmt.Errorf("%w: callback mode %d", core.ErrInvalidParameter, mode)
	}
	if _, ok := d.Subscription(q); !ok {
		return 0, core.ErrNotSubscribed
	}

	ids := make(chan core.TaskID, 1)
	report := func() core.Report {
		id := <-ids
		ids <- id
		return core.Report{
			Kind:       core.ReportCallback,
			QueueID:    q.ID(),
			TaskID:     id,
			Invocation: core.NewInvocation(fn, mode),
		}
	}

	id, err := q.Submit(core.Op{
		Kind: core.OpCallback,
		Body: func(ctx context.Context) error {
			return d.runCallback(ctx, q, report(), mode)
		},
		Abort: func(cause error) {
			if errors.Is(cause, core.ErrQueueDestroyed) {
				return
			}
			r := report()
			r.Invocation.Err = failure(cause)
			if err := q.Report(context.Background(), r); err != nil {
				d.logger.Warn("aborted callback not delivered",
					"queue_id", q.ID(),
					"task_id", r.TaskID,
					"error", err,
				)
				return
			}
			if mode == core.Blocking {
				<-r.Invocation.Done()
				d.released(r)
			}
		},
	})
	if err != nil {
		return 0, err
	}
	ids <- id
	return id, nil
}

func (d *Dispatcher) runCallback(ctx context.Context, q *queue.Queue, r core.Report, mode core.CallbackMode) error {
	if err := q.Report(ctx, r); err != nil {
		if ctx.Err() != nil {
			return core.ErrQueueDestroyed
		}
		d.logger.Warn("callback not delivered", "queue_id", r.QueueID, "task_id", r.TaskID, "error", err)
		return nil
	}
	if mode == core.NonBlocking {
		return nil
	}

	select {
	case <-r.Invocation.Done():
	case <-ctx.Done():
		return core.ErrQueueDestroyed
	}
	d.released(r)
	return nil
}

// released logs a blocking callback the worker let go without running.
func (d *Dispatcher) released(r core.Report) {
	if err := r.Invocation.Result(); err != nil {
		d.logger.Debug("blocking callback released", "queue_id", r.QueueID, "task_id", r.TaskID, "error", err)
	}
}

// failure unwraps a queue abort to the error that stopped the queue.
func failure(err error) error {
	var abort *queue.AbortError
	if errors.As(err, &abort) && abort.Err != nil {
		return abort.Err
	}
	return err
}
