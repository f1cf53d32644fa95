// Package device defines the contract between the runtime and an
// accelerator: a Device opens hardware queues, each backed by an Engine that
// executes tasks in submission order and reports back through a Sink.
package device

import (
	"context"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
)

// Device is one accelerator.
type Device interface {
	// ID is the user-visible device id.
	ID() core.DeviceID
	// Index is the device's internal index, as carried in exception records.
	Index() uint32
	// Open creates a hardware queue that reports to sink.
	Open(priority int, sink Sink) (Engine, error)
	// Now reads the device tick counter.
	Now() uint64
	// TickRate is the tick counter frequency in Hz.
	TickRate() uint64
}

// Engine executes the tasks of one hardware queue, strictly in launch order.
type Engine interface {
	QueueID() core.QueueID
	// Launch appends a task. It never blocks.
	Launch(t *core.Task) error
	// Publish emits a multi-chunk report for a task.
	Publish(task core.TaskID, typ core.ReportType, data []byte) error
	// Close stops the engine. Without force it runs every launched task
	// first; with force pending tasks are aborted with core.ErrQueueDestroyed.
	Close(ctx context.Context, force bool) error
}

// Sink is the host side of an Engine.
type Sink interface {
	// Admit is consulted before a task runs. A non-nil error aborts the
	// task: its Abort hook runs instead of its Body.
	Admit(t *core.Task) error
	// Complete is called once per task, after its Body or Abort.
	Complete(t *core.Task, err error, elapsed time.Duration)
	// Report delivers exception records and report chunks.
	Report(ctx context.Context, r core.Report) error
}

// TicksToDuration converts a tick delta at rate Hz.
func TicksToDuration(ticks, rate uint64) time.Duration {
	if rate == 0 {
		return 0
	}
	sec := ticks / rate
	rem := ticks % rate
	return time.Duration(sec)*time.Second + time.Duration(rem*uint64(time.Second)/rate)
}
