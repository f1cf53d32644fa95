package core

import "context"

// OpKind classifies device work.
type OpKind uint8

const (
	OpKernel OpKind = iota + 1
	OpMarkerRecord
	OpMarkerWait
	OpMarkerReset
	OpSignalRecord
	OpSignalWait
	OpCallback
)

func (k OpKind) String() string {
	switch k {
	case OpKernel:
		return "kernel"
	case OpMarkerRecord:
		return "marker_record"
	case OpMarkerWait:
		return "marker_wait"
	case OpMarkerReset:
		return "marker_reset"
	case OpSignalRecord:
		return "signal_record"
	case OpSignalWait:
		return "signal_wait"
	case OpCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// FailureMode selects what a queue does after a task fails.
type FailureMode string

const (
	// Continue fails only the offending task.
	Continue FailureMode = "continue"
	// StopOnFailure aborts every later task until the failure is acknowledged.
	StopOnFailure FailureMode = "stop"
)

// QueryStatus is the non-blocking progress of a queue.
type QueryStatus int

const (
	QueryComplete QueryStatus = iota
	QueryPending
	QueryError
)

func (s QueryStatus) String() string {
	switch s {
	case QueryComplete:
		return "complete"
	case QueryPending:
		return "pending"
	case QueryError:
		return "error"
	default:
		return "unknown"
	}
}

// Op is one unit of device work submitted to a queue.
type Op struct {
	Kind OpKind

	// Binary is the loaded binary a kernel was launched from, if any.
	Binary BinaryRef

	// Fused marks a fused-operation kernel; ContextID selects the sub-context.
	Fused     bool
	ContextID uint16

	// Body runs on the device once the op reaches the head of its queue.
	Body func(ctx context.Context) error

	// Abort, if set, runs instead of Body when the queue refuses to execute
	// the op (stop-on-failure, forced destroy).
	Abort func(err error)
}

// Task is an Op admitted to a queue.
type Task struct {
	Op

	ID      TaskID
	QueueID QueueID
	Seq     uint64
}
