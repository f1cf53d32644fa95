package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// TaskCompleted is emitted when a task finishes successfully.
type TaskCompleted struct {
	QueueID   QueueID
	TaskID    TaskID
	Kind      OpKind
	Duration  time.Duration
	Timestamp time.Time
}

func (*TaskCompleted) eventMarker() {}

// TaskFailed is emitted when a task reports a device error.
type TaskFailed struct {
	QueueID   QueueID
	TaskID    TaskID
	Kind      OpKind
	Error     error
	Timestamp time.Time
}

func (*TaskFailed) eventMarker() {}

// TaskAborted is emitted when a task is skipped without executing.
type TaskAborted struct {
	QueueID   QueueID
	TaskID    TaskID
	Kind      OpKind
	Error     error
	Timestamp time.Time
}

func (*TaskAborted) eventMarker() {}

// QueueAcknowledged is emitted when a stopped queue's failure is cleared.
type QueueAcknowledged struct {
	QueueID   QueueID
	Timestamp time.Time
}

func (*QueueAcknowledged) eventMarker() {}
