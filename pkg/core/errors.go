package core

import (
	"errors"
	"fmt"
)

// Error taxonomy
var (
	ErrInvalidParameter     = errors.New("accelrt: invalid parameter")
	ErrTimeout              = errors.New("accelrt: timed out")
	ErrDeviceFailure        = errors.New("accelrt: device failure")
	ErrReassemblyCorruption = errors.New("accelrt: report reassembly rejected chunk")
	ErrResourceExhausted    = errors.New("accelrt: resource exhausted")
	ErrPermissionDenied     = errors.New("accelrt: permission denied")
)

// Lifecycle errors
var (
	ErrNotFound          = errors.New("accelrt: not found")
	ErrAlreadyExists     = errors.New("accelrt: already exists")
	ErrQueueDestroyed    = errors.New("accelrt: queue destroyed")
	ErrNotSubscribed     = errors.New("accelrt: queue has no callback subscription")
	ErrAlreadySubscribed = errors.New("accelrt: queue already subscribed")
	ErrMarkerNotRecorded = errors.New("accelrt: marker has not been recorded")
	ErrMarkerBusy        = errors.New("accelrt: marker record not yet consumed")
	ErrSignalDestroyed   = errors.New("accelrt: signal destroyed")
	ErrSignalNotExported = errors.New("accelrt: signal not exported")
)

// DeviceError describes a failed task. It matches ErrDeviceFailure with errors.Is.
type DeviceError struct {
	QueueID QueueID
	TaskID  TaskID
	Code    uint32
	Err     error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("accelrt: device failure on queue %d task %d (code %#x): %v", e.QueueID, e.TaskID, e.Code, e.Err)
	}
	return fmt.Sprintf("accelrt: device failure on queue %d task %d (code %#x)", e.QueueID, e.TaskID, e.Code)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is reports ErrDeviceFailure as a match.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceFailure
}

// Fault is returned by an op body to model a hardware execution fault. The
// device turns it into an exception record.
type Fault struct {
	Code     uint32
	ThreadID ThreadID
}

func (f *Fault) Error() string {
	return fmt.Sprintf("hardware fault %#x on thread %d", f.Code, f.ThreadID)
}

// Timeout wraps a context error so that it matches ErrTimeout as well as the
// original context error.
func Timeout(err error) error {
	return fmt.Errorf("%w: %w", ErrTimeout, err)
}
