package accelrt

import "github.com/jdziat/accelrt/pkg/core"

// Error taxonomy. Compare with errors.Is.
var (
	ErrInvalidParameter     = core.ErrInvalidParameter
	ErrTimeout              = core.ErrTimeout
	ErrDeviceFailure        = core.ErrDeviceFailure
	ErrReassemblyCorruption = core.ErrReassemblyCorruption
	ErrResourceExhausted    = core.ErrResourceExhausted
	ErrPermissionDenied     = core.ErrPermissionDenied
	ErrNotFound             = core.ErrNotFound
	ErrAlreadyExists        = core.ErrAlreadyExists
	ErrQueueDestroyed       = core.ErrQueueDestroyed
	ErrNotSubscribed        = core.ErrNotSubscribed
	ErrAlreadySubscribed    = core.ErrAlreadySubscribed
	ErrMarkerNotRecorded    = core.ErrMarkerNotRecorded
	ErrMarkerBusy           = core.ErrMarkerBusy
	ErrSignalDestroyed      = core.ErrSignalDestroyed
	ErrSignalNotExported    = core.ErrSignalNotExported
)

type (
	// DeviceError is a hardware execution failure of one task.
	DeviceError = core.DeviceError

	// Fault is returned by a task body to raise a device exception.
	Fault = core.Fault
)
