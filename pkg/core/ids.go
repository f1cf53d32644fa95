package core

import "fmt"

// DeviceID is the user-visible device id.
type DeviceID int32

// QueueID identifies a hardware execution queue on its device.
type QueueID uint16

// TaskID identifies a task within its queue.
type TaskID uint32

// ThreadID identifies a device-side worker thread, or a host dispatch worker.
type ThreadID uint32

// BinaryHandle is the opaque handle of a loaded device binary. Zero means none.
type BinaryHandle uint64

// ReportType tags the kind of a multi-chunk hardware report.
type ReportType uint16

// BinaryRef names a symbol inside a loaded binary.
type BinaryRef struct {
	Handle BinaryHandle `json:"handle"`
	Symbol string       `json:"symbol"`
}

// Valid reports whether the reference carries a binary handle.
func (r BinaryRef) Valid() bool {
	return r.Handle != 0
}

func (r BinaryRef) String() string {
	if !r.Valid() {
		return "<none>"
	}
	if r.Symbol == "" {
		return fmt.Sprintf("%#x", uint64(r.Handle))
	}
	return fmt.Sprintf("%#x:%s", uint64(r.Handle), r.Symbol)
}

// TaskKey packs a (queue, task) pair into one ordered key.
func TaskKey(q QueueID, t TaskID) uint64 {
	return uint64(q)<<32 | uint64(t)
}
