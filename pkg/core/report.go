package core

import "sync"

// ReportKind classifies items arriving on a queue's report channel.
type ReportKind uint8

const (
	ReportCallback ReportKind = iota + 1
	ReportException
	ReportChunk
)

func (k ReportKind) String() string {
	switch k {
	case ReportCallback:
		return "callback"
	case ReportException:
		return "exception"
	case ReportChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// Report is one item delivered by the device for a queue.
type Report struct {
	Kind    ReportKind
	QueueID QueueID
	TaskID  TaskID

	// Invocation is set for ReportCallback.
	Invocation *Invocation

	// Data holds an encoded exception record or one chunk frame.
	Data []byte
}

// CallbackMode controls how long a callback op holds its queue.
type CallbackMode int

const (
	// Blocking holds the queue until the callback has returned.
	Blocking CallbackMode = iota
	// NonBlocking releases the queue once the callback is enqueued.
	NonBlocking
)

func (m CallbackMode) String() string {
	if m == NonBlocking {
		return "non-blocking"
	}
	return "blocking"
}

// HostFunc is a user callback. err is nil unless the queue refused to run the
// callback op, in which case it carries the failure that stopped the queue.
type HostFunc func(err error)

// Invocation is a pending host callback.
type Invocation struct {
	Fn   HostFunc
	Mode CallbackMode
	Err  error

	done chan struct{}
	once sync.Once
	res  error
}

// NewInvocation prepares a callback invocation.
func NewInvocation(fn HostFunc, mode CallbackMode) *Invocation {
	return &Invocation{Fn: fn, Mode: mode, done: make(chan struct{})}
}

// Finish marks the invocation handled. res is nil when the callback ran, or
// the reason it could not be delivered. Only the first call has effect.
func (i *Invocation) Finish(res error) {
	i.once.Do(func() {
		i.res = res
		close(i.done)
	})
}

// Done is closed by Finish.
func (i *Invocation) Done() <-chan struct{} {
	return i.done
}

// Result is valid after Done is closed.
func (i *Invocation) Result() error {
	<-i.done
	return i.res
}
