package exception

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/accelrt/pkg/container"
	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/metrics"
)

// Callback receives a dispatched exception. Context a caller needs is
// captured by the closure.
type Callback func(rec *Record)

// Registry routes exception records to callbacks. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	process  Callback
	modules  *container.SortedArray[string, Callback]
	binaries map[core.BinaryHandle]Callback
	expected *container.SortedArray[uint64, core.BinaryRef]

	resolver       DeviceResolver
	journal        core.ExceptionJournal
	journalTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		modules:        container.NewSortedArray[string, Callback](),
		binaries:       make(map[core.BinaryHandle]Callback),
		expected:       container.NewSortedArray[uint64, core.BinaryRef](),
		journalTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt.Apply(r)
	}
	return r
}

// SetProcessCallback installs the process-wide callback. nil clears it.
func (r *Registry) SetProcessCallback(fn Callback) {
	r.mu.Lock()
	r.process = fn
	r.mu.Unlock()
}

// RegisterModuleCallback installs a named callback that sees every record.
// nil removes it.
func (r *Registry) RegisterModuleCallback(module string, fn Callback) error {
	if module == "" {
		return fmt.Errorf("%w: empty module name", core.ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		r.modules.Delete(module)
		return nil
	}
	r.modules.Set(module, fn)
	return nil
}

// RegisterBinaryCallback installs the callback for one loaded binary,
// replacing any earlier one.
func (r *Registry) RegisterBinaryCallback(handle core.BinaryHandle, fn Callback) error {
	if handle == 0 || fn == nil {
		return fmt.Errorf("%w: binary callback needs a handle and a function", core.ErrInvalidParameter)
	}
	r.mu.Lock()
	_, replaced := r.binaries[handle]
	r.binaries[handle] = fn
	r.mu.Unlock()

	if replaced {
		r.logger.Info("binary exception callback replaced", "binary_handle", uint64(handle))
	}
	return nil
}

// UnregisterBinaryCallback removes a binary's callback.
func (r *Registry) UnregisterBinaryCallback(handle core.BinaryHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.binaries[handle]
	delete(r.binaries, handle)
	return ok
}

// Expect records that (queue, task) runs code from ref, so a fault it
// raises reaches ref's callback even when the record does not name it.
func (r *Registry) Expect(q core.QueueID, t core.TaskID, ref core.BinaryRef) error {
	if !ref.Valid() {
		return fmt.Errorf("%w: expectation without a binary", core.ErrInvalidParameter)
	}
	r.mu.Lock()
	r.expected.Set(core.TaskKey(q, t), ref)
	r.mu.Unlock()
	return nil
}

// Forget drops the expectation for (queue, task).
func (r *Registry) Forget(q core.QueueID, t core.TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.expected.Delete(core.TaskKey(q, t))
	return ok
}

// Expected returns the binary registered for (queue, task).
func (r *Registry) Expected(q core.QueueID, t core.TaskID) (core.BinaryRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expected.Get(core.TaskKey(q, t))
}

// OnException decodes a wire record and dispatches it.
func (r *Registry) OnException(ctx context.Context, raw []byte) (*Record, error) {
	rec, err := Decode(raw)
	if err != nil {
		r.logger.Warn("malformed exception record dropped", "size", len(raw), "error", err)
		return nil, err
	}
	r.Dispatch(ctx, rec)
	return rec, nil
}

// Dispatch delivers a decoded record: device id translation, the process
// callback, module callbacks, then the callback of the binary the record
// or the expectation table names. The (queue, task) expectation is removed
// afterwards.
func (r *Registry) Dispatch(ctx context.Context, rec *Record) {
	if r.resolver != nil {
		id, err := r.resolver.DeviceID(rec.DeviceIndex)
		if err != nil {
			r.logger.Warn("device id translation failed, using raw index",
				"device_index", rec.DeviceIndex, "error", err)
			rec.DeviceID = core.DeviceID(rec.DeviceIndex)
		} else {
			rec.DeviceID = id
		}
	}
	r.metrics.Exception(rec.expand().String())

	r.mu.RLock()
	process := r.process
	var modules []Callback
	r.modules.Ascend(func(_ string, fn Callback) bool {
		modules = append(modules, fn)
		return true
	})
	r.mu.RUnlock()

	if process != nil {
		r.invoke("process", rec, process)
	}
	for _, fn := range modules {
		r.invoke("module", rec, fn)
	}

	defer r.Forget(rec.QueueID, rec.TaskID)
	r.record(ctx, rec)

	if _, invalid := rec.Payload.(InvalidInfo); invalid || rec.Payload == nil {
		r.logger.Warn("exception with invalid payload dropped",
			"queue_id", rec.QueueID,
			"task_id", rec.TaskID,
			"code", rec.Code)
		return
	}

	ref, ok := rec.Binary()
	r.mu.RLock()
	if !ok {
		ref, ok = r.expected.Get(core.TaskKey(rec.QueueID, rec.TaskID))
	}
	fn := r.binaries[ref.Handle]
	r.mu.RUnlock()

	if !ok || fn == nil {
		r.logger.Debug("no binary exception callback",
			"queue_id", rec.QueueID,
			"task_id", rec.TaskID,
			"binary", ref.String())
		return
	}
	r.invoke("binary", rec, fn)
}

func (r *Registry) invoke(scope string, rec *Record, fn Callback) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("exception callback panicked",
				"scope", scope,
				"queue_id", rec.QueueID,
				"task_id", rec.TaskID,
				"panic", p)
		}
	}()
	fn(rec)
}

func (r *Registry) record(ctx context.Context, rec *Record) {
	if r.journal == nil {
		return
	}
	ref, _ := rec.Binary()
	entry := &core.ExceptionEntry{
		ID:           uuid.New().String(),
		DeviceID:     int32(rec.DeviceID),
		QueueID:      uint16(rec.QueueID),
		TaskID:       uint32(rec.TaskID),
		ThreadID:     uint32(rec.ThreadID),
		Code:         rec.Code,
		Expand:       uint32(rec.expand()),
		BinaryHandle: int64(ref.Handle),
		Symbol:       ref.Symbol,
	}
	ctx, cancel := context.WithTimeout(ctx, r.journalTimeout)
	defer cancel()
	if err := r.journal.Append(ctx, entry); err != nil {
		r.logger.Warn("failed to journal exception",
			"queue_id", rec.QueueID,
			"task_id", rec.TaskID,
			"error", err)
	}
}
