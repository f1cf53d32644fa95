package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device"
)

// Device is a simulated accelerator.
type Device struct {
	id        core.DeviceID
	index     uint32
	tickRate  uint64
	maxQueues int
	shuffle   bool
	seed      uint64
	logger    *slog.Logger
	start     time.Time

	mu      sync.Mutex
	nextID  core.QueueID
	engines map[core.QueueID]*Engine
}

var _ device.Device = (*Device)(nil)

// New creates a simulated device.
func New(opts ...Option) *Device {
	d := &Device{
		tickRate:  uint64(time.Second / time.Nanosecond),
		maxQueues: 1024,
		logger:    slog.Default(),
		start:     time.Now(),
		engines:   make(map[core.QueueID]*Engine),
	}
	for _, opt := range opts {
		opt.Apply(d)
	}
	return d
}

func (d *Device) ID() core.DeviceID { return d.id }
func (d *Device) Index() uint32     { return d.index }
func (d *Device) TickRate() uint64  { return d.tickRate }

// Now reads the tick counter.
func (d *Device) Now() uint64 {
	ns := uint64(time.Since(d.start))
	sec, rem := ns/uint64(time.Second), ns%uint64(time.Second)
	return sec*d.tickRate + rem*d.tickRate/uint64(time.Second)
}

// Open starts an engine for a new hardware queue.
func (d *Device) Open(priority int, sink device.Sink) (device.Engine, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", core.ErrInvalidParameter)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.engines) >= d.maxQueues {
		return nil, fmt.Errorf("%w: %d queues open", core.ErrResourceExhausted, len(d.engines))
	}
	d.nextID++
	for d.engines[d.nextID] != nil || d.nextID == 0 {
		d.nextID++
	}
	e := newEngine(d, d.nextID, priority, sink)
	d.engines[e.id] = e
	go e.run()

	d.logger.Debug("queue opened", "device_id", d.id, "queue_id", e.id, "priority", priority)
	return e, nil
}

// Queues returns the number of open queues.
func (d *Device) Queues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.engines)
}

func (d *Device) remove(id core.QueueID) {
	d.mu.Lock()
	delete(d.engines, id)
	d.mu.Unlock()
}
