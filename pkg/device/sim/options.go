package sim

import (
	"log/slog"

	"github.com/jdziat/accelrt/pkg/core"
)

// Option configures a Device.
type Option interface {
	Apply(*Device)
}

type optionFunc func(*Device)

func (f optionFunc) Apply(d *Device) { f(d) }

// WithID sets the user-visible device id.
func WithID(id core.DeviceID) Option {
	return optionFunc(func(d *Device) {
		d.id = id
	})
}

// WithIndex sets the internal index written into exception records.
func WithIndex(index uint32) Option {
	return optionFunc(func(d *Device) {
		d.index = index
	})
}

// WithTickRate sets the tick counter frequency.
func WithTickRate(hz uint64) Option {
	return optionFunc(func(d *Device) {
		if hz > 0 {
			d.tickRate = hz
		}
	})
}

// WithMaxQueues bounds the number of open queues.
func WithMaxQueues(n int) Option {
	return optionFunc(func(d *Device) {
		if n > 0 {
			d.maxQueues = min(n, 1<<16-1)
		}
	})
}

// WithShuffledChunks delivers the non-start chunks of each published report
// in a seeded random order.
func WithShuffledChunks(seed uint64) Option {
	return optionFunc(func(d *Device) {
		d.shuffle = true
		d.seed = seed
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(d *Device) {
		d.logger = l
	})
}
