package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/queue"
	"github.com/jdziat/accelrt/pkg/security"
)

// Signal is one handle on a CrossContextSignal.
type Signal struct {
	reg   *Registry
	name  string
	flags uint32
	owner bool

	// publish orders allow-list writes to the store.
	publish sync.Mutex

	mu       sync.Mutex
	exported bool
	allowed  []int
	released bool
}

// Name returns the signal's name in the store.
func (s *Signal) Name() string { return s.name }

// Flags returns the creation flags.
func (s *Signal) Flags() uint32 { return s.flags }

// Owner reports whether this handle created the signal.
func (s *Signal) Owner() bool { return s.owner }

func (s *Signal) live() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return core.ErrSignalDestroyed
	}
	return nil
}

// Record sets the signal once q reaches this point.
func (s *Signal) Record(q *queue.Queue) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", core.ErrInvalidParameter)
	}
	if err := s.live(); err != nil {
		return err
	}
	_, err := q.Submit(core.Op{
		Kind: core.OpSignalRecord,
		Body: func(ctx context.Context) error {
			return s.record(ctx)
		},
	})
	return err
}

func (s *Signal) record(ctx context.Context) error {
	if err := s.reg.store.Record(ctx, s.name); err != nil {
		return storeErr(err)
	}
	s.reg.broadcast(s.name)
	s.reg.metrics.SignalRecorded()
	return nil
}

// WaitAndReset makes q's later ops wait for one record, consuming it.
// The caller does not block.
func (s *Signal) WaitAndReset(q *queue.Queue) error {
	if q == nil {
		return fmt.Errorf("%w: nil queue", core.ErrInvalidParameter)
	}
	if err := s.live(); err != nil {
		return err
	}
	_, err := q.Submit(core.Op{
		Kind: core.OpSignalWait,
		Body: func(ctx context.Context) error {
			if err := s.reg.await(ctx, s.name); err != nil {
				if ctx.Err() != nil {
					return core.ErrQueueDestroyed
				}
				return err
			}
			return nil
		},
	})
	return err
}

// Synchronize blocks the caller until one record is pending and consumes it.
func (s *Signal) Synchronize(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	if err := s.reg.await(ctx, s.name); err != nil {
		if ctx.Err() != nil {
			return core.Timeout(ctx.Err())
		}
		return err
	}
	return nil
}

// SetAllowedSenders restricts which pids may import the signal. An empty
// list allows any pid. It takes effect immediately if already exported.
func (s *Signal) SetAllowedSenders(pids []int) error {
	if err := security.ValidatePIDs(pids); err != nil {
		return err
	}
	s.publish.Lock()
	defer s.publish.Unlock()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return core.ErrSignalDestroyed
	}
	s.allowed = slices.Clone(pids)
	exported := s.exported
	s.mu.Unlock()

	if !exported {
		return nil
	}
	ctx, cancel := s.reg.storeContext()
	defer cancel()
	return storeErr(s.reg.store.Export(ctx, s.name, pids))
}

// Export publishes the signal so other processes can Import it, and
// returns its name.
func (s *Signal) Export() (string, error) {
	if s.flags&core.SignalInterProcess == 0 {
		return "", fmt.Errorf("%w: signal %q was not created inter-process", core.ErrInvalidParameter, s.name)
	}
	s.publish.Lock()
	defer s.publish.Unlock()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return "", core.ErrSignalDestroyed
	}
	allowed := slices.Clone(s.allowed)
	s.mu.Unlock()

	ctx, cancel := s.reg.storeContext()
	defer cancel()
	if err := s.reg.store.Export(ctx, s.name, allowed); err != nil {
		return "", storeErr(err)
	}

	s.mu.Lock()
	s.exported = true
	s.mu.Unlock()
	s.reg.logger.Debug("signal exported", "signal", s.name, "allowed", allowed)
	return s.name, nil
}

// Release drops this handle's reference. The signal is removed once no
// process holds it.
func (s *Signal) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return core.ErrSignalDestroyed
	}
	s.released = true
	s.mu.Unlock()
	s.reg.untrack(s)

	ctx, cancel := s.reg.storeContext()
	defer cancel()
	left, err := s.reg.store.Release(ctx, s.name, s.reg.pid)
	if err != nil {
		return storeErr(err)
	}
	if left == 0 {
		s.reg.broadcast(s.name)
		s.reg.logger.Debug("signal removed", "signal", s.name)
	}
	return nil
}

// Destroy is Release.
func (s *Signal) Destroy() error {
	return s.Release()
}
