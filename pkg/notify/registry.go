package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/metrics"
	"github.com/jdziat/accelrt/pkg/security"
)

// DefaultPollInterval bounds how late a waiter notices a record made by
// another process.
const DefaultPollInterval = 10 * time.Millisecond

// Watcher is implemented by stores that can announce changes in-process.
type Watcher interface {
	Watch(name string) <-chan struct{}
}

// Option configures a Registry.
type Option interface {
	Apply(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) Apply(r *Registry) { f(r) }

// WithPID overrides the process id the registry acts as.
func WithPID(pid int) Option {
	return optionFunc(func(r *Registry) {
		r.pid = pid
	})
}

// WithPollInterval sets the store poll interval, clamped to
// [security.MinPollInterval, security.MaxPollInterval].
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(r *Registry) {
		r.poll = security.ClampPollInterval(d)
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Registry) {
		r.logger = l
	})
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(r *Registry) {
		r.metrics = m
	})
}

// WithStoreTimeout bounds each store call made outside a caller context.
func WithStoreTimeout(d time.Duration) Option {
	return optionFunc(func(r *Registry) {
		if d > 0 {
			r.storeTimeout = d
		}
	})
}

// Registry is this process's view of the signal name table.
type Registry struct {
	store        core.SignalStore
	pid          int
	poll         time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu      sync.Mutex
	wake    map[string]chan struct{}
	handles map[*Signal]struct{}
	closed  bool
}

// NewRegistry creates a registry over store.
func NewRegistry(store core.SignalStore, opts ...Option) *Registry {
	if store == nil {
		panic("notify: nil signal store")
	}
	r := &Registry{
		store:        store,
		pid:          os.Getpid(),
		poll:         DefaultPollInterval,
		storeTimeout: 5 * time.Second,
		logger:       slog.Default(),
		wake:         make(map[string]chan struct{}),
		handles:      make(map[*Signal]struct{}),
	}
	for _, opt := range opts {
		opt.Apply(r)
	}
	r.logger = r.logger.With("pid", r.pid)
	return r
}

// PID returns the process id the registry acts as.
func (r *Registry) PID() int { return r.pid }

// Store returns the backing store.
func (r *Registry) Store() core.SignalStore { return r.store }

// SignalOption configures Create.
type SignalOption func(*core.SignalEntry)

// Named gives a signal a caller-chosen name instead of a generated one.
func Named(name string) SignalOption {
	return func(e *core.SignalEntry) {
		e.Name = name
	}
}

// Create makes a new signal held by this process.
func (r *Registry) Create(flags uint32, opts ...SignalOption) (*Signal, error) {
	if r.isClosed() {
		return nil, core.ErrSignalDestroyed
	}
	entry := &core.SignalEntry{
		Name:     uuid.New().String(),
		OwnerPID: r.pid,
		Flags:    flags,
	}
	for _, opt := range opts {
		opt(entry)
	}
	if err := security.ValidateSignalName(entry.Name); err != nil {
		return nil, err
	}

	ctx, cancel := r.storeContext()
	defer cancel()
	if err := r.store.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create signal %q: %w", entry.Name, err)
	}
	if err := r.store.Acquire(ctx, entry.Name, r.pid); err != nil {
		return nil, fmt.Errorf("hold signal %q: %w", entry.Name, err)
	}
	return r.track(&Signal{reg: r, name: entry.Name, flags: flags, owner: true})
}

// Import opens a signal exported by another holder. The caller's pid must
// be on the signal's allow-list when it has one.
func (r *Registry) Import(name string) (*Signal, error) {
	if r.isClosed() {
		return nil, core.ErrSignalDestroyed
	}
	if err := security.ValidateSignalName(name); err != nil {
		return nil, err
	}
	ctx, cancel := r.storeContext()
	defer cancel()

	entry, err := r.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("import signal %q: %w", name, err)
	}
	if !entry.Exported {
		return nil, fmt.Errorf("import signal %q: %w", name, core.ErrSignalNotExported)
	}
	if !entry.Permits(r.pid) {
		r.logger.Warn("signal import denied", "signal", name, "owner_pid", entry.OwnerPID)
		return nil, fmt.Errorf("import signal %q from pid %d: %w", name, r.pid, core.ErrPermissionDenied)
	}
	if err := r.store.Acquire(ctx, name, r.pid); err != nil {
		return nil, fmt.Errorf("import signal %q: %w", name, err)
	}
	return r.track(&Signal{reg: r, name: name, flags: entry.Flags, exported: true})
}

func (r *Registry) track(s *Signal) (*Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		go func() { _ = s.Release() }()
		return nil, core.ErrSignalDestroyed
	}
	r.handles[s] = struct{}{}
	return s, nil
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) untrack(s *Signal) {
	r.mu.Lock()
	delete(r.handles, s)
	r.mu.Unlock()
}

// Close releases every handle this registry still holds.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Signal, 0, len(r.handles))
	for s := range r.handles {
		handles = append(handles, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range handles {
		if err := s.Release(); err != nil && !errors.Is(err, core.ErrSignalDestroyed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.storeTimeout)
}

// watch returns a channel closed on the next in-process record of name.
func (r *Registry) watch(name string) <-chan struct{} {
	if w, ok := r.store.(Watcher); ok {
		return w.Watch(name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.wake[name]
	if !ok {
		ch = make(chan struct{})
		r.wake[name] = ch
	}
	return ch
}

func (r *Registry) broadcast(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.wake[name]; ok {
		close(ch)
		delete(r.wake, name)
	}
}

// await consumes one pending record of name, blocking until one arrives.
// The store is re-read at least every poll interval.
func (r *Registry) await(ctx context.Context, name string) error {
	timer := time.NewTimer(r.poll)
	defer timer.Stop()
	for {
		wake := r.watch(name)
		ok, err := r.store.Consume(ctx, name)
		if err != nil {
			return storeErr(err)
		}
		if ok {
			return nil
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.poll)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func storeErr(err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrSignalDestroyed
	}
	return err
}
