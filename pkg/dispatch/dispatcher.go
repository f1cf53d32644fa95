package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/queue"
	"github.com/jdziat/accelrt/pkg/reassembly"
	"github.com/jdziat/accelrt/pkg/worker"
)

// State is a subscription's lifecycle state.
type State int32

const (
	Unsubscribed State = iota
	Subscribed
	Unsubscribing
)

func (s State) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	case Unsubscribing:
		return "unsubscribing"
	default:
		return "unsubscribed"
	}
}

// Subscription binds one queue to one worker.
type Subscription struct {
	queue  *queue.Queue
	worker *worker.Worker
	thread uint32
	group  int
	state  atomic.Int32
}

// Queue returns the subscribed queue.
func (s *Subscription) Queue() *queue.Queue { return s.queue }

// ThreadID returns the worker's thread id.
func (s *Subscription) ThreadID() uint32 { return s.thread }

// GroupID returns the worker's group id.
func (s *Subscription) GroupID() int { return s.group }

// State returns the current lifecycle state.
func (s *Subscription) State() State { return State(s.state.Load()) }

// Dispatcher owns the workers of every subscribed queue.
type Dispatcher struct {
	opts   *Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu         sync.Mutex
	subs       map[*queue.Queue]*Subscription
	groups     []bool
	nextThread uint32
	closed     bool

	handlersMu sync.RWMutex
	handlers   []worker.ReportHandler

	fallback *worker.Worker
}

// New creates a dispatcher and starts its fallback worker.
func New(opts ...Option) *Dispatcher {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &Dispatcher{
		opts:   o,
		logger: o.Logger.With("component", "dispatch"),
		ctx:    ctx,
		cancel: cancel,
		group:  group,
		subs:   make(map[*queue.Queue]*Subscription),
		groups: make([]bool, o.MaxGroups),
	}
	d.fallback = d.newWorker("fallback", 0, -1)
	d.run(d.fallback)
	return d
}

// Fallback returns the router for queues without a subscription. Pass it
// to queue.WithFallback.
func (d *Dispatcher) Fallback() queue.Router {
	return d.fallback
}

// OnReport registers a handler for every reassembled report.
func (d *Dispatcher) OnReport(fn worker.ReportHandler) {
	if fn == nil {
		return
	}
	d.handlersMu.Lock()
	d.handlers = append(d.handlers, fn)
	d.handlersMu.Unlock()
}

func (d *Dispatcher) handle(ctx context.Context, r *reassembly.Report) {
	d.handlersMu.RLock()
	handlers := d.handlers
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, r)
	}
}

func (d *Dispatcher) newWorker(name string, thread uint32, group int) *worker.Worker {
	return worker.NewWorker(
		worker.WithName(name),
		worker.WithThread(thread, group),
		worker.WithBacklog(d.opts.Backlog),
		worker.PollInterval(d.opts.PollInterval),
		worker.WithExceptions(d.opts.Exceptions),
		worker.WithAssembler(d.opts.Assembler),
		worker.OnReport(d.handle),
		worker.WithMetrics(d.opts.Metrics),
		worker.WithLogger(d.opts.Logger),
	)
}

func (d *Dispatcher) run(w *worker.Worker) {
	d.group.Go(func() error {
		err := w.Start(d.ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// Subscribe spawns a worker bound to q's report channel.
func (d *Dispatcher) Subscribe(q *queue.Queue) (*Subscription, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil queue", core.ErrInvalidParameter)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, core.ErrNotSubscribed
	}
	if _, ok := d.subs[q]; ok {
		return nil, core.ErrAlreadySubscribed
	}
	group := d.allocGroup()
	if group < 0 {
		return nil, fmt.Errorf("%w: all %d worker groups in use", core.ErrResourceExhausted, len(d.groups))
	}

	d.nextThread++
	sub := &Subscription{queue: q, thread: d.nextThread, group: group}
	sub.worker = d.newWorker(fmt.Sprintf("queue-%d", q.ID()), sub.thread, group)
	if err := q.Bind(sub.worker); err != nil {
		d.groups[group] = false
		return nil, err
	}
	sub.state.Store(int32(Subscribed))
	d.subs[q] = sub
	d.run(sub.worker)

	d.logger.Debug("queue subscribed", "queue_id", q.ID(), "thread_id", sub.thread, "group_id", group)
	return sub, nil
}

func (d *Dispatcher) allocGroup() int {
	for i, used := range d.groups {
		if !used {
			d.groups[i] = true
			return i
		}
	}
	return -1
}

// Subscription returns q's subscription, if any.
func (d *Dispatcher) Subscription(q *queue.Queue) (*Subscription, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.subs[q]
	return s, ok
}

// Unsubscribe stops q's worker and waits for it to exit. Blocking callbacks
// still queued are released with core.ErrNotSubscribed.
func (d *Dispatcher) Unsubscribe(q *queue.Queue) error {
	d.mu.Lock()
	sub, ok := d.subs[q]
	if !ok {
		d.mu.Unlock()
		return core.ErrNotSubscribed
	}
	delete(d.subs, q)
	sub.state.Store(int32(Unsubscribing))
	d.mu.Unlock()

	q.Unbind()
	sub.worker.Stop()

	d.mu.Lock()
	if sub.group >= 0 && sub.group < len(d.groups) {
		d.groups[sub.group] = false
	}
	d.mu.Unlock()
	sub.state.Store(int32(Unsubscribed))

	d.logger.Debug("queue unsubscribed", "queue_id", q.ID(), "processed", sub.worker.Processed())
	return nil
}

// Close unsubscribes every queue, stops the fallback worker and joins all
// workers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queues := make([]*queue.Queue, 0, len(d.subs))
	for q := range d.subs {
		queues = append(queues, q)
	}
	d.mu.Unlock()

	for _, q := range queues {
		if err := d.Unsubscribe(q); err != nil && !errors.Is(err, core.ErrNotSubscribed) {
			d.logger.Warn("failed to unsubscribe", "queue_id", q.ID(), "error", err)
		}
	}
	d.fallback.Stop()
	d.cancel()
	return d.group.Wait()
}
