// Package accelrt is the host-side runtime of an asynchronous accelerator.
//
// A Runtime wires the pieces together: hardware queues on a device,
// completion markers, cross-process signals, the callback dispatch loop,
// the exception registry and the report reassembler.
//
// Basic usage:
//
//	rt, _ := accelrt.New(sim.New())
//	defer rt.Close()
//
//	q, _ := rt.NewQueue()
//	rt.Subscribe(q)
//	q.Submit(accelrt.Op{Kind: accelrt.OpKernel, Body: kernel})
//	rt.LaunchCallback(q, func(err error) { log.Println("done", err) }, accelrt.Blocking)
//	q.Synchronize(ctx)
package accelrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/jdziat/accelrt/pkg/config"
	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device"
	"github.com/jdziat/accelrt/pkg/dispatch"
	"github.com/jdziat/accelrt/pkg/exception"
	"github.com/jdziat/accelrt/pkg/janitor"
	"github.com/jdziat/accelrt/pkg/marker"
	"github.com/jdziat/accelrt/pkg/metrics"
	"github.com/jdziat/accelrt/pkg/notify"
	"github.com/jdziat/accelrt/pkg/queue"
	"github.com/jdziat/accelrt/pkg/reassembly"
	"github.com/jdziat/accelrt/pkg/schedule"
	"github.com/jdziat/accelrt/pkg/storage"
	"github.com/jdziat/accelrt/pkg/worker"
)

type (
	Queue           = queue.Queue
	QueueOption     = queue.Option
	Op              = core.Op
	OpKind          = core.OpKind
	TaskID          = core.TaskID
	QueueID         = core.QueueID
	BinaryRef       = core.BinaryRef
	ReportType      = core.ReportType
	FailureMode     = core.FailureMode
	QueryStatus     = core.QueryStatus
	CallbackMode    = core.CallbackMode
	HostFunc        = core.HostFunc
	Event           = core.Event
	Marker          = marker.Marker
	Signal          = notify.Signal
	ExceptionRecord = exception.Record
	Report          = reassembly.Report
	ReportHandler   = worker.ReportHandler
	Subscription    = dispatch.Subscription
)

const (
	OpKernel = core.OpKernel

	Continue      = core.Continue
	StopOnFailure = core.StopOnFailure

	Blocking    = core.Blocking
	NonBlocking = core.NonBlocking

	SignalInterProcess = core.SignalInterProcess
)

// Option configures a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	pid        int
	resolver   exception.DeviceResolver
}

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *runtimeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegisterer registers the runtime's collectors on reg. Metrics must
// also be enabled in the configuration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *runtimeOptions) {
		o.registerer = reg
	}
}

// WithPID overrides the process id used for signal ownership.
func WithPID(pid int) Option {
	return func(o *runtimeOptions) {
		o.pid = pid
	}
}

// WithResolver overrides device index translation for exception records.
func WithResolver(r exception.DeviceResolver) Option {
	return func(o *runtimeOptions) {
		o.resolver = r
	}
}

// Runtime owns the process-wide state for one device.
type Runtime struct {
	cfg    *config.Config
	dev    device.Device
	logger *slog.Logger

	metrics     *metrics.Metrics
	exceptions  *exception.Registry
	reassembler *reassembly.Reassembler
	dispatcher  *dispatch.Dispatcher
	signals     *notify.Registry
	store       core.SignalStore
	journal     core.ExceptionJournal
	db          *gorm.DB

	janitor     *janitor.Janitor
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// New creates a runtime with the default configuration.
func New(dev device.Device, opts ...Option) (*Runtime, error) {
	return NewFromConfig(dev, config.Default(), opts...)
}

// Load reads a YAML configuration file and creates a runtime from it.
func Load(dev device.Device, path string, opts ...Option) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(dev, cfg, opts...)
}

// NewFromConfig creates a runtime from cfg.
func NewFromConfig(dev device.Device, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if dev == nil || cfg == nil {
		return nil, fmt.Errorf("%w: nil device or config", core.ErrInvalidParameter)
	}
	o := runtimeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{cfg: cfg, dev: dev, logger: o.logger}
	if cfg.Metrics.Enabled {
		m, err := metrics.New(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		rt.metrics = m
	}
	if err := rt.openStores(); err != nil {
		return nil, err
	}

	resolver := o.resolver
	if resolver == nil {
		resolver = deviceResolver(dev)
	}
	exOpts := []exception.Option{
		exception.WithResolver(resolver),
		exception.WithJournalTimeout(cfg.Exceptions.JournalTimeout.D()),
		exception.WithLogger(o.logger),
		exception.WithMetrics(rt.metrics),
	}
	if rt.journal != nil {
		exOpts = append(exOpts, exception.WithJournal(rt.journal))
	}
	rt.exceptions = exception.NewRegistry(exOpts...)

	rt.reassembler = reassembly.New(
		reassembly.WithMaxReportBytes(cfg.Reassembly.MaxReportBytes),
		reassembly.WithMaxInflight(cfg.Reassembly.MaxInflight),
		reassembly.WithStaleAfter(cfg.Reassembly.StaleAfter.D()),
		reassembly.WithLogger(o.logger),
		reassembly.WithMetrics(rt.metrics),
	)

	rt.dispatcher = dispatch.New(
		dispatch.WithMaxGroups(cfg.Dispatch.MaxGroups),
		dispatch.WithPollInterval(cfg.Dispatch.PollInterval.D()),
		dispatch.WithBacklog(cfg.Dispatch.Backlog),
		dispatch.WithExceptions(rt.exceptions),
		dispatch.WithAssembler(rt.reassembler),
		dispatch.WithMetrics(rt.metrics),
		dispatch.WithLogger(o.logger),
	)

	sigOpts := []notify.Option{
		notify.WithPollInterval(cfg.Signals.PollInterval.D()),
		notify.WithLogger(o.logger),
		notify.WithMetrics(rt.metrics),
	}
	if o.pid > 0 {
		sigOpts = append(sigOpts, notify.WithPID(o.pid))
	}
	rt.signals = notify.NewRegistry(rt.store, sigOpts...)

	if cfg.Janitor.Enabled {
		if err := rt.startJanitor(); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *Runtime) openStores() error {
	if rt.cfg.Signals.Store != config.StoreSQLite {
		rt.store = notify.NewMemoryStore()
		return nil
	}

	db, err := storage.OpenSQLite(rt.cfg.Signals.Path)
	if err != nil {
		return err
	}
	rt.db = db
	ctx := context.Background()
	store := storage.NewGormSignalStore(db)
	if err := store.Migrate(ctx); err != nil {
		rt.closeDB()
		return fmt.Errorf("migrate signal store: %w", err)
	}
	rt.store = store

	if rt.cfg.Exceptions.Journal {
		journal := storage.NewGormJournal(db)
		if err := journal.Migrate(ctx); err != nil {
			rt.closeDB()
			return fmt.Errorf("migrate exception journal: %w", err)
		}
		rt.journal = journal
	}
	return nil
}

func (rt *Runtime) startJanitor() error {
	sched, err := schedule.Parse(rt.cfg.Janitor.Schedule)
	if err != nil {
		return err
	}
	rt.janitor = janitor.New(rt.store,
		janitor.WithSchedule(sched),
		janitor.WithSweeper(rt.reassembler),
		janitor.WithLogger(rt.logger),
		janitor.WithMetrics(rt.metrics),
	)
	ctx, cancel := context.WithCancel(context.Background())
	rt.stopJanitor = cancel
	rt.janitorDone = make(chan struct{})
	go func() {
		defer close(rt.janitorDone)
		if err := rt.janitor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Error("janitor stopped", "error", err)
		}
	}()
	return nil
}

func deviceResolver(dev device.Device) exception.DeviceResolver {
	return exception.ResolverFunc(func(index uint32) (core.DeviceID, error) {
		if index != dev.Index() {
			return 0, fmt.Errorf("%w: unknown device index %d", core.ErrNotFound, index)
		}
		return dev.ID(), nil
	})
}

// Config returns the configuration the runtime was built from.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Device returns the runtime's device.
func (rt *Runtime) Device() device.Device { return rt.dev }

// Exceptions returns the exception registry.
func (rt *Runtime) Exceptions() *exception.Registry { return rt.exceptions }

// Signals returns the signal registry.
func (rt *Runtime) Signals() *notify.Registry { return rt.signals }

// Reassembler returns the report reassembler.
func (rt *Runtime) Reassembler() *reassembly.Reassembler { return rt.reassembler }

// Dispatcher returns the callback dispatcher.
func (rt *Runtime) Dispatcher() *dispatch.Dispatcher { return rt.dispatcher }

// Journal returns the exception journal, or nil when journaling is off.
func (rt *Runtime) Journal() core.ExceptionJournal { return rt.journal }

// NewQueue opens a hardware queue wired to the runtime's dispatcher and
// exception registry. opts override the configured defaults.
func (rt *Runtime) NewQueue(opts ...queue.Option) (*queue.Queue, error) {
	base := []queue.Option{
		queue.WithPriority(rt.cfg.Queue.Priority),
		queue.WithFailureMode(rt.cfg.Queue.FailureMode),
		queue.WithSyncTimeout(rt.cfg.Queue.SyncTimeout.D()),
		queue.WithFallback(rt.dispatcher.Fallback()),
		queue.WithExpectations(rt.exceptions),
		queue.WithMetrics(rt.metrics),
		queue.WithLogger(rt.logger),
	}
	return queue.New(rt.dev, append(base, opts...)...)
}

// Subscribe gives q a dedicated dispatch worker.
func (rt *Runtime) Subscribe(q *queue.Queue) (*dispatch.Subscription, error) {
	return rt.dispatcher.Subscribe(q)
}

// Unsubscribe stops q's dispatch worker.
func (rt *Runtime) Unsubscribe(q *queue.Queue) error {
	return rt.dispatcher.Unsubscribe(q)
}

// LaunchCallback enqueues a host callback on q.
func (rt *Runtime) LaunchCallback(q *queue.Queue, fn core.HostFunc, mode core.CallbackMode) (core.TaskID, error) {
	return rt.dispatcher.LaunchCallback(q, fn, mode)
}

// OnReport registers a handler for reassembled reports.
func (rt *Runtime) OnReport(fn worker.ReportHandler) {
	rt.dispatcher.OnReport(fn)
}

// NewMarker creates a completion marker.
func (rt *Runtime) NewMarker(timing bool) *marker.Marker {
	return marker.New(marker.WithTiming(timing))
}

// CreateSignal creates a signal held by this process.
func (rt *Runtime) CreateSignal(flags uint32, opts ...notify.SignalOption) (*notify.Signal, error) {
	return rt.signals.Create(flags, opts...)
}

// ImportSignal opens a signal exported by another process.
func (rt *Runtime) ImportSignal(name string) (*notify.Signal, error) {
	return rt.signals.Import(name)
}

// Close stops the janitor and the dispatch workers, releases every signal
// handle and closes the database.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		if rt.stopJanitor != nil {
			rt.stopJanitor()
			<-rt.janitorDone
		}
		var errs []error
		if rt.dispatcher != nil {
			errs = append(errs, rt.dispatcher.Close())
		}
		if rt.signals != nil {
			errs = append(errs, rt.signals.Close())
		}
		errs = append(errs, rt.closeDB())
		rt.closeErr = errors.Join(errs...)
	})
	return rt.closeErr
}

func (rt *Runtime) closeDB() error {
	if rt.db == nil {
		return nil
	}
	sqlDB, err := rt.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
