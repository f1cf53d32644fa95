package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device/sim"
	"github.com/jdziat/accelrt/pkg/queue"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.New(sim.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Destroy(context.Background(), true) })
	return q
}

func newRegistry(t *testing.T, store core.SignalStore, pid int) *Registry {
	t.Helper()
	r := NewRegistry(store, WithPID(pid), WithPollInterval(time.Millisecond))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// plainStore hides the Watcher side of a MemoryStore, the way a database
// store looks to the registry.
type plainStore struct {
	core.SignalStore
}

func TestSignal_ImportAllowList(t *testing.T) {
	store := NewMemoryStore()
	procA := newRegistry(t, store, 100)
	procB := newRegistry(t, store, 200)
	procC := newRegistry(t, store, 300)

	qa := newQueue(t)
	sig, err := procA.Create(core.SignalInterProcess)
	require.NoError(t, err)
	require.NoError(t, sig.SetAllowedSenders([]int{200}))
	name, err := sig.Export()
	require.NoError(t, err)
	require.NoError(t, sig.Record(qa))
	require.NoError(t, qa.Synchronize(context.Background()))

	imported, err := procB.Import(name)
	require.NoError(t, err)
	require.NoError(t, imported.Synchronize(context.Background()))

	_, err = procC.Import(name)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	holders, err := store.Holders(context.Background(), name)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, 100, holders[0].PID)
	assert.Equal(t, 200, holders[1].PID)
}

func TestSignal_OwnerAlwaysPermitted(t *testing.T) {
	store := NewMemoryStore()
	procA := newRegistry(t, store, 100)
	other := newRegistry(t, store, 100)

	sig, err := procA.Create(core.SignalInterProcess)
	require.NoError(t, err)
	require.NoError(t, sig.SetAllowedSenders([]int{200}))
	name, err := sig.Export()
	require.NoError(t, err)

	_, err = other.Import(name)
	assert.NoError(t, err)
}

func TestSignal_ImportErrors(t *testing.T) {
	store := NewMemoryStore()
	procA := newRegistry(t, store, 100)
	procB := newRegistry(t, store, 200)

	_, err := procB.Import("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = procB.Import("../bad")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	local, err := procA.Create(0, Named("local"))
	require.NoError(t, err)
	_, err = procB.Import(local.Name())
	assert.ErrorIs(t, err, core.ErrSignalNotExported)

	_, err = local.Export()
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	_, err = procA.Create(0, Named("local"))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	assert.ErrorIs(t, local.SetAllowedSenders([]int{0}), core.ErrInvalidParameter)
}

func TestSignal_AllowListChangeAfterExport(t *testing.T) {
	store := NewMemoryStore()
	procA := newRegistry(t, store, 100)
	procB := newRegistry(t, store, 200)

	sig, err := procA.Create(core.SignalInterProcess)
	require.NoError(t, err)
	name, err := sig.Export()
	require.NoError(t, err)

	require.NoError(t, sig.SetAllowedSenders([]int{300}))
	_, err = procB.Import(name)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	require.NoError(t, sig.SetAllowedSenders(nil))
	_, err = procB.Import(name)
	assert.NoError(t, err)
}

// gatedStore holds the first Export until proceed is closed.
type gatedStore struct {
	core.SignalStore
	once    atomic.Bool
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedStore) Export(ctx context.Context, name string, allowed []int) error {
	if g.once.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.proceed
	}
	return g.SignalStore.Export(ctx, name, allowed)
}

func TestSignal_AllowListChangeDuringExport(t *testing.T) {
	mem := NewMemoryStore()
	store := &gatedStore{SignalStore: mem, entered: make(chan struct{}), proceed: make(chan struct{})}
	proc := newRegistry(t, store, 100)

	sig, err := proc.Create(core.SignalInterProcess)
	require.NoError(t, err)
	require.NoError(t, sig.SetAllowedSenders([]int{200}))

	exported := make(chan error, 1)
	go func() {
		_, err := sig.Export()
		exported <- err
	}()
	<-store.entered

	changed := make(chan error, 1)
	go func() { changed <- sig.SetAllowedSenders([]int{300}) }()
	time.Sleep(10 * time.Millisecond)
	close(store.proceed)

	require.NoError(t, <-exported)
	require.NoError(t, <-changed)

	entry, err := mem.Get(context.Background(), sig.Name())
	require.NoError(t, err)
	assert.True(t, entry.Exported)
	assert.Equal(t, []int{300}, entry.Allowed(), "the later allow-list reaches the store")
}

func TestSignal_RecordsCoalesce(t *testing.T) {
	store := NewMemoryStore()
	reg := newRegistry(t, store, 100)
	q := newQueue(t)

	sig, err := reg.Create(0)
	require.NoError(t, err)
	for range 3 {
		require.NoError(t, sig.Record(q))
	}
	require.NoError(t, q.Synchronize(context.Background()))

	require.NoError(t, sig.Synchronize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = sig.Synchronize(ctx)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestSignal_WaitAndResetOrdersQueues(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store core.SignalStore
	}{
		{"watching store", NewMemoryStore()},
		{"polled store", plainStore{NewMemoryStore()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reg := newRegistry(t, tc.store, 100)
			producer := newQueue(t)
			consumer := newQueue(t)

			sig, err := reg.Create(0)
			require.NoError(t, err)

			var produced, observed atomic.Int64
			release := make(chan struct{})
			_, err = producer.Submit(core.Op{Kind: core.OpKernel, Body: func(context.Context) error {
				<-release
				produced.Store(7)
				return nil
			}})
			require.NoError(t, err)
			require.NoError(t, sig.Record(producer))

			require.NoError(t, sig.WaitAndReset(consumer))
			_, err = consumer.Submit(core.Op{Kind: core.OpKernel, Body: func(context.Context) error {
				observed.Store(produced.Load())
				return nil
			}})
			require.NoError(t, err)

			assert.Equal(t, core.QueryPending, consumer.Query())
			close(release)
			require.NoError(t, consumer.Synchronize(context.Background()))
			assert.Equal(t, int64(7), observed.Load())

			entry, err := tc.store.Get(context.Background(), sig.Name())
			require.NoError(t, err)
			assert.False(t, entry.Pending, "wait consumes the record")
		})
	}
}

func TestSignal_RefcountByName(t *testing.T) {
	store := NewMemoryStore()
	procA := newRegistry(t, store, 100)
	procB := newRegistry(t, store, 200)

	sig, err := procA.Create(core.SignalInterProcess)
	require.NoError(t, err)
	name, err := sig.Export()
	require.NoError(t, err)

	first, err := procB.Import(name)
	require.NoError(t, err)
	second, err := procB.Import(name)
	require.NoError(t, err)

	holders, err := store.Holders(context.Background(), name)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, int64(2), holders[1].Refs)

	require.NoError(t, sig.Destroy())
	require.NoError(t, first.Release())
	_, err = store.Get(context.Background(), name)
	require.NoError(t, err, "still held by the second import")

	assert.ErrorIs(t, first.Release(), core.ErrSignalDestroyed)
	assert.ErrorIs(t, first.Record(newQueue(t)), core.ErrSignalDestroyed)

	require.NoError(t, second.Release())
	_, err = store.Get(context.Background(), name)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSignal_WaitOnRemovedSignal(t *testing.T) {
	store := NewMemoryStore()
	procA := newRegistry(t, store, 100)
	procB := newRegistry(t, store, 200)

	sig, err := procA.Create(core.SignalInterProcess)
	require.NoError(t, err)
	name, err := sig.Export()
	require.NoError(t, err)
	imported, err := procB.Import(name)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- imported.Synchronize(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	_, err = store.Evict(context.Background(), name, 200)
	require.NoError(t, err)
	_, err = store.Evict(context.Background(), name, 100)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrSignalDestroyed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by removal")
	}
}

func TestRegistry_CloseReleasesHandles(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, WithPID(100))

	a, err := reg.Create(0)
	require.NoError(t, err)
	_, err = reg.Create(0)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	names, err := store.Names(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.ErrorIs(t, a.Release(), core.ErrSignalDestroyed)

	_, err = reg.Create(0)
	assert.ErrorIs(t, err, core.ErrSignalDestroyed)
}
