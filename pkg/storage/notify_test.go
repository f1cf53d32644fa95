package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/device/sim"
	"github.com/jdziat/accelrt/pkg/notify"
	"github.com/jdziat/accelrt/pkg/queue"
)

// Each registry opens its own handle on one sqlite file, standing in for
// three processes.
func TestSignalImport_AcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "signals.db")

	open := func(pid int) *notify.Registry {
		store := NewGormSignalStore(openTestFile(t, path))
		require.NoError(t, store.Migrate(ctx))
		reg := notify.NewRegistry(store, notify.WithPID(pid), notify.WithPollInterval(2*time.Millisecond))
		t.Cleanup(func() { _ = reg.Close() })
		return reg
	}
	procA, procB, procC := open(1001), open(1002), open(1003)

	q, err := queue.New(sim.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Destroy(ctx, true) })

	sig, err := procA.Create(core.SignalInterProcess)
	require.NoError(t, err)
	require.NoError(t, sig.SetAllowedSenders([]int{1002}))
	name, err := sig.Export()
	require.NoError(t, err)

	imported, err := procB.Import(name)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- imported.Synchronize(wctx)
	}()

	require.NoError(t, sig.Record(q))
	require.NoError(t, q.Synchronize(ctx))
	require.NoError(t, <-done, "record in A observed by poll in B")

	_, err = procC.Import(name)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}
