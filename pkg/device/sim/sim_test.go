package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/accelrt/pkg/core"
	"github.com/jdziat/accelrt/pkg/exception"
	"github.com/jdziat/accelrt/pkg/reassembly"
)

type recordingSink struct {
	mu        sync.Mutex
	refuse    map[core.TaskID]error
	completed []core.TaskID
	errs      map[core.TaskID]error
	reports   []core.Report
}

func newSink() *recordingSink {
	return &recordingSink{refuse: map[core.TaskID]error{}, errs: map[core.TaskID]error{}}
}

func (s *recordingSink) Admit(t *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refuse[t.ID]
}

func (s *recordingSink) Complete(t *core.Task, err error, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, t.ID)
	s.errs[t.ID] = err
}

func (s *recordingSink) Report(_ context.Context, r core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *recordingSink) snapshot() ([]core.TaskID, map[core.TaskID]error, []core.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make(map[core.TaskID]error, len(s.errs))
	for k, v := range s.errs {
		errs[k] = v
	}
	return append([]core.TaskID(nil), s.completed...), errs, append([]core.Report(nil), s.reports...)
}

func kernel(id core.TaskID, body func(context.Context) error) *core.Task {
	return &core.Task{ID: id, Op: core.Op{Kind: core.OpKernel, Body: body}}
}

func TestEngine_RunsInOrder(t *testing.T) {
	d := New()
	sink := newSink()
	eng, err := d.Open(0, sink)
	require.NoError(t, err)

	var order []core.TaskID
	for i := core.TaskID(1); i <= 100; i++ {
		require.NoError(t, eng.Launch(kernel(i, func(context.Context) error {
			order = append(order, i)
			return nil
		})))
	}
	require.NoError(t, eng.Close(context.Background(), false))

	completed, _, _ := sink.snapshot()
	require.Len(t, order, 100)
	assert.Equal(t, order, completed)
	for i, id := range order {
		assert.Equal(t, core.TaskID(i+1), id)
	}
	assert.Equal(t, 0, d.Queues())
	assert.ErrorIs(t, eng.Launch(kernel(101, nil)), core.ErrQueueDestroyed)
}

func TestEngine_FaultRaisesException(t *testing.T) {
	d := New(WithIndex(4))
	sink := newSink()
	eng, err := d.Open(0, sink)
	require.NoError(t, err)

	task := kernel(7, func(context.Context) error {
		return &core.Fault{Code: 0x31, ThreadID: 12}
	})
	task.Binary = core.BinaryRef{Handle: 0xab, Symbol: "k"}
	require.NoError(t, eng.Launch(task))
	require.NoError(t, eng.Close(context.Background(), false))

	_, errs, reports := sink.snapshot()
	var de *core.DeviceError
	require.ErrorAs(t, errs[7], &de)
	assert.Equal(t, uint32(0x31), de.Code)
	assert.ErrorIs(t, errs[7], core.ErrDeviceFailure)

	require.Len(t, reports, 1)
	assert.Equal(t, core.ReportException, reports[0].Kind)
	rec, err := exception.Decode(reports[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), rec.DeviceIndex)
	assert.Equal(t, eng.QueueID(), rec.QueueID)
	assert.Equal(t, core.TaskID(7), rec.TaskID)
	assert.Equal(t, core.ThreadID(12), rec.ThreadID)
	assert.Equal(t, exception.CoreInfo{Binary: task.Binary}, rec.Payload)
}

func TestEngine_PlainErrorAndPanic(t *testing.T) {
	d := New()
	sink := newSink()
	eng, err := d.Open(0, sink)
	require.NoError(t, err)

	require.NoError(t, eng.Launch(kernel(1, func(context.Context) error { return errors.New("bad") })))
	require.NoError(t, eng.Launch(kernel(2, func(context.Context) error { panic("boom") })))
	require.NoError(t, eng.Close(context.Background(), false))

	_, errs, reports := sink.snapshot()
	assert.ErrorIs(t, errs[1], core.ErrDeviceFailure)
	var de *core.DeviceError
	require.ErrorAs(t, errs[2], &de)
	assert.Equal(t, CodePanic, de.Code)
	assert.Len(t, reports, 1, "only the fault raises a record")
}

func TestEngine_AdmitRefusalAborts(t *testing.T) {
	d := New()
	sink := newSink()
	stop := errors.New("stopped")
	sink.refuse[2] = stop

	eng, err := d.Open(0, sink)
	require.NoError(t, err)

	var ran, aborted bool
	task := kernel(2, func(context.Context) error { ran = true; return nil })
	task.Abort = func(err error) { aborted = errors.Is(err, stop) }
	require.NoError(t, eng.Launch(kernel(1, nil)))
	require.NoError(t, eng.Launch(task))
	require.NoError(t, eng.Close(context.Background(), false))

	_, errs, _ := sink.snapshot()
	assert.False(t, ran)
	assert.True(t, aborted)
	assert.ErrorIs(t, errs[2], stop)
	assert.NoError(t, errs[1])
}

func TestEngine_ForceClose(t *testing.T) {
	d := New()
	sink := newSink()
	eng, err := d.Open(0, sink)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, eng.Launch(kernel(1, func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})))
	var ranSecond bool
	require.NoError(t, eng.Launch(kernel(2, func(context.Context) error { ranSecond = true; return nil })))
	<-started

	require.NoError(t, eng.Close(context.Background(), true))
	close(release)

	_, errs, _ := sink.snapshot()
	assert.False(t, ranSecond)
	assert.ErrorIs(t, errs[2], core.ErrQueueDestroyed)
}

func TestEngine_CloseTimeout(t *testing.T) {
	d := New()
	eng, err := d.Open(0, newSink())
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, eng.Launch(kernel(1, func(context.Context) error { <-release; return nil })))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = eng.Close(ctx, false)
	assert.ErrorIs(t, err, core.ErrTimeout)

	close(release)
	require.NoError(t, eng.Close(context.Background(), false))
}

func TestEngine_PublishShuffled(t *testing.T) {
	d := New(WithShuffledChunks(42))
	sink := newSink()
	eng, err := d.Open(0, sink)
	require.NoError(t, err)

	data := make([]byte, 10*reassembly.PayloadSize)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, eng.Publish(3, 1, data))
	require.NoError(t, eng.Close(context.Background(), false))

	_, _, reports := sink.snapshot()
	require.Len(t, reports, 10)

	first, err := reassembly.Decode(reports[0].Data)
	require.NoError(t, err)
	assert.True(t, first.Flags.Start())

	r := reassembly.New()
	var rep *reassembly.Report
	for _, rp := range reports {
		assert.Equal(t, core.ReportChunk, rp.Kind)
		got, err := r.FeedFrame(rp.Data)
		require.NoError(t, err)
		if got != nil {
			rep = got
		}
	}
	require.NotNil(t, rep)
	assert.Equal(t, data, rep.Data)
}

func TestDevice_Limits(t *testing.T) {
	d := New(WithMaxQueues(1), WithID(3), WithTickRate(1000))
	assert.Equal(t, core.DeviceID(3), d.ID())
	assert.Equal(t, uint64(1000), d.TickRate())

	eng, err := d.Open(0, newSink())
	require.NoError(t, err)
	_, err = d.Open(0, newSink())
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
	_, err = d.Open(0, nil)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	require.NoError(t, eng.Close(context.Background(), false))
	assert.Equal(t, 0, d.Queues())

	a := d.Now()
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, d.Now(), a)
}
