package timer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amp-labs/amp-dispatch/callback"
	commonerrors "github.com/amp-labs/amp-dispatch/errors"
	"github.com/amp-labs/amp-dispatch/worker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// heldTarget keeps deliveries until run is called.
type heldTarget struct {
	name string
	mu   sync.Mutex
	held []callback.Delivery
}

func (h *heldTarget) Name() string {
	return h.name
}

func (h *heldTarget) Dispatch(d callback.Delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.held = append(h.held, d)

	return nil
}

func (h *heldTarget) run(ctx context.Context) int {
	h.mu.Lock()
	held := h.held
	h.held = nil
	h.mu.Unlock()

	for _, d := range held {
		d.Run(ctx)
	}

	return len(held)
}

type fixture struct {
	clock  *ManualClock
	svc    *Service
	target *heldTarget
	calls  *atomic.Int64
	cb     *Callback
}

func newFixture(t *testing.T, name string, start Ticks, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		clock:  NewManualClock(start),
		target: &heldTarget{name: "target"},
		calls:  &atomic.Int64{},
	}

	f.svc = New(callback.NewRegistry(), append([]Option{WithClock(f.clock), WithName(name)}, opts...)...)
	f.cb = NewCallback("expire", func(context.Context) { f.calls.Add(1) })

	return f
}

// step advances the clock, scans, and returns how many deliveries were fired.
func (f *fixture) step(t *testing.T, d Ticks) int {
	t.Helper()

	f.clock.Advance(d)
	f.svc.ProcessTimers()

	return f.target.run(t.Context())
}

func TestFiresOnceAtExactlyTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.exact", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	assert.Equal(t, 0, f.step(t, 99))
	assert.Equal(t, 1, f.step(t, 1))
	assert.Equal(t, 0, f.step(t, 0))
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestFiresEveryPeriod(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.periodic", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	fires := 0
	for range 30 {
		fires += f.step(t, 10)
	}

	assert.Equal(t, 3, fires)
	assert.InDelta(t, 3, testutil.ToFloat64(fired.WithLabelValues("timer.periodic", "expire")), 0)
}

func TestLateTimerFiresOnceAndResyncs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.late", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	// Ten periods pass between scans: a single expiration.
	assert.Equal(t, 1, f.step(t, 1000))
	assert.Equal(t, 0, f.step(t, 0))

	// The next expiration is a full period after the late scan.
	assert.Equal(t, 0, f.step(t, 99))
	assert.Equal(t, 1, f.step(t, 1))
	assert.InDelta(t, 1, testutil.ToFloat64(resyncs.WithLabelValues("timer.late", "expire")), 0)
}

func TestSlightlyLateTimerKeepsCadence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.jitter", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	// 30 ticks late: the anchor advances by exactly one period, not to now.
	assert.Equal(t, 1, f.step(t, 130))
	assert.Equal(t, 0, f.step(t, 69))
	assert.Equal(t, 1, f.step(t, 1))
	assert.InDelta(t, 0, testutil.ToFloat64(resyncs.WithLabelValues("timer.jitter", "expire")), 0)
}

func TestTickWraparound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.wrap", math.MaxUint32-40)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	assert.Equal(t, 0, f.step(t, 60))
	assert.Equal(t, 1, f.step(t, 40))
}

func TestStartRejectsRearmAndZeroTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.rearm", 0)

	_, err := f.svc.Start(f.cb, f.target, 0)
	require.ErrorIs(t, err, ErrZeroTimeout)

	h, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)
	assert.True(t, f.svc.Active(f.cb, f.target))

	_, err = f.svc.Start(f.cb, f.target, 50)
	require.ErrorIs(t, err, ErrTimerActive)

	// The original period is untouched by the rejected re-arm.
	assert.Equal(t, 0, f.step(t, 50))
	assert.Equal(t, 1, f.step(t, 50))
	assert.Equal(t, 1, f.svc.Len())
	assert.False(t, h.IsZero())
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.stop", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	f.svc.Stop(f.cb, f.target)
	f.svc.Stop(f.cb, f.target)

	assert.False(t, f.svc.Active(f.cb, f.target))
	assert.Equal(t, 0, f.svc.Len())
	assert.Equal(t, 0, f.step(t, 500))

	// A stopped pair can be started again.
	_, err = f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, f.step(t, 100))
}

func TestStopDropsFiredButUnrunDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.stale", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	f.clock.Advance(100)
	f.svc.ProcessTimers()
	f.svc.Stop(f.cb, f.target)

	assert.Equal(t, 1, f.target.run(t.Context()))
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestSlotsAreLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.slots", 0, WithSlots(2))
	assert.Equal(t, 2, f.svc.Capacity())

	other := &heldTarget{name: "other"}
	third := &heldTarget{name: "third"}

	_, err := f.svc.Start(f.cb, f.target, 10)
	require.NoError(t, err)

	_, err = f.svc.Start(f.cb, other, 20)
	require.NoError(t, err)

	_, err = f.svc.Start(f.cb, third, 30)
	require.ErrorIs(t, err, callback.ErrCapacityExhausted)

	// Each slot fires only its own subscription.
	assert.Equal(t, 1, f.step(t, 10))
	assert.Equal(t, 0, other.run(t.Context()))

	assert.Equal(t, 1, f.step(t, 10))
	assert.Equal(t, 1, other.run(t.Context()))
	assert.Equal(t, 0, third.run(t.Context()))
}

func TestCloseStopsEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "timer.close", 0)

	_, err := f.svc.Start(f.cb, f.target, 100)
	require.NoError(t, err)

	f.svc.Close()
	f.svc.Close()

	assert.Equal(t, 0, f.svc.Len())
	assert.Equal(t, 0, f.step(t, 100))

	_, err = f.svc.Start(f.cb, f.target, 100)
	require.ErrorIs(t, err, commonerrors.ErrClosed)
}

func TestTimerFiresOnWorkerThread(t *testing.T) {
	t.Parallel()

	clock := NewManualClock(0)
	svc := New(callback.NewRegistry(), WithClock(clock), WithName("timer.thread"))

	th := worker.New("timer.thread", worker.WithTickInterval(time.Millisecond), worker.WithTickHandler(svc))
	require.NoError(t, th.CreateThread(t.Context()))
	t.Cleanup(th.ExitThread)

	var calls atomic.Int64

	cb := NewCallback("expire", func(context.Context) { calls.Add(1) })

	_, err := svc.Start(cb, th, 50)
	require.NoError(t, err)

	clock.Advance(50)

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 5*time.Second, time.Millisecond)

	// Without the clock moving nothing fires again.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFromDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Ticks(1500), FromDuration(1500*time.Millisecond))
	assert.Equal(t, 2*time.Second, Ticks(2000).Duration())
}

func TestSlotsFromEnvironment(t *testing.T) { //nolint:paralleltest
	t.Setenv("TIMER_SLOTS", "3")
	assert.Equal(t, 3, New(callback.NewRegistry()).Capacity())

	t.Setenv("TIMER_SLOTS", "0")
	assert.Equal(t, DefaultSlots, New(callback.NewRegistry()).Capacity())

	t.Setenv("TIMER_SLOTS", "-2")
	assert.Equal(t, DefaultSlots, New(callback.NewRegistry()).Capacity())

	t.Setenv("TIMER_SLOTS", "3")
	assert.Equal(t, 7, New(callback.NewRegistry(), WithSlots(7)).Capacity())
}
