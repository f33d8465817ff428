package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicks struct {
	n atomic.Int64
}

func (c *countingTicks) ProcessTimers() {
	c.n.Add(1)
}

func startThread(t *testing.T, name string, opts ...Option) *Thread {
	t.Helper()

	th := New(name, append([]Option{WithTickInterval(0)}, opts...)...)
	require.NoError(t, th.CreateThread(t.Context()))
	t.Cleanup(th.ExitThread)

	return th
}

func deliver(fn func()) Message {
	return Deliver(callback.NewDelivery("test", "fn", func(context.Context) { fn() }))
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()

	th := New("worker.not-started", WithTickInterval(0))

	err := th.Enqueue(Tick())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, StateCreated, th.State())
	assert.False(t, th.Running())

	// Exiting a thread that never ran does nothing.
	th.ExitThread()
	assert.Equal(t, StateCreated, th.State())
}

func TestMessagesRunInFIFOOrder(t *testing.T) {
	t.Parallel()

	const count = 200

	th := startThread(t, "worker.fifo")

	var (
		mu  sync.Mutex
		got []int
	)

	done := make(chan struct{})

	for i := range count {
		require.NoError(t, th.Enqueue(deliver(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})))
	}

	require.NoError(t, th.Enqueue(deliver(func() { close(done) })))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deliveries did not run")
	}

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, got, count)

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	t.Parallel()

	const (
		producers = 4
		each      = 50
	)

	th := startThread(t, "worker.producers")

	var (
		mu   sync.Mutex
		seen = make(map[int][]int)
		wg   sync.WaitGroup
	)

	for p := range producers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range each {
				assert.NoError(t, th.Enqueue(deliver(func() {
					mu.Lock()
					seen[p] = append(seen[p], i)
					mu.Unlock()
				})))
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	require.NoError(t, th.Enqueue(deliver(func() { close(done) })))
	<-done

	mu.Lock()
	defer mu.Unlock()

	for p := range producers {
		require.Len(t, seen[p], each)

		for i, v := range seen[p] {
			assert.Equal(t, i, v)
		}
	}
}

func TestExitThreadProcessesQueuedMessages(t *testing.T) {
	t.Parallel()

	const queued = 10

	th := New("worker.exit", WithTickInterval(0))
	require.NoError(t, th.CreateThread(t.Context()))

	gate := make(chan struct{})

	var ran atomic.Int64

	require.NoError(t, th.Enqueue(deliver(func() { <-gate })))

	for range queued {
		require.NoError(t, th.Enqueue(deliver(func() { ran.Add(1) })))
	}

	exited := make(chan struct{})

	go func() {
		th.ExitThread()
		close(exited)
	}()

	require.Eventually(t, func() bool {
		return th.State() == StateExiting
	}, 5*time.Second, time.Millisecond)

	// Once shutdown is posted nothing else gets in.
	require.ErrorIs(t, th.Enqueue(Tick()), ErrExiting)

	close(gate)
	<-exited

	assert.Equal(t, int64(queued), ran.Load())
	assert.Equal(t, StateExited, th.State())
	assert.Equal(t, 0, th.QueueLen())
	assert.InDelta(t, float64(queued+1), testutil.ToFloat64(processed.WithLabelValues("worker.exit", "deliver")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(processed.WithLabelValues("worker.exit", "shutdown")), 0)
	assert.Zero(t, testutil.ToFloat64(drained.WithLabelValues("worker.exit")))

	// A second exit is a no-op and the thread cannot be restarted.
	th.ExitThread()
	require.ErrorIs(t, th.CreateThread(t.Context()), ErrExited)
	require.ErrorIs(t, th.Enqueue(Tick()), ErrExiting)
}

func TestCreateThreadIsIdempotent(t *testing.T) {
	t.Parallel()

	th := startThread(t, "worker.idempotent")

	require.NoError(t, th.CreateThread(t.Context()))
	assert.True(t, th.Running())
	assert.InDelta(t, 1, testutil.ToFloat64(aliveThreads.WithLabelValues("worker.idempotent")), 0)
}

func TestTicksReachHandler(t *testing.T) {
	t.Parallel()

	ticks := &countingTicks{}
	th := New("worker.ticks", WithTickInterval(time.Millisecond), WithTickHandler(ticks))
	require.NoError(t, th.CreateThread(t.Context()))

	require.Eventually(t, func() bool {
		return ticks.n.Load() >= 3
	}, 5*time.Second, time.Millisecond)

	th.ExitThread()

	// The tick generator is joined before the loop returns.
	after := ticks.n.Load()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ticks.n.Load())
}

func TestManualTickWithoutGenerator(t *testing.T) {
	t.Parallel()

	ticks := &countingTicks{}
	th := startThread(t, "worker.manual-tick", WithTickHandler(ticks))

	require.NoError(t, th.Enqueue(Tick()))

	done := make(chan struct{})
	require.NoError(t, th.Enqueue(deliver(func() { close(done) })))
	<-done

	assert.Equal(t, int64(1), ticks.n.Load())
}

func TestPanicHandlerKeepsThreadAlive(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		recovered []any
	)

	th := startThread(t, "worker.panic", WithPanicHandler(func(_ context.Context, d callback.Delivery, r any) {
		mu.Lock()
		defer mu.Unlock()

		assert.Equal(t, "fn", d.Callback())

		recovered = append(recovered, r)
	}))

	require.NoError(t, th.Enqueue(deliver(func() { panic("boom") })))

	done := make(chan struct{})
	require.NoError(t, th.Enqueue(deliver(func() { close(done) })))
	<-done

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []any{"boom"}, recovered)
	assert.InDelta(t, 1, testutil.ToFloat64(panics.WithLabelValues("worker.panic")), 0)
}

func TestShutdownMessageCannotBeEnqueued(t *testing.T) {
	t.Parallel()

	th := startThread(t, "worker.no-shutdown")

	assert.Panics(t, func() {
		_ = th.Enqueue(Message{kind: KindShutdown})
	})
}

func TestThreadAsCallbackTarget(t *testing.T) {
	t.Parallel()

	th := startThread(t, "worker.target")

	reg := callback.NewRegistry()
	iface := callback.NewInterface[string](reg, "worker.greetings", 2)

	got := make(chan string, 1)
	cb := callback.New("greet", func(_ context.Context, s string) { got <- s })

	_, err := iface.Register(cb, th)
	require.NoError(t, err)

	iface.Invoke(t.Context(), "hello")

	select {
	case s := <-got:
		assert.Equal(t, "hello", s)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
}
