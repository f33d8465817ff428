// Package worker provides the worker-thread runtime that callback deliveries
// are marshaled onto.
//
// A Thread owns one consumer goroutine and one FIFO queue. Producers on any
// goroutine append messages; the consumer pops them one at a time and runs
// them in arrival order, so everything delivered to one Thread is strictly
// sequential. A background tick generator posts a timer-tick message every
// tick interval so timers are scanned on the thread as well.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/amp-labs/amp-dispatch/assert"
	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/envutil"
	"github.com/amp-labs/amp-dispatch/logger"
	"github.com/eapache/queue"
	"github.com/looplab/fsm"
)

// DefaultTickInterval is the tick period used when neither an option nor
// WORKER_TICK_INTERVAL sets one.
const DefaultTickInterval = 100 * time.Millisecond

var (
	// ErrNotRunning is returned when enqueuing on a thread that was never started.
	ErrNotRunning = errors.New("worker thread not running")
	// ErrExiting is returned when enqueuing after shutdown has been posted.
	ErrExiting = errors.New("worker thread exiting")
	// ErrExited is returned when starting a thread that already exited.
	ErrExited = errors.New("worker thread exited")
)

// Lifecycle states.
const (
	StateCreated = "created"
	StateRunning = "running"
	StateExiting = "exiting"
	StateExited  = "exited"
)

// TickHandler scans timers; it is called on the thread for every tick message.
type TickHandler interface {
	ProcessTimers()
}

// PanicHandler is told about a panic raised by a delivery. If no handler is
// installed the panic is re-raised after it has been logged.
type PanicHandler func(ctx context.Context, d callback.Delivery, recovered any)

// Thread is a single-consumer, multi-producer worker.
type Thread struct {
	name         string
	tickInterval time.Duration
	ticks        TickHandler
	onPanic      PanicHandler

	mu        sync.Mutex
	nonEmpty  *sync.Cond
	queue     *queue.Queue
	accepting bool
	exiting   bool

	// ctl serializes CreateThread and ExitThread.
	ctl       sync.Mutex
	lifecycle *fsm.FSM
	stopTick  chan struct{}
	tickDone  sync.WaitGroup
	done      chan struct{}
}

var _ callback.Target = (*Thread)(nil)

// Option configures a Thread.
type Option func(*Thread)

// WithTickInterval sets the tick period. Zero or negative disables the tick
// generator; Tick messages can still be enqueued by hand.
func WithTickInterval(d time.Duration) Option {
	return func(t *Thread) {
		t.tickInterval = d
	}
}

// WithTickHandler sets what runs on each tick, normally a timer.Service.
func WithTickHandler(h TickHandler) Option {
	return func(t *Thread) {
		t.ticks = h
	}
}

// WithPanicHandler installs a handler for panicking deliveries. Without one a
// panic takes the process down, which is what fatal state machine errors rely on.
func WithPanicHandler(h PanicHandler) Option {
	return func(t *Thread) {
		t.onPanic = h
	}
}

// New creates a thread. Nothing runs until CreateThread is called.
func New(name string, opts ...Option) *Thread {
	t := &Thread{
		name: name,
		tickInterval: envutil.Duration("WORKER_TICK_INTERVAL",
			envutil.Default(DefaultTickInterval)).ValueOrElse(DefaultTickInterval),
		queue: queue.New(),
	}

	t.nonEmpty = sync.NewCond(&t.mu)

	for _, opt := range opts {
		opt(t)
	}

	t.lifecycle = fsm.NewFSM(StateCreated,
		fsm.Events{
			{Name: "start", Src: []string{StateCreated}, Dst: StateRunning},
			{Name: "exit", Src: []string{StateRunning}, Dst: StateExiting},
			{Name: "finish", Src: []string{StateExiting}, Dst: StateExited},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				logger.Get(ctx).Debug("worker thread state changed",
					"thread", t.name, "from", e.Src, "to", e.Dst)
			},
		},
	)

	return t
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// State returns the lifecycle state.
func (t *Thread) State() string {
	return t.lifecycle.Current()
}

// Running reports whether the consumer loop is running.
func (t *Thread) Running() bool {
	return t.lifecycle.Is(StateRunning)
}

// QueueLen returns the number of queued messages.
func (t *Thread) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.queue.Length()
}

// CreateThread starts the consumer loop and its tick generator. Calling it
// again while running does nothing. A thread cannot be restarted once it exited.
func (t *Thread) CreateThread(ctx context.Context) error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	switch t.lifecycle.Current() {
	case StateRunning:
		return nil
	case StateCreated:
	default:
		return fmt.Errorf("%w: %s", ErrExited, t.name)
	}

	t.mu.Lock()
	t.accepting = true
	t.mu.Unlock()

	t.stopTick = make(chan struct{})
	t.done = make(chan struct{})

	runCtx := logger.With(context.WithoutCancel(ctx), "thread", t.name)

	aliveThreads.WithLabelValues(t.name).Inc()

	go t.process(runCtx)

	return t.lifecycle.Event(ctx, "start")
}

// ExitThread posts a shutdown message and blocks until the consumer loop has
// stopped the tick generator, discarded whatever was queued behind the
// shutdown message and returned. It is a no-op unless the thread is running.
// It must not be called from a delivery running on this same thread.
func (t *Thread) ExitThread() {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	if !t.lifecycle.Is(StateRunning) {
		return
	}

	ctx := logger.With(context.Background(), "thread", t.name)

	t.mu.Lock()
	t.queue.Add(Message{kind: KindShutdown})
	t.accepting = false
	t.exiting = true
	t.nonEmpty.Signal()
	t.mu.Unlock()

	_ = t.lifecycle.Event(ctx, "exit")

	enqueued.WithLabelValues(t.name, KindShutdown.String()).Inc()

	<-t.done

	_ = t.lifecycle.Event(ctx, "finish")

	aliveThreads.WithLabelValues(t.name).Dec()
}

// Enqueue appends a deliver or tick message and wakes the consumer.
func (t *Thread) Enqueue(msg Message) error {
	assert.True(msg.kind == KindDeliver || msg.kind == KindTick,
		"cannot enqueue %s message on %s", msg.kind, t.name)

	t.mu.Lock()

	if !t.accepting {
		exiting := t.exiting
		t.mu.Unlock()

		if exiting {
			return fmt.Errorf("%w: %s", ErrExiting, t.name)
		}

		return fmt.Errorf("%w: %s", ErrNotRunning, t.name)
	}

	t.queue.Add(msg)
	t.nonEmpty.Signal()
	t.mu.Unlock()

	enqueued.WithLabelValues(t.name, msg.kind.String()).Inc()

	return nil
}

// Dispatch queues a callback delivery; it makes Thread a callback.Target.
func (t *Thread) Dispatch(d callback.Delivery) error {
	assert.True(d.Valid(), "empty delivery dispatched to %s", t.name)

	return t.Enqueue(Deliver(d))
}

func (t *Thread) process(ctx context.Context) {
	defer close(t.done)

	t.tickDone.Add(1)

	go t.generateTicks(ctx)

	for {
		t.mu.Lock()

		for t.queue.Length() == 0 {
			t.nonEmpty.Wait()
		}

		msg, _ := t.queue.Remove().(Message)
		depth := t.queue.Length()

		t.mu.Unlock()

		queueDepth.WithLabelValues(t.name).Set(float64(depth))

		switch msg.kind {
		case KindDeliver:
			t.deliver(ctx, msg.delivery)
		case KindTick:
			if t.ticks != nil {
				t.ticks.ProcessTimers()
			}
		case KindShutdown:
			t.shutdown(ctx)
			processed.WithLabelValues(t.name, msg.kind.String()).Inc()

			return
		default:
			assert.True(false, "unknown message kind %d on %s", int(msg.kind), t.name)
		}

		processed.WithLabelValues(t.name, msg.kind.String()).Inc()
	}
}

// shutdown stops the tick generator and discards what is left in the queue.
// ExitThread closes the queue in the same critical section that appends the
// shutdown message, so nothing is ever queued behind it and the discard count
// stays zero. The drain only guards that invariant.
func (t *Thread) shutdown(ctx context.Context) {
	close(t.stopTick)
	t.tickDone.Wait()

	t.mu.Lock()

	discarded := t.queue.Length()
	for t.queue.Length() > 0 {
		t.queue.Remove()
	}

	t.mu.Unlock()

	queueDepth.WithLabelValues(t.name).Set(0)
	drained.WithLabelValues(t.name).Add(float64(discarded))

	logger.Get(ctx).Debug("worker thread exiting", "thread", t.name, "discarded", discarded)
}

func (t *Thread) generateTicks(ctx context.Context) {
	defer t.tickDone.Done()

	if t.tickInterval <= 0 {
		<-t.stopTick

		return
	}

	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopTick:
			return
		case <-ticker.C:
			err := t.Enqueue(Tick())
			if err != nil {
				logger.Get(ctx).Debug("tick dropped", "error", err)
			}
		}
	}
}

func (t *Thread) deliver(ctx context.Context, d callback.Delivery) {
	start := time.Now()

	defer func() {
		processingTime.WithLabelValues(t.name).Observe(time.Since(start).Seconds())

		if err := recover(); err != nil {
			panics.WithLabelValues(t.name).Inc()

			logger.Get(ctx).Error("worker recovered from panic in callback",
				"thread", t.name,
				"interface", d.Interface(),
				"callback", d.Callback(),
				"error", err,
				"stack", string(debug.Stack()))

			if t.onPanic == nil {
				panic(err)
			}

			t.onPanic(ctx, d, err)
		}
	}()

	d.Run(ctx)
}
