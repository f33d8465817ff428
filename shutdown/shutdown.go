// Package shutdown coordinates process teardown: it turns SIGINT/SIGTERM into
// context cancellation and runs registered hooks in reverse registration order.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/amp-labs/amp-dispatch/errors"
	"github.com/amp-labs/amp-dispatch/logger"
)

// Hook releases one resource. The context is still alive while hooks run.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Coordinator owns the shutdown hooks of one process.
type Coordinator struct {
	mut     sync.Mutex
	hooks   []namedHook
	done    bool
	trigger chan os.Signal
}

// New returns a coordinator with no hooks.
func New() *Coordinator {
	return &Coordinator{trigger: make(chan os.Signal, 1)}
}

// BeforeShutdown registers a hook. Hooks run last-registered first, so
// resources should be registered in the order they were created.
func (c *Coordinator) BeforeShutdown(name string, h Hook) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.hooks = append(c.hooks, namedHook{name: name, fn: h})
}

// Shutdown asks the handler installed by SetupHandler to shut down, as if a
// signal had arrived. It never blocks.
func (c *Coordinator) Shutdown() {
	select {
	case c.trigger <- os.Interrupt:
	default:
	}
}

// SetupHandler listens for SIGINT and SIGTERM and returns a context that is
// canceled once one arrives (or Shutdown is called) and the hooks have run.
func (c *Coordinator) SetupHandler(ctx context.Context) context.Context {
	signal.Notify(c.trigger, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer signal.Stop(c.trigger)

		select {
		case sig := <-c.trigger:
			logger.Get(ctx).Warn("Received " + sig.String() + ", shutting down...")

			if err := c.RunHooks(ctx); err != nil {
				logger.Get(ctx).Error("shutdown hooks failed", "error", err)
			}

			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}

// RunHooks runs every hook once, even if some fail, and returns their
// combined errors. Later calls do nothing.
func (c *Coordinator) RunHooks(ctx context.Context) error {
	c.mut.Lock()

	if c.done {
		c.mut.Unlock()

		return nil
	}

	c.done = true
	hooks := c.hooks
	c.hooks = nil

	c.mut.Unlock()

	var errs errors.Collection

	for i := len(hooks) - 1; i >= 0; i-- {
		logger.Get(ctx).Debug("running shutdown hook", "hook", hooks[i].name)

		if err := hooks[i].fn(ctx); err != nil {
			errs.Add(fmt.Errorf("%s: %w", hooks[i].name, err))
		}
	}

	return errs.GetError()
}
