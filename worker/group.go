package worker

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-dispatch/assert"
	"github.com/amp-labs/amp-dispatch/errors"
)

// Group owns a fixed set of threads that start and stop together.
type Group struct {
	threads []*Thread
	byName  map[string]*Thread
}

// NewGroup wraps the given threads. Names must be unique.
func NewGroup(threads ...*Thread) *Group {
	g := &Group{
		threads: threads,
		byName:  make(map[string]*Thread, len(threads)),
	}

	for _, t := range threads {
		assert.NotNil(t, "nil thread in group")

		_, dup := g.byName[t.Name()]
		assert.False(dup, "duplicate thread name %q in group", t.Name())

		g.byName[t.Name()] = t
	}

	return g
}

// Threads returns the threads in the order they were given.
func (g *Group) Threads() []*Thread {
	out := make([]*Thread, len(g.threads))
	copy(out, g.threads)

	return out
}

// Get returns a thread by name.
func (g *Group) Get(name string) (*Thread, bool) {
	t, ok := g.byName[name]

	return t, ok
}

// CreateAll starts every thread. It keeps going past failures and returns
// them joined.
func (g *Group) CreateAll(ctx context.Context) error {
	var errs errors.Collection

	for _, t := range g.threads {
		if err := t.CreateThread(ctx); err != nil {
			errs.Add(fmt.Errorf("starting %s: %w", t.Name(), err))
		}
	}

	return errs.GetError()
}

// ExitAll shuts every thread down in parallel and waits for all of them.
// If ctx ends first, ExitAll returns its error while the exits keep running
// in the background.
func (g *Group) ExitAll(ctx context.Context) error {
	if len(g.threads) == 0 {
		return nil
	}

	pool := pond.NewPool(len(g.threads))
	group := pool.NewGroup()

	for _, t := range g.threads {
		group.Submit(t.ExitThread)
	}

	select {
	case <-group.Done():
		pool.StopAndWait()

		return nil
	case <-ctx.Done():
		go pool.StopAndWait()

		return ctx.Err()
	}
}
