package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupLifecycle(t *testing.T) {
	t.Parallel()

	one := New("group.one", WithTickInterval(0))
	two := New("group.two", WithTickInterval(0))
	grp := NewGroup(one, two)

	got, ok := grp.Get("group.two")
	require.True(t, ok)
	assert.Same(t, two, got)

	_, ok = grp.Get("group.three")
	assert.False(t, ok)

	require.NoError(t, grp.CreateAll(t.Context()))

	for _, th := range grp.Threads() {
		assert.True(t, th.Running())
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, grp.ExitAll(ctx))

	for _, th := range grp.Threads() {
		assert.Equal(t, StateExited, th.State())
	}

	// Exiting twice is harmless; restarting is not allowed.
	require.NoError(t, grp.ExitAll(ctx))

	err := grp.CreateAll(t.Context())
	require.ErrorIs(t, err, ErrExited)
}

func TestGroupRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewGroup(New("group.dup"), New("group.dup"))
	})
}

func TestExitAllHonorsContext(t *testing.T) {
	t.Parallel()

	th := New("group.slow", WithTickInterval(0))
	require.NoError(t, th.CreateThread(t.Context()))

	gate := make(chan struct{})
	require.NoError(t, th.Enqueue(deliver(func() { <-gate })))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	err := NewGroup(th).ExitAll(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)

	require.Eventually(t, func() bool {
		return th.State() == StateExited
	}, 5*time.Second, time.Millisecond)
}
