package statemachine

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lamp struct {
	On      bool
	Flips   int
	Blocked bool
}

const lampYAML = `
name: lamp
initial: Off
states:
  - name: Off
    entry: switchOff
    action: count
  - name: On
    guard: notBlocked
    entry: switchOn
    action: count
    exit: leaving
  - name: Broken
    action: count
events:
  - name: Toggle
    default: cannot_happen
    transitions:
      Off: On
      On: Off
  - name: Smash
    default: Broken
    transitions:
      Broken: ignore
`

func lampActions(exits *int) Actions[lamp] {
	return Actions[lamp]{
		Guards: map[string]GuardFunc[lamp]{
			"notBlocked": func(_ context.Context, m *Machine[lamp], _ any) bool { return !m.Data().Blocked },
		},
		Actions: map[string]ActionFunc[lamp]{
			"switchOff": func(_ context.Context, m *Machine[lamp], _ any) { m.Data().On = false },
			"switchOn":  func(_ context.Context, m *Machine[lamp], _ any) { m.Data().On = true },
			"count":     func(_ context.Context, m *Machine[lamp], _ any) { m.Data().Flips++ },
		},
		Exits: map[string]ExitFunc[lamp]{
			"leaving": func(context.Context, *Machine[lamp]) { *exits++ },
		},
	}
}

func TestLoadDefinition(t *testing.T) {
	t.Parallel()

	exits := 0

	def, err := LoadDefinition([]byte(lampYAML), lampActions(&exits))
	require.NoError(t, err)
	assert.Equal(t, "lamp", def.Name())

	toggle, ok := def.LookupEvent("Toggle")
	require.True(t, ok)

	smash, ok := def.LookupEvent("Smash")
	require.True(t, ok)

	on, _ := def.LookupState("On")
	off, _ := def.LookupState("Off")
	broken, _ := def.LookupState("Broken")

	m := def.New(&lamp{})
	require.Equal(t, off, m.Current())

	m.Event(t.Context(), toggle, nil)
	assert.Equal(t, on, m.Current())
	assert.True(t, m.Data().On)

	m.Event(t.Context(), toggle, nil)
	assert.Equal(t, off, m.Current())
	assert.False(t, m.Data().On)
	assert.Equal(t, 1, exits)

	m.Data().Blocked = true
	m.Event(t.Context(), toggle, nil)
	assert.Equal(t, off, m.Current())

	m.Event(t.Context(), smash, nil)
	assert.Equal(t, broken, m.Current())

	flips := m.Data().Flips
	m.Event(t.Context(), smash, nil)
	assert.Equal(t, flips, m.Data().Flips)

	assert.Panics(t, func() { m.Event(t.Context(), toggle, nil) })
}

func TestLoadDefinitionFromFS(t *testing.T) {
	t.Parallel()

	exits := 0
	fsys := fstest.MapFS{"machines/lamp.yaml": {Data: []byte(lampYAML)}}

	def, err := LoadDefinitionFromFS(fsys, "machines/lamp.yaml", lampActions(&exits))
	require.NoError(t, err)
	assert.Equal(t, 3, def.States())

	_, err = LoadDefinitionFromFS(fsys, "machines/missing.yaml", lampActions(&exits))
	require.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	exits := 0

	tests := []struct {
		name string
		yaml string
		want error
	}{
		{
			name: "no states",
			yaml: "name: x\n",
			want: ErrStateRequired,
		},
		{
			name: "missing action",
			yaml: "name: x\nstates:\n  - name: A\n",
			want: ErrStateActionRequired,
		},
		{
			name: "duplicate state",
			yaml: "name: x\nstates:\n  - {name: A, action: count}\n  - {name: A, action: count}\n",
			want: ErrDuplicateStateName,
		},
		{
			name: "unknown target",
			yaml: "name: x\nstates:\n  - {name: A, action: count}\nevents:\n  - name: E\n    transitions: {A: B}\n",
			want: ErrStateNotFound,
		},
		{
			name: "unknown initial",
			yaml: "name: x\ninitial: Z\nstates:\n  - {name: A, action: count}\n",
			want: ErrStateNotFound,
		},
		{
			name: "unbound action",
			yaml: "name: x\nstates:\n  - {name: A, action: nope}\n",
			want: ErrActionNotFound,
		},
		{
			name: "unbound guard",
			yaml: "name: x\nstates:\n  - {name: A, action: count, guard: nope}\n",
			want: ErrActionNotFound,
		},
		{
			name: "bad default",
			yaml: "name: x\nstates:\n  - {name: A, action: count}\nevents:\n  - {name: E, default: sideways}\n",
			want: ErrInvalidOutcome,
		},
		{
			name: "reserved state name",
			yaml: "name: x\nstates:\n  - {name: ignore, action: count}\n",
			want: ErrInvalidConfig,
		},
		{
			name: "no name",
			yaml: "states:\n  - {name: A, action: count}\n",
			want: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadDefinition([]byte(tt.yaml), lampActions(&exits))
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := LoadDefinition([]byte("name: [unclosed"), lampActions(&exits))
	require.Error(t, err)
}
