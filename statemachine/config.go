package statemachine

import (
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

// Reserved outcome names in YAML transition cells. Anything else names a
// target state.
const (
	OutcomeIgnore       = "ignore"
	OutcomeCannotHappen = "cannot_happen"
)

// Config is the YAML form of a definition.
type Config struct {
	Name    string        `json:"name"    yaml:"name"`
	Initial string        `json:"initial" yaml:"initial"`
	States  []StateConfig `json:"states"  yaml:"states"`
	Events  []EventConfig `json:"events"  yaml:"events"`
}

// StateConfig names the functions of one state. Names are resolved against
// the Actions passed to LoadDefinition.
type StateConfig struct {
	Name   string `json:"name"   yaml:"name"`
	Guard  string `json:"guard"  yaml:"guard"`
	Entry  string `json:"entry"  yaml:"entry"`
	Action string `json:"action" yaml:"action"`
	Exit   string `json:"exit"   yaml:"exit"`
}

// EventConfig is one row of the transition table, keyed by current state.
// Default fills the states the row doesn't mention.
type EventConfig struct {
	Name        string            `json:"name"        yaml:"name"`
	Default     string            `json:"default"     yaml:"default"`
	Transitions map[string]string `json:"transitions" yaml:"transitions"`
}

// Actions binds the function names used in a Config.
type Actions[D any] struct {
	Guards  map[string]GuardFunc[D]
	Actions map[string]ActionFunc[D]
	Exits   map[string]ExitFunc[D]
}

// LoadConfigFromBytes parses and validates a YAML definition.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the parts of a Config that don't depend on bound actions.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}

	if len(c.States) == 0 {
		return ErrStateRequired
	}

	states := make(map[string]bool, len(c.States))

	for _, st := range c.States {
		if st.Name == "" {
			return ErrStateNameRequired
		}

		if st.Name == OutcomeIgnore || st.Name == OutcomeCannotHappen {
			return fmt.Errorf("%w: state name %q is reserved", ErrInvalidConfig, st.Name)
		}

		if states[st.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateStateName, st.Name)
		}

		states[st.Name] = true

		if st.Action == "" {
			return fmt.Errorf("state %s: %w", st.Name, ErrStateActionRequired)
		}
	}

	if c.Initial != "" && !states[c.Initial] {
		return fmt.Errorf("initial state %s: %w", c.Initial, ErrStateNotFound)
	}

	for _, ev := range c.Events {
		if ev.Name == "" {
			return fmt.Errorf("%w: event name is required", ErrInvalidConfig)
		}

		for from, to := range ev.Transitions {
			if !states[from] {
				return fmt.Errorf("event %s from %s: %w", ev.Name, from, ErrStateNotFound)
			}

			if !isReserved(to) && !states[to] {
				return fmt.Errorf("event %s to %s: %w", ev.Name, to, ErrStateNotFound)
			}
		}

		if ev.Default != "" && !isReserved(ev.Default) && !states[ev.Default] {
			return fmt.Errorf("event %s default %s: %w", ev.Name, ev.Default, ErrInvalidOutcome)
		}
	}

	return nil
}

func isReserved(s string) bool {
	return s == OutcomeIgnore || s == OutcomeCannotHappen
}

// LoadDefinition builds a definition from YAML, binding the function names it
// mentions to actions.
func LoadDefinition[D any](data []byte, actions Actions[D]) (*Definition[D], error) {
	config, err := LoadConfigFromBytes(data)
	if err != nil {
		return nil, err
	}

	return BuildFromConfig(config, actions)
}

// LoadDefinitionFromFS is LoadDefinition for a file in fsys, such as an embed.FS.
func LoadDefinitionFromFS[D any](fsys fs.FS, path string, actions Actions[D]) (*Definition[D], error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from FS: %w", err)
	}

	return LoadDefinition(data, actions)
}

// BuildFromConfig turns a validated Config into a Definition.
func BuildFromConfig[D any](config *Config, actions Actions[D]) (*Definition[D], error) {
	bld := NewBuilder[D](config.Name)

	for _, st := range config.States {
		funcs, err := bindState(st, actions)
		if err != nil {
			return nil, err
		}

		bld.State(st.Name, funcs)
	}

	ids := make(map[string]StateID, len(config.States))
	for idx, st := range config.States {
		ids[st.Name] = StateID(idx)
	}

	if config.Initial != "" {
		bld.Initial(ids[config.Initial])
	}

	for _, ev := range config.Events {
		id := bld.Event(ev.Name)

		if ev.Default != "" {
			bld.OnAll(id, parseOutcome(ev.Default, ids))
		}

		for from, to := range ev.Transitions {
			bld.On(id, ids[from], parseOutcome(to, ids))
		}
	}

	return bld.Build()
}

func parseOutcome(s string, ids map[string]StateID) Outcome {
	switch s {
	case OutcomeIgnore:
		return Ignored()
	case OutcomeCannotHappen:
		return CannotHappen()
	default:
		return Goto(ids[s])
	}
}

func bindState[D any](st StateConfig, actions Actions[D]) (StateFuncs[D], error) {
	var (
		funcs StateFuncs[D]
		ok    bool
	)

	funcs.Action, ok = actions.Actions[st.Action]
	if !ok {
		return funcs, fmt.Errorf("state %s action %q: %w", st.Name, st.Action, ErrActionNotFound)
	}

	if st.Entry != "" {
		if funcs.Entry, ok = actions.Actions[st.Entry]; !ok {
			return funcs, fmt.Errorf("state %s entry %q: %w", st.Name, st.Entry, ErrActionNotFound)
		}
	}

	if st.Guard != "" {
		if funcs.Guard, ok = actions.Guards[st.Guard]; !ok {
			return funcs, fmt.Errorf("state %s guard %q: %w", st.Name, st.Guard, ErrActionNotFound)
		}
	}

	if st.Exit != "" {
		if funcs.Exit, ok = actions.Exits[st.Exit]; !ok {
			return funcs, fmt.Errorf("state %s exit %q: %w", st.Name, st.Exit, ErrActionNotFound)
		}
	}

	return funcs, nil
}
