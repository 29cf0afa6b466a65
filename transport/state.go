// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"sync"

	"github.com/juju/errors"
)

// State is the transport state of a channel.
type State int

const (
	Uninitialized State = iota
	Opening
	Bounded
	Polling
	Closed
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	Opening:       "opening",
	Bounded:       "bounded",
	Polling:       "polling",
	Closed:        "closed",
}

// String is part of the fmt.Stringer interface.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// validTransitions lists, for each state, the states it may move to.
// Polling never leads back to Bounded and Closed is terminal.
var validTransitions = map[State][]State{
	Uninitialized: {Opening, Closed},
	Opening:       {Bounded, Polling, Closed},
	Bounded:       {Opening, Polling, Closed},
	Polling:       {Closed},
	Closed:        {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine holds a State and enforces its transitions. It is safe
// for concurrent readers; transitions are made by a single owner.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state, refusing invalid transitions.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return errors.NotValidf("transport transition from %s to %s", m.state, to)
	}
	m.state = to
	return nil
}
