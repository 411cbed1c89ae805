package pipeline

import (
	"fmt"
	"sync"
)

// State is the phase an entity run is in
type State string

const (
	StateIdle          State = "idle"
	StateExtracting    State = "extracting"
	StateMapping       State = "mapping"
	StateValidating    State = "validating"
	StateLoading       State = "loading"
	StateCheckpointing State = "checkpointing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// IsValid checks if the state is known
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateExtracting, StateMapping, StateValidating, StateLoading,
		StateCheckpointing, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransitionTo checks if the state can transition to the target state.
// Failed and Cancelled are reachable from every non-terminal state.
func (s State) CanTransitionTo(target State) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StateFailed || target == StateCancelled {
		return true
	}
	switch s {
	case StateIdle:
		return target == StateExtracting
	case StateExtracting:
		// an empty stream completes without a batch
		return target == StateMapping || target == StateCompleted
	case StateMapping:
		return target == StateValidating
	case StateValidating:
		return target == StateLoading
	case StateLoading:
		return target == StateCheckpointing
	case StateCheckpointing:
		return target == StateExtracting || target == StateCompleted
	}
	return false
}

// stateMachine guards the state of one run
type stateMachine struct {
	mu      sync.Mutex
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) transition(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, target)
	}
	m.current = target
	return nil
}
