package processing

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// State is the lifecycle position of a job run.
type State string

const (
	StatePending     State = "Pending"
	StateInitialized State = "Initialized"
	StateComposed    State = "Composed"
	StateExecuting   State = "Executing"
	StateSucceeded   State = "Succeeded"
	StateReconciling State = "Reconciling"
	StateCompleted   State = "Completed"
	StateFailed      State = "Failed"
	StateTimedOut    State = "TimedOut"
)

var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StatePending:     {StateInitialized, StateFailed},
	StateInitialized: {StateComposed, StateFailed},
	StateComposed:    {StateExecuting, StateFailed},
	StateExecuting:   {StateSucceeded, StateFailed, StateTimedOut},
	StateSucceeded:   {StateReconciling, StateFailed},
	StateReconciling: {StateCompleted, StateFailed},
}

// CanTransition reports whether a run in state s may move to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// stateMachine guards the state of one run.
type stateMachine struct {
	mu      sync.Mutex
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StatePending}
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.current, next)
	}
	m.current = next
	return nil
}
