package task

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a state change is not allowed
var ErrInvalidTransition = errors.New("invalid task state transition")

// transitions lists every legal edge of the task state machine.
// Running -> Pending is the retry-by-demotion edge.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusPending, StatusCancelled},
}

// stateMachine owns the status of a single task
type stateMachine struct {
	state Status
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StatusPending}
}

// Current returns the current state
func (m *stateMachine) Current() Status {
	return m.state
}

// CanTransition reports whether moving to next is legal
func (m *stateMachine) CanTransition(next Status) bool {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the machine to next or returns ErrInvalidTransition
func (m *stateMachine) Transition(next Status) error {
	if !m.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	return nil
}
