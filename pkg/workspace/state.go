package workspace

import "fmt"

// State is a workspace lifecycle state.
type State string

const (
	StateRequested     State = "requested"
	StateValidating    State = "validating"
	StateReconciling   State = "reconciling"
	StateMaterializing State = "materializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
	StateCleaningUp    State = "cleaning_up"
	StateRemoved       State = "removed"
)

// transitions lists the legal successor states. Failed is reachable from
// every non-terminal state; Ready is re-entered when an existing workspace
// is prepared again.
var transitions = map[State][]State{
	StateRequested:     {StateValidating, StateFailed},
	StateValidating:    {StateReconciling, StateFailed},
	StateReconciling:   {StateMaterializing, StateFailed},
	StateMaterializing: {StateReady, StateFailed},
	StateReady:         {StateCleaningUp, StateRequested},
	StateFailed:        {StateCleaningUp, StateRequested},
	StateCleaningUp:    {StateRemoved, StateFailed},
	StateRemoved:       {StateRequested},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next, or ErrInvalidTransition if the move is illegal.
func (s State) Transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Terminal reports whether no further work happens in this state without a
// new request.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed || s == StateRemoved
}
