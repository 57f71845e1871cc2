package loop

import "fmt"

// State is one node of the iteration controller's state machine.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateApplying   State = "applying"
	StateTesting    State = "testing"
	StateEvaluating State = "evaluating"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// legalTransitions encodes the loop's legal edges. Generating loops
// to itself on malformed proposals, Applying loops back to
// Generating on conflicts, and shell/no-change rounds jump straight
// to Testing. Any non-terminal state may abort.
var legalTransitions = map[State][]State{
	StateIdle:       {StateGenerating, StateAborted},
	StateGenerating: {StateApplying, StateTesting, StateGenerating, StateFailed, StateAborted},
	StateApplying:   {StateTesting, StateGenerating, StateFailed, StateAborted},
	StateTesting:    {StateEvaluating, StateFailed, StateAborted},
	StateEvaluating: {StateGenerating, StateSucceeded, StateFailed, StateAborted},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves the session to a new state, enforcing the edge
// table. A bad edge is a controller bug, not a runtime condition.
func (s *Session) transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.State, to)
	}
	s.State = to
	return nil
}
