// Package lifecycle tracks the life of a subdirectory redirection.
// This file implements the per-operation state machine.
package lifecycle

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
)

// OpState represents the state of one redirected mount operation.
type OpState int32

const (
	// StateIdle is the initial state before the directive was seen.
	StateIdle OpState = iota

	// StateDirectiveDetected indicates X-mount.subdir was parsed and the
	// pre-mount stage is scheduled.
	StateDirectiveDetected

	// StateStaged indicates the process runs in the private namespace and the
	// request targets the staging directory.
	StateStaged

	// StatePromoted indicates the subdirectory was bound onto the real target
	// and staging was torn down. Terminal.
	StatePromoted

	// StateAborted indicates the operation failed after detection. Terminal.
	StateAborted
)

// String returns a human-readable name for the state.
func (s OpState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDirectiveDetected:
		return "directive_detected"
	case StateStaged:
		return "staged"
	case StatePromoted:
		return "promoted"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Terminal reports whether no transition leaves s.
func (s OpState) Terminal() bool {
	return s == StatePromoted || s == StateAborted
}

// Transition describes a completed state change of an operation.
type Transition struct {
	ID     string
	Source string
	Target string
	Subdir string
	From   OpState
	To     OpState
	Err    error
	At     time.Time
}

// StateMachine manages operation state transitions with atomic operations.
type StateMachine struct {
	state atomic.Int32
}

// NewStateMachine creates a new state machine in the Idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// State returns the current state.
func (sm *StateMachine) State() OpState {
	return OpState(sm.state.Load())
}

// Transition attempts to transition from the expected state to the new state.
// Returns nil on success, or an error if the transition is invalid.
//
// Valid transitions:
//   - Idle -> DirectiveDetected (directive parsed)
//   - DirectiveDetected -> Staged (private namespace entered)
//   - Staged -> Promoted (subdirectory bound, staging removed)
//   - DirectiveDetected -> Aborted, Staged -> Aborted (any failure)
func (sm *StateMachine) Transition(from, to OpState) error {
	if !isValidTransition(from, to) {
		current := sm.State()
		return NewStateTransitionError(from.String(), to.String(), current.String())
	}

	if !sm.state.CompareAndSwap(int32(from), int32(to)) {
		current := sm.State()
		return NewStateTransitionError(from.String(), to.String(), current.String())
	}

	log.L.WithField("from", from.String()).WithField("to", to.String()).Debug("state transition")
	return nil
}

// Abort moves a non-terminal operation to Aborted and returns the state it
// left. Idle and terminal operations are left alone.
func (sm *StateMachine) Abort() (OpState, bool) {
	for {
		cur := sm.State()
		if !isValidTransition(cur, StateAborted) {
			return cur, false
		}
		if sm.state.CompareAndSwap(int32(cur), int32(StateAborted)) {
			log.L.WithField("from", cur.String()).Debug("state: aborted")
			return cur, true
		}
	}
}

func isValidTransition(from, to OpState) bool {
	switch from {
	case StateIdle:
		return to == StateDirectiveDetected
	case StateDirectiveDetected:
		return to == StateStaged || to == StateAborted
	case StateStaged:
		return to == StatePromoted || to == StateAborted
	default:
		return false // Terminal states
	}
}
