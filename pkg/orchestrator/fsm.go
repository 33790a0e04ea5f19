package orchestrator

import (
	"fmt"
	"slices"

	"foamagent/pkg/proto"
)

// This transition table is the single source of truth for run states. Tests
// walk it to check every path ends in DONE or FAILED.

// Orchestrator states.
const (
	StatePlanning   proto.State = "PLANNING"
	StateWriting    proto.State = "WRITING"
	StateRunning    proto.State = "RUNNING"
	StateReviewing  proto.State = "REVIEWING"
	StateReplanning proto.State = "REPLANNING"
	StateDone       proto.State = "DONE"
	StateFailed     proto.State = "FAILED"
)

var transitions = map[proto.State][]proto.State{ //nolint:gochecknoglobals // canonical table
	// PLANNING produces the full plan, or fails on a cycle or LLM error.
	StatePlanning: {StateWriting, StateFailed},

	// WRITING commits every file of the current (sub-)plan.
	StateWriting: {StateRunning, StateFailed},

	// RUNNING executes the bundle; a result always goes to review.
	StateRunning: {StateReviewing, StateFailed},

	// REVIEWING ends the run or restricts the plan to implicated files.
	StateReviewing: {StateDone, StateReplanning, StateFailed},

	// REPLANNING hands the restricted plan back to the writer.
	StateReplanning: {StateWriting, StateFailed},
}

// GetAllStates returns all states in deterministic order.
func GetAllStates() []proto.State {
	return []proto.State{
		StatePlanning, StateWriting, StateRunning, StateReviewing,
		StateReplanning, StateDone, StateFailed,
	}
}

// ValidateState checks if a state is known.
func ValidateState(state proto.State) error {
	if slices.Contains(GetAllStates(), state) {
		return nil
	}
	return fmt.Errorf("invalid orchestrator state: %s", state)
}

// ValidNextStates returns the allowed next states for a given state.
func ValidNextStates(from proto.State) []proto.State {
	return transitions[from]
}

// IsValidTransition checks if a transition between two states is allowed.
func IsValidTransition(from, to proto.State) bool {
	return slices.Contains(ValidNextStates(from), to)
}

// IsTerminalState returns true for DONE and FAILED.
func IsTerminalState(state proto.State) bool {
	return state == StateDone || state == StateFailed
}
