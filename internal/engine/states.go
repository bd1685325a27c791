// Package engine implements the per-phase execution state machine and the
// plan-review loop.
package engine

// State labels a position in the execution state machine. The label is
// persisted on the run record so an interrupted process can resume exactly
// where it stopped.
type State string

// Phase execution states.
const (
	StateExecute       State = "EXECUTE"
	StateQualityCheck  State = "QUALITY_CHECK"
	StateQualityRetry  State = "QUALITY_RETRY"
	StateReview        State = "REVIEW"
	StateAutoFix       State = "AUTO_FIX"
	StateEscalate      State = "ESCALATE"
	StatePhaseGate     State = "PHASE_GATE"
	StatePhaseComplete State = "PHASE_COMPLETE"
	StateAborted       State = "ABORTED"

	// StateApproved terminates the plan-review loop.
	StateApproved State = "APPROVED"
)

var knownStates = map[State]bool{
	StateExecute:       true,
	StateQualityCheck:  true,
	StateQualityRetry:  true,
	StateReview:        true,
	StateAutoFix:       true,
	StateEscalate:      true,
	StatePhaseGate:     true,
	StatePhaseComplete: true,
	StateAborted:       true,
	StateApproved:      true,
}

// legacyStates maps state labels written by older binaries onto the current
// set. Once deployed versions drop support the table can be deleted without
// touching the state machine.
var legacyStates = map[State]State{
	"PARSE_AUTHOR_STATUS": StateExecute,
	"PARSE_VERDICT":       StateReview,
	"PARSE_FIX_STATUS":    StateAutoFix,
}

// NormalizeState validates a persisted state label. The second return is
// true when the label came from the legacy table, which changes how the
// resume iteration is derived: the agent result for a legacy parse state
// already exists and must be replayed rather than re-invoked.
func NormalizeState(raw string) (state State, legacy, ok bool) {
	s := State(raw)
	if mapped, isLegacy := legacyStates[s]; isLegacy {
		return mapped, true, true
	}
	if knownStates[s] {
		return s, false, true
	}
	return "", false, false
}

// IsTerminal reports whether a persisted state should not be resumed into.
// Auto mode starts fresh instead of resuming a run parked at one of these,
// which would otherwise livelock.
func IsTerminal(s State) bool {
	return s == StateEscalate || s == StateAborted
}
