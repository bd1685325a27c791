// Package gate defines the human decision points the orchestrator routes
// through. Gates are function-typed so headless defaults, tests, and the
// terminal UI can all be injected the same way.
package gate

import "context"

// PhaseDecision is the outcome of the end-of-phase gate.
type PhaseDecision string

// Phase gate outcomes.
const (
	PhaseContinue PhaseDecision = "continue"
	PhaseReview   PhaseDecision = "review"
	PhaseAbort    PhaseDecision = "abort"
)

// EscalationAction is the outcome of the escalation gate.
type EscalationAction string

// Escalation gate actions.
const (
	EscalationContinue        EscalationAction = "continue"
	EscalationContinueSession EscalationAction = "continue_session"
	EscalationApprove         EscalationAction = "approve"
	EscalationAbort           EscalationAction = "abort"
)

// ResumeDecision is the outcome of the resume gate.
type ResumeDecision string

// Resume gate outcomes.
const (
	ResumeRun   ResumeDecision = "resume"
	ResumeFresh ResumeDecision = "start_fresh"
	ResumeAbort ResumeDecision = "abort"
)

// PhaseSummary is shown at the phase gate.
type PhaseSummary struct {
	Phase      string
	Title      string
	Commit     string
	ReviewPath string
	Iterations int
}

// Escalation describes a condition the orchestrator could not resolve.
type Escalation struct {
	Phase     string
	State     string
	Reason    string
	LogPath   string
	SessionID string
}

// EscalationDecision pairs the chosen action with optional guidance that is
// plumbed into the next prompt.
type EscalationDecision struct {
	Action   EscalationAction
	Guidance string
}

// ResumeRequest describes a persisted active run found on entry.
type ResumeRequest struct {
	RunID string
	Phase string
	State string
}

// Gates bundles the decision points the loops consult. Any nil member falls
// back to the headless default. Gates may block indefinitely; they must
// respect the context and resolve to abort when it is cancelled.
type Gates struct {
	Phase      func(ctx context.Context, summary PhaseSummary) (PhaseDecision, error)
	Escalation func(ctx context.Context, esc Escalation) (EscalationDecision, error)
	Resume     func(ctx context.Context, req ResumeRequest) (ResumeDecision, error)
	Human      func(ctx context.Context, prompt string) (bool, error)
}

// Headless returns the default gate set for unattended operation: proceed at
// phase gates, abort on escalations, resume existing runs.
func Headless() Gates {
	return Gates{
		Phase: func(ctx context.Context, _ PhaseSummary) (PhaseDecision, error) {
			if err := ctx.Err(); err != nil {
				return PhaseAbort, nil
			}
			return PhaseContinue, nil
		},
		Escalation: func(ctx context.Context, _ Escalation) (EscalationDecision, error) {
			return EscalationDecision{Action: EscalationAbort}, nil
		},
		Resume: func(ctx context.Context, _ ResumeRequest) (ResumeDecision, error) {
			if err := ctx.Err(); err != nil {
				return ResumeAbort, nil
			}
			return ResumeRun, nil
		},
		Human: func(ctx context.Context, _ string) (bool, error) {
			return true, nil
		},
	}
}

// Merge overlays non-nil members of override onto base.
func Merge(base, override Gates) Gates {
	out := base
	if override.Phase != nil {
		out.Phase = override.Phase
	}
	if override.Escalation != nil {
		out.Escalation = override.Escalation
	}
	if override.Resume != nil {
		out.Resume = override.Resume
	}
	if override.Human != nil {
		out.Human = override.Human
	}
	return out
}
