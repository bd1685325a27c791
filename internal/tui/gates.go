package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/gate"
)

// Gates returns the terminal-backed gate set for attended runs.
func Gates() gate.Gates {
	return gate.Gates{
		Phase:      phaseGate,
		Escalation: escalationGate,
		Resume:     resumeGate,
		Human:      humanGate,
	}
}

func runChooser(ctx context.Context, m chooserModel) (chooserModel, error) {
	p := tea.NewProgram(m, tea.WithContext(ctx))
	out, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			m.aborted = true
			return m, nil
		}
		return m, fmt.Errorf("gate prompt: %w", err)
	}
	return out.(chooserModel), nil
}

func runInput(ctx context.Context, promptText, placeholder string) (string, error) {
	p := tea.NewProgram(newInput(promptText, placeholder), tea.WithContext(ctx))
	out, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		return "", fmt.Errorf("guidance prompt: %w", err)
	}
	m := out.(inputModel)
	if m.aborted {
		return "", nil
	}
	return m.input.Value(), nil
}

func phaseGate(ctx context.Context, summary gate.PhaseSummary) (gate.PhaseDecision, error) {
	details := []string{
		"Phase " + summary.Phase + ": " + summary.Title,
		"Commit: " + summary.Commit,
		"Review: " + summary.ReviewPath,
		fmt.Sprintf("Agent steps: %d", summary.Iterations),
	}
	m, err := runChooser(ctx, newChooser("Phase approved by the reviewer", details, []Option{
		{Key: "c", Label: "continue to the next phase", Value: string(gate.PhaseContinue)},
		{Key: "r", Label: "stop here and review manually", Value: string(gate.PhaseReview)},
		{Key: "a", Label: "abort the run", Value: string(gate.PhaseAbort)},
	}))
	if err != nil {
		return gate.PhaseAbort, err
	}
	if m.aborted || m.choice == "" {
		return gate.PhaseAbort, nil
	}
	return gate.PhaseDecision(m.choice), nil
}

func escalationGate(ctx context.Context, esc gate.Escalation) (gate.EscalationDecision, error) {
	details := []string{
		"Phase: " + esc.Phase,
		"State: " + esc.State,
		"Reason: " + esc.Reason,
	}
	if esc.LogPath != "" {
		details = append(details, "Log: "+esc.LogPath)
	}
	options := []Option{
		{Key: "c", Label: "retry with guidance", Value: string(gate.EscalationContinue)},
	}
	if esc.SessionID != "" {
		options = append(options, Option{Key: "s", Label: "continue the agent session", Value: string(gate.EscalationContinueSession)})
	}
	options = append(options,
		Option{Key: "f", Label: "force approve this phase", Value: string(gate.EscalationApprove)},
		Option{Key: "a", Label: "abort the run", Value: string(gate.EscalationAbort)},
	)
	m, err := runChooser(ctx, newChooser("Escalation", details, options))
	if err != nil {
		return gate.EscalationDecision{Action: gate.EscalationAbort}, err
	}
	if m.aborted || m.choice == "" {
		return gate.EscalationDecision{Action: gate.EscalationAbort}, nil
	}
	dec := gate.EscalationDecision{Action: gate.EscalationAction(m.choice)}
	if dec.Action == gate.EscalationContinue || dec.Action == gate.EscalationContinueSession {
		guidance, err := runInput(ctx, "Guidance for the agent", "enter to skip")
		if err != nil {
			return gate.EscalationDecision{Action: gate.EscalationAbort}, err
		}
		dec.Guidance = guidance
	}
	return dec, nil
}

func resumeGate(ctx context.Context, req gate.ResumeRequest) (gate.ResumeDecision, error) {
	details := []string{
		"Run: " + req.RunID,
		"Phase: " + req.Phase,
		"State: " + req.State,
	}
	m, err := runChooser(ctx, newChooser("An interrupted run exists for this plan", details, []Option{
		{Key: "r", Label: "resume where it stopped", Value: string(gate.ResumeRun)},
		{Key: "f", Label: "start fresh", Value: string(gate.ResumeFresh)},
		{Key: "a", Label: "abort", Value: string(gate.ResumeAbort)},
	}))
	if err != nil {
		return gate.ResumeAbort, err
	}
	if m.aborted || m.choice == "" {
		return gate.ResumeAbort, nil
	}
	return gate.ResumeDecision(m.choice), nil
}

func humanGate(ctx context.Context, promptText string) (bool, error) {
	m, err := runChooser(ctx, newChooser(promptText, nil, []Option{
		{Key: "y", Label: "yes", Value: "yes"},
		{Key: "n", Label: "no", Value: "no"},
	}))
	if err != nil {
		return false, err
	}
	return !m.aborted && m.choice == "yes", nil
}
