package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case store.RunCompleted:
		return okStyle
	case store.RunActive:
		return warnStyle
	default:
		return failStyle
	}
}

// StatusView bundles what the status command shows for one plan.
type StatusView struct {
	Runs     []store.Run
	Progress []store.PhaseProgress
	Events   []store.RunEvent
}

// RenderStatus renders runs, phase progress and recent escalations as
// styled terminal text.
func RenderStatus(v StatusView) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Runs"))
	b.WriteString("\n")
	if len(v.Runs) == 0 {
		b.WriteString(detailStyle.Render("  no runs recorded"))
		b.WriteString("\n")
	}
	for _, r := range v.Runs {
		line := fmt.Sprintf("  %s  %-11s  %s", r.ID, r.Command, statusStyle(r.Status).Render(r.Status))
		if r.Status == store.RunActive && r.CurrentState != "" {
			line += detailStyle.Render(fmt.Sprintf("  (phase %s, %s)", r.CurrentPhase, r.CurrentState))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Phases"))
	b.WriteString("\n")
	if len(v.Progress) == 0 {
		b.WriteString(detailStyle.Render("  no phase progress recorded"))
		b.WriteString("\n")
	}
	for _, p := range v.Progress {
		mark := failStyle.Render("pending")
		if p.Approved {
			mark = okStyle.Render("approved")
		} else if p.ImplementationDone {
			mark = warnStyle.Render("implemented")
		}
		label := p.Phase
		if p.Phase == "-1" {
			label = "plan"
		}
		line := fmt.Sprintf("  %-6s %s", label, mark)
		if p.ReviewOutcome != "" {
			line += detailStyle.Render("  review: " + p.ReviewOutcome)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	escalations := escalationLines(v.Events)
	if len(escalations) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Escalations"))
		b.WriteString("\n")
		for _, line := range escalations {
			b.WriteString("  " + failStyle.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func escalationLines(events []store.RunEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type != store.EventEscalation {
			continue
		}
		var data struct {
			Reason string `json:"reason"`
		}
		reason := ev.DataJSON
		if json.Unmarshal([]byte(ev.DataJSON), &data) == nil && data.Reason != "" {
			reason = data.Reason
		}
		out = append(out, fmt.Sprintf("phase %s: %s", ev.Phase, reason))
	}
	return out
}

// RenderReview renders a review markdown document for the terminal.
func RenderReview(path string) (string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read review: %w", err)
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return "", fmt.Errorf("init renderer: %w", err)
	}
	out, err := r.Render(string(body))
	if err != nil {
		return "", fmt.Errorf("render review: %w", err)
	}
	return out, nil
}
