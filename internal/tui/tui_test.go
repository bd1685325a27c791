package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func testOptions() []Option {
	return []Option{
		{Key: "c", Label: "continue", Value: "continue"},
		{Key: "r", Label: "review", Value: "review"},
		{Key: "a", Label: "abort", Value: "abort"},
	}
}

func TestChooserEnterSelectsCursor(t *testing.T) {
	m := newChooser("t", nil, testOptions())
	next, _ := m.Update(keyMsg("down"))
	next, _ = next.Update(keyMsg("enter"))
	got := next.(chooserModel)
	assert.Equal(t, "review", got.choice)
	assert.False(t, got.aborted)
}

func TestChooserShortcutKey(t *testing.T) {
	m := newChooser("t", nil, testOptions())
	next, _ := m.Update(keyMsg("a"))
	got := next.(chooserModel)
	assert.Equal(t, "abort", got.choice)
}

func TestChooserEscAborts(t *testing.T) {
	m := newChooser("t", nil, testOptions())
	next, _ := m.Update(keyMsg("esc"))
	got := next.(chooserModel)
	assert.True(t, got.aborted)
	assert.Empty(t, got.choice)
}

func TestChooserCursorStaysInBounds(t *testing.T) {
	m := newChooser("t", nil, testOptions())
	var next tea.Model = m
	for i := 0; i < 5; i++ {
		next, _ = next.Update(keyMsg("down"))
	}
	assert.Equal(t, 2, next.(chooserModel).cursor)
	for i := 0; i < 5; i++ {
		next, _ = next.Update(keyMsg("up"))
	}
	assert.Equal(t, 0, next.(chooserModel).cursor)
}

func TestChooserViewListsOptions(t *testing.T) {
	m := newChooser("Escalation", []string{"Reason: stuck"}, testOptions())
	view := m.View()
	assert.Contains(t, view, "Escalation")
	assert.Contains(t, view, "Reason: stuck")
	for _, opt := range testOptions() {
		assert.Contains(t, view, opt.Label)
	}
}

func TestInputCollectsText(t *testing.T) {
	m := newInput("Guidance", "")
	var next tea.Model = m
	for _, r := range "go slower" {
		next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	next, _ = next.Update(keyMsg("enter"))
	got := next.(inputModel)
	require.True(t, got.done)
	assert.Equal(t, "go slower", got.input.Value())
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(StatusView{
		Runs: []store.Run{
			{ID: "run-1", Command: store.CommandRun, Status: store.RunActive, CurrentPhase: "2", CurrentState: "REVIEW"},
			{ID: "run-0", Command: store.CommandPlanReview, Status: store.RunCompleted},
		},
		Progress: []store.PhaseProgress{
			{Phase: "-1", Approved: true, ReviewOutcome: "ready"},
			{Phase: "1", Approved: true},
			{Phase: "2", ImplementationDone: true},
		},
		Events: []store.RunEvent{
			{Type: store.EventEscalation, Phase: "2", DataJSON: `{"reason":"quality gates still failing"}`},
		},
	})
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "plan")
	assert.Contains(t, out, "approved")
	assert.Contains(t, out, "implemented")
	assert.Contains(t, out, "quality gates still failing")
	assert.True(t, strings.Contains(out, "Escalations"))
}
