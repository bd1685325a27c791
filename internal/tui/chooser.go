// Package tui implements the terminal decision gates and status rendering.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	selectedStyle = lipgloss.NewStyle().Bold(true)
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Option is one selectable gate outcome.
type Option struct {
	Key   string
	Label string
	Value string
}

type chooserModel struct {
	title   string
	details []string
	options []Option
	cursor  int
	choice  string
	aborted bool
}

func newChooser(title string, details []string, options []Option) chooserModel {
	return chooserModel{title: title, details: details, options: options}
}

func (m chooserModel) Init() tea.Cmd { return nil }

func (m chooserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.aborted = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case "enter":
		m.choice = m.options[m.cursor].Value
		return m, tea.Quit
	default:
		for i, opt := range m.options {
			if key.String() == opt.Key {
				m.cursor = i
				m.choice = opt.Value
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m chooserModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	for _, line := range m.details {
		b.WriteString(detailStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for i, opt := range m.options {
		cursor := "  "
		label := opt.Label
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
			label = selectedStyle.Render(label)
		}
		b.WriteString(cursor)
		b.WriteString(keyStyle.Render("[" + opt.Key + "] "))
		b.WriteString(label)
		b.WriteString("\n")
	}
	return b.String()
}

type inputModel struct {
	prompt  string
	input   textinput.Model
	done    bool
	aborted bool
}

func newInput(promptText, placeholder string) inputModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	return inputModel{prompt: promptText, input: ti}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	return titleStyle.Render(m.prompt) + "\n" + m.input.View() + "\n"
}
