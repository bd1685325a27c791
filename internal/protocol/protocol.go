// Package protocol defines the structured outputs exchanged with agents.
//
// Agent responses are modeled as tagged types. Each type has a single
// assertion function called at the boundary where the value enters the
// orchestrator; downstream code switches on the tag and never re-parses.
package protocol

import (
	"encoding/json"
	"fmt"
)

// AuthorResult tags an author status.
type AuthorResult string

// Author result values.
const (
	AuthorComplete   AuthorResult = "complete"
	AuthorNeedsHuman AuthorResult = "needs_human"
	AuthorFailed     AuthorResult = "failed"
)

// AuthorStatus is the author agent's structured output.
type AuthorStatus struct {
	Result AuthorResult `json:"result"`
	Commit string       `json:"commit,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Notes  string       `json:"notes,omitempty"`
}

// InvariantError reports a parseable agent output that violates a protocol
// invariant.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

func invariant(format string, args ...any) error {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

// AssertAuthorStatus validates an author status. requireCommit is set when
// the status answers an implementation step, where a successful result must
// name the commit it produced.
func AssertAuthorStatus(s AuthorStatus, requireCommit bool) error {
	switch s.Result {
	case AuthorComplete:
		if requireCommit && s.Commit == "" {
			return invariant("author status: result %q requires a commit", s.Result)
		}
	case AuthorNeedsHuman, AuthorFailed:
		if s.Reason == "" {
			return invariant("author status: result %q requires a reason", s.Result)
		}
	default:
		return invariant("author status: unknown result %q", s.Result)
	}
	return nil
}

// Readiness tags a reviewer verdict.
type Readiness string

// Readiness values.
const (
	Ready                Readiness = "ready"
	ReadyWithCorrections Readiness = "ready_with_corrections"
	NotReady             Readiness = "not_ready"
)

// ItemAction classifies how a review item should be resolved.
type ItemAction string

// Review item actions.
const (
	ActionAutoFix       ItemAction = "auto_fix"
	ActionHumanRequired ItemAction = "human_required"
	ActionInformational ItemAction = "informational"
)

// ReviewItem is a single actionable finding in a verdict.
type ReviewItem struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Action   ItemAction `json:"action"`
	Reason   string     `json:"reason,omitempty"`
	Priority string     `json:"priority,omitempty"`
}

// ReviewerVerdict is the reviewer agent's structured output.
type ReviewerVerdict struct {
	Readiness Readiness    `json:"readiness"`
	Items     []ReviewItem `json:"items"`
	Summary   string       `json:"summary,omitempty"`
}

// AssertReviewerVerdict validates a reviewer verdict.
func AssertReviewerVerdict(v ReviewerVerdict) error {
	switch v.Readiness {
	case Ready:
		if len(v.Items) != 0 {
			return invariant("reviewer verdict: readiness %q requires empty items, got %d", v.Readiness, len(v.Items))
		}
	case ReadyWithCorrections, NotReady:
		if len(v.Items) == 0 {
			return invariant("reviewer verdict: readiness %q requires at least one item", v.Readiness)
		}
	default:
		return invariant("reviewer verdict: unknown readiness %q", v.Readiness)
	}
	for i, item := range v.Items {
		switch item.Action {
		case ActionAutoFix, ActionHumanRequired, ActionInformational:
		default:
			return invariant("reviewer verdict: item %d has unknown action %q", i, item.Action)
		}
	}
	return nil
}

// HasAction reports whether any item carries the given action.
func (v ReviewerVerdict) HasAction(action ItemAction) bool {
	for _, item := range v.Items {
		if item.Action == action {
			return true
		}
	}
	return false
}

// ParseAuthorStatus decodes and asserts an author status document.
func ParseAuthorStatus(data []byte, requireCommit bool) (AuthorStatus, error) {
	var s AuthorStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return AuthorStatus{}, fmt.Errorf("parse author status: %w", err)
	}
	if err := AssertAuthorStatus(s, requireCommit); err != nil {
		return AuthorStatus{}, err
	}
	return s, nil
}

// ParseReviewerVerdict decodes and asserts a reviewer verdict document.
func ParseReviewerVerdict(data []byte) (ReviewerVerdict, error) {
	var v ReviewerVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		return ReviewerVerdict{}, fmt.Errorf("parse reviewer verdict: %w", err)
	}
	if err := AssertReviewerVerdict(v); err != nil {
		return ReviewerVerdict{}, err
	}
	return v, nil
}
