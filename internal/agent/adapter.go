// Package agent defines the adapter contract the orchestrator invokes agents
// through, plus the production CLI-backed implementation.
package agent

import (
	"context"
	"time"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
)

// Options parameterizes a single agent invocation.
type Options struct {
	// Prompt is the fully rendered prompt text.
	Prompt string
	// Model is the target model in provider/model form.
	Model string
	// Timeout bounds the invocation. Zero means no adapter-level timeout.
	Timeout time.Duration
	// Workdir optionally binds the agent session to a directory.
	Workdir string
	// LogPath is the file the adapter streams per-event records to. It is
	// computed by the caller before invocation so failure paths can still
	// reference it.
	LogPath string
	// Quiet is re-evaluated at each call so UI state flips mid-run are
	// honored. Nil means not quiet.
	Quiet func() bool
	// ShowReasoning asks the adapter to surface model reasoning output.
	ShowReasoning bool
	// SessionTitle is a descriptive title for the agent session.
	SessionTitle string
	// SessionID, when set, continues a prior agent session.
	SessionID string
	// RequireCommit is set when the resulting author status answers an
	// implementation step and must carry a commit on success.
	RequireCommit bool
	// OnSessionCreated is invoked best-effort with the new session id.
	// A failing or hanging callback must not block the invocation.
	OnSessionCreated func(sessionID string)
}

// Usage carries accounting for one invocation. CostUSD of zero is distinct
// from unknown (nil).
type Usage struct {
	Duration  time.Duration
	SessionID string
	TokensIn  int64
	TokensOut int64
	CostUSD   *float64
}

// StatusResult is a validated author invocation result.
type StatusResult struct {
	Status protocol.AuthorStatus
	Usage  Usage
}

// VerdictResult is a validated reviewer invocation result.
type VerdictResult struct {
	Verdict protocol.ReviewerVerdict
	Usage   Usage
}

// Adapter invokes agents and returns validated structured outputs.
type Adapter interface {
	InvokeForStatus(ctx context.Context, opts Options) (StatusResult, error)
	InvokeForVerdict(ctx context.Context, opts Options) (VerdictResult, error)
}
