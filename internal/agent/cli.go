package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/ainvoke"
	"github.com/rs/zerolog/log"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
)

// Config describes how the CLI adapter launches an agent process.
type Config struct {
	Type   string   // claude, codex, gemini, opencode, or exec
	Cmd    []string // required for exec
	UseTTY bool
}

type agentSpec struct {
	defaultSubcommand string
	extraFlags        []string
	resumeFlag        string
}

var agentSpecs = map[string]agentSpec{
	"codex": {
		defaultSubcommand: "exec",
		extraFlags:        []string{"--full-auto", "--skip-git-repo-check"},
	},
	"opencode": {
		defaultSubcommand: "run",
	},
	"gemini": {
		extraFlags: []string{"--output-format", "text", "--approval-mode", "yolo"},
	},
	"claude": {
		extraFlags: []string{"--output-format", "text", "--print", "--dangerously-skip-permissions"},
		resumeFlag: "--resume",
	},
}

// CLIAdapter runs author and reviewer invocations through a coding agent CLI.
type CLIAdapter struct {
	cfg      Config
	repoRoot string
}

// NewCLIAdapter constructs the CLI-backed adapter.
func NewCLIAdapter(cfg Config, repoRoot string) (*CLIAdapter, error) {
	if cfg.Type == "exec" && len(cfg.Cmd) == 0 {
		return nil, fmt.Errorf("exec agent requires cmd")
	}
	if _, known := agentSpecs[cfg.Type]; !known && cfg.Type != "exec" {
		return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
	}
	return &CLIAdapter{cfg: cfg, repoRoot: repoRoot}, nil
}

// InvokeForStatus runs the agent and parses a validated author status.
func (a *CLIAdapter) InvokeForStatus(ctx context.Context, opts Options) (StatusResult, error) {
	out, usage, err := a.invoke(ctx, "author", opts, authorStatusSchema)
	if err != nil {
		return StatusResult{}, err
	}
	status, err := protocol.ParseAuthorStatus(out, opts.RequireCommit)
	if err != nil {
		if IsInvariantViolation(err) {
			return StatusResult{}, err
		}
		return StatusResult{}, &OutputError{Role: "author", Err: err}
	}
	return StatusResult{Status: status, Usage: usage}, nil
}

// InvokeForVerdict runs the agent and parses a validated reviewer verdict.
func (a *CLIAdapter) InvokeForVerdict(ctx context.Context, opts Options) (VerdictResult, error) {
	out, usage, err := a.invoke(ctx, "reviewer", opts, reviewerVerdictSchema)
	if err != nil {
		return VerdictResult{}, err
	}
	verdict, err := protocol.ParseReviewerVerdict(out)
	if err != nil {
		if IsInvariantViolation(err) {
			return VerdictResult{}, err
		}
		return VerdictResult{}, &OutputError{Role: "reviewer", Err: err}
	}
	return VerdictResult{Verdict: verdict, Usage: usage}, nil
}

func (a *CLIAdapter) invoke(ctx context.Context, role string, opts Options, outputSchema string) ([]byte, Usage, error) {
	started := time.Now()

	cmd, sessionID := a.command(opts)
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd:    cmd,
		UseTTY: a.cfg.UseTTY,
	})
	if err != nil {
		return nil, Usage{}, &SessionError{Err: err}
	}

	if opts.SessionID == "" && opts.OnSessionCreated != nil {
		// Fire-and-forget: the callback must never block the invocation.
		cb := opts.OnSessionCreated
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Interface("panic", r).Msg("session callback panicked")
				}
			}()
			cb(sessionID)
		}()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logFile, err := openLog(opts.LogPath)
	if err != nil {
		return nil, Usage{}, err
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	inv := ainvoke.Invocation{
		RunDir:       opts.Workdir,
		SystemPrompt: opts.Prompt,
		Input: map[string]any{
			"role":    role,
			"session": map[string]any{"id": sessionID, "title": opts.SessionTitle},
			"model":   opts.Model,
		},
		OutputSchema: outputSchema,
	}

	quiet := opts.Quiet != nil && opts.Quiet()
	stdout := streamWriter(logFile, quiet)
	stderr := streamWriter(logFile, quiet || !opts.ShowReasoning)

	out, _, exitCode, err := runner.Run(ctx, inv, ainvoke.WithStdout(stdout), ainvoke.WithStderr(stderr))
	usage := Usage{Duration: time.Since(started), SessionID: sessionID}
	if err != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return nil, usage, &TimeoutError{Role: role, Timeout: opts.Timeout}
		case ctx.Err() == context.Canceled:
			return nil, usage, context.Canceled
		default:
			return nil, usage, fmt.Errorf("invoke %s agent: %w", role, err)
		}
	}
	if exitCode != 0 {
		return nil, usage, fmt.Errorf("invoke %s agent: exit code %d", role, exitCode)
	}

	body, meta, err := splitOutput(out)
	if err != nil {
		return nil, usage, &OutputError{Role: role, Err: err}
	}
	usage.TokensIn = meta.TokensIn
	usage.TokensOut = meta.TokensOut
	usage.CostUSD = meta.CostUSD
	return body, usage, nil
}

func (a *CLIAdapter) command(opts Options) ([]string, string) {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}
	if a.cfg.Type == "exec" {
		return a.cfg.Cmd, sessionID
	}
	spec := agentSpecs[a.cfg.Type]
	cmd := []string{a.cfg.Type}
	if spec.defaultSubcommand != "" {
		cmd = append(cmd, spec.defaultSubcommand)
	}
	if opts.Model != "" {
		cmd = append(cmd, "--model", opts.Model)
	}
	if opts.SessionID != "" && spec.resumeFlag != "" {
		cmd = append(cmd, spec.resumeFlag, opts.SessionID)
	}
	cmd = append(cmd, spec.extraFlags...)
	return cmd, sessionID
}

type outputMeta struct {
	TokensIn  int64
	TokensOut int64
	CostUSD   *float64
}

// splitOutput separates the structured result document from the optional
// trailing usage envelope the agent CLIs append.
func splitOutput(out []byte) ([]byte, outputMeta, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Usage  *struct {
			TokensIn  int64    `json:"tokens_in"`
			TokensOut int64    `json:"tokens_out"`
			CostUSD   *float64 `json:"cost_usd"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		return nil, outputMeta{}, fmt.Errorf("decode agent output: %w", err)
	}
	if envelope.Result == nil {
		// Bare document without an envelope.
		return out, outputMeta{}, nil
	}
	meta := outputMeta{}
	if envelope.Usage != nil {
		meta.TokensIn = envelope.Usage.TokensIn
		meta.TokensOut = envelope.Usage.TokensOut
		meta.CostUSD = envelope.Usage.CostUSD
	}
	return envelope.Result, meta, nil
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open agent log: %w", err)
	}
	return f, nil
}
