package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/agent"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/config"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/gate"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/logging"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/prompt"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/quality"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
)

// RoleConfig carries per-role invocation settings.
type RoleConfig struct {
	Model   string
	Timeout time.Duration
}

// Config parameterizes the orchestrator.
type Config struct {
	// PlanPath is the plan document to execute or review.
	PlanPath string
	// ReviewPath is the configured review file. It may contain a "{phase}"
	// token. Empty means derive a default under ReviewsDir.
	ReviewPath string
	// ReviewsDir is where derived review files live. Stored review paths
	// outside this directory are not reused.
	ReviewsDir string
	// ProjectRoot anchors the .5x state directory.
	ProjectRoot string
	// Workdir is where agents and quality gates run. Empty means the
	// project root.
	Workdir string

	QualityGates []string
	Limits       config.Limits
	Author       RoleConfig
	Reviewer     RoleConfig

	// Auto runs unattended: escalations retry up to Limits.MaxAutoRetries
	// and then abort instead of blocking on a human.
	Auto bool
	// SkipQuality bypasses quality gates for this run.
	SkipQuality bool
	// StartPhase, when set, skips plan phases that precede it.
	StartPhase string

	ShowReasoning bool
	// Quiet is re-evaluated per invocation.
	Quiet func() bool
	// OnSessionCreated is notified best-effort when an agent session is
	// created, so a UI can offer attaching to it.
	OnSessionCreated func(sessionID string)
}

// Result summarizes a run.
type Result struct {
	RunID           string
	TotalPhases     int
	PhasesCompleted int
	Complete        bool
	Aborted         bool
	Escalations     []gate.Escalation
}

// Engine drives the author and reviewer agents through a plan.
type Engine struct {
	store    *store.Store
	author   agent.Adapter
	reviewer agent.Adapter
	quality  quality.Runner
	gates    gate.Gates
	cfg      Config
	log      zerolog.Logger
}

// New constructs an engine. Nil gate members fall back to headless defaults.
func New(st *store.Store, author, reviewer agent.Adapter, q quality.Runner, gates gate.Gates, cfg Config) *Engine {
	if cfg.Reviewer.Timeout == 0 {
		cfg.Reviewer.Timeout = config.DefaultReviewerTimeout
	}
	if cfg.Workdir == "" {
		cfg.Workdir = cfg.ProjectRoot
	}
	return &Engine{
		store:    st,
		author:   author,
		reviewer: reviewer,
		quality:  q,
		gates:    gate.Merge(gate.Headless(), gates),
		cfg:      cfg,
		log:      logging.Component("engine"),
	}
}

func eventData(kv map[string]any) string {
	b, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(b)
}

// newLogPath allocates the agent event log file for one invocation. The path
// is computed before invoking so failure reports can still reference it.
func (e *Engine) newLogPath(runID string) string {
	dir := filepath.Join(e.cfg.ProjectRoot, ".5x", "logs", runID)
	_ = os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, "agent-"+uuid.NewString()+".ndjson")
}

var (
	authorTemplates   = []string{prompt.AuthorPhase, prompt.AuthorQualityFix, prompt.AuthorAutoFix, prompt.AuthorContinue, prompt.PlanAutoFix}
	reviewerTemplates = []string{prompt.ReviewerPhase, prompt.ReviewerFollowup, prompt.PlanReview}
)

// findStep looks up a stored agent result for the step key, trying the
// preferred template first and then the role's other templates. Older runs
// may have recorded a different template than the resumed state implies.
func (e *Engine) findStep(ctx context.Context, runID, role, phase string, iteration int, preferred string, resultType string) (*store.AgentResult, error) {
	candidates := reviewerTemplates
	if role == store.RoleAuthor {
		candidates = authorTemplates
	}
	ordered := make([]string, 0, len(candidates))
	ordered = append(ordered, preferred)
	for _, tmpl := range candidates {
		if tmpl != preferred {
			ordered = append(ordered, tmpl)
		}
	}
	for _, tmpl := range ordered {
		ok, err := e.store.HasCompletedStep(ctx, runID, role, phase, iteration, tmpl, resultType)
		if err != nil {
			return nil, err
		}
		if ok {
			r, err := e.store.GetStepResult(ctx, runID, role, phase, iteration, tmpl, resultType)
			if err != nil {
				return nil, err
			}
			return &r, nil
		}
	}
	return nil, nil
}

func usageFromRow(r store.AgentResult) agent.Usage {
	return agent.Usage{
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
		SessionID: r.SessionID,
		TokensIn:  r.TokensIn,
		TokensOut: r.TokensOut,
		CostUSD:   r.CostUSD,
	}
}

// stepRequest describes one agent step inside a run.
type stepRequest struct {
	runID         string
	phase         string
	template      string
	data          prompt.Data
	sessionID     string
	title         string
	requireCommit bool
}

// authorStep runs one author invocation, or replays the stored result when
// the step was already completed by an interrupted process. The iteration
// counter advances after every attempt, replayed or not.
func (e *Engine) authorStep(ctx context.Context, req stepRequest, iteration *int) (protocol.AuthorStatus, agent.Usage, string, error) {
	stored, err := e.findStep(ctx, req.runID, store.RoleAuthor, req.phase, *iteration, req.template, store.ResultTypeStatus)
	if err != nil {
		return protocol.AuthorStatus{}, agent.Usage{}, "", err
	}
	if stored != nil {
		*iteration++
		e.log.Info().Str("phase", req.phase).Int("iteration", stored.Iteration).Msg("replaying stored author step")
		status, err := protocol.ParseAuthorStatus([]byte(stored.ResultJSON), req.requireCommit)
		return status, usageFromRow(*stored), stored.LogPath, err
	}

	logPath := e.newLogPath(req.runID)
	text, err := prompt.Render(req.template, req.data)
	if err != nil {
		return protocol.AuthorStatus{}, agent.Usage{}, logPath, err
	}
	if err := e.store.AppendRunEvent(ctx, store.RunEvent{
		RunID:     req.runID,
		Type:      store.EventAgentInvoke,
		Phase:     req.phase,
		Iteration: *iteration,
		DataJSON:  eventData(map[string]any{"role": store.RoleAuthor, "template": req.template, "log_path": logPath}),
	}); err != nil {
		return protocol.AuthorStatus{}, agent.Usage{}, logPath, err
	}

	res, invokeErr := e.author.InvokeForStatus(ctx, agent.Options{
		Prompt:           text,
		Model:            e.cfg.Author.Model,
		Timeout:          e.cfg.Author.Timeout,
		Workdir:          e.cfg.Workdir,
		LogPath:          logPath,
		Quiet:            e.cfg.Quiet,
		ShowReasoning:    e.cfg.ShowReasoning,
		SessionTitle:     req.title,
		SessionID:        req.sessionID,
		RequireCommit:    req.requireCommit,
		OnSessionCreated: e.cfg.OnSessionCreated,
	})
	iter := *iteration
	*iteration++
	if invokeErr != nil {
		return protocol.AuthorStatus{}, res.Usage, logPath, invokeErr
	}
	body, err := json.Marshal(res.Status)
	if err != nil {
		return res.Status, res.Usage, logPath, err
	}
	if err := e.store.UpsertAgentResult(ctx, store.AgentResult{
		RunID:      req.runID,
		Phase:      req.phase,
		Iteration:  iter,
		Role:       store.RoleAuthor,
		Template:   req.template,
		ResultType: store.ResultTypeStatus,
		ResultJSON: string(body),
		DurationMS: res.Usage.Duration.Milliseconds(),
		LogPath:    logPath,
		SessionID:  res.Usage.SessionID,
		Model:      e.cfg.Author.Model,
		TokensIn:   res.Usage.TokensIn,
		TokensOut:  res.Usage.TokensOut,
		CostUSD:    res.Usage.CostUSD,
	}); err != nil {
		return res.Status, res.Usage, logPath, err
	}
	return res.Status, res.Usage, logPath, nil
}

// reviewerStep is authorStep's counterpart for verdict-producing calls.
func (e *Engine) reviewerStep(ctx context.Context, req stepRequest, iteration *int) (protocol.ReviewerVerdict, agent.Usage, string, error) {
	stored, err := e.findStep(ctx, req.runID, store.RoleReviewer, req.phase, *iteration, req.template, store.ResultTypeVerdict)
	if err != nil {
		return protocol.ReviewerVerdict{}, agent.Usage{}, "", err
	}
	if stored != nil {
		*iteration++
		e.log.Info().Str("phase", req.phase).Int("iteration", stored.Iteration).Msg("replaying stored reviewer step")
		verdict, err := protocol.ParseReviewerVerdict([]byte(stored.ResultJSON))
		return verdict, usageFromRow(*stored), stored.LogPath, err
	}

	logPath := e.newLogPath(req.runID)
	text, err := prompt.Render(req.template, req.data)
	if err != nil {
		return protocol.ReviewerVerdict{}, agent.Usage{}, logPath, err
	}
	if err := e.store.AppendRunEvent(ctx, store.RunEvent{
		RunID:     req.runID,
		Type:      store.EventAgentInvoke,
		Phase:     req.phase,
		Iteration: *iteration,
		DataJSON:  eventData(map[string]any{"role": store.RoleReviewer, "template": req.template, "log_path": logPath}),
	}); err != nil {
		return protocol.ReviewerVerdict{}, agent.Usage{}, logPath, err
	}

	res, invokeErr := e.reviewer.InvokeForVerdict(ctx, agent.Options{
		Prompt:           text,
		Model:            e.cfg.Reviewer.Model,
		Timeout:          e.cfg.Reviewer.Timeout,
		Workdir:          e.cfg.Workdir,
		LogPath:          logPath,
		Quiet:            e.cfg.Quiet,
		ShowReasoning:    e.cfg.ShowReasoning,
		SessionTitle:     req.title,
		SessionID:        req.sessionID,
		OnSessionCreated: e.cfg.OnSessionCreated,
	})
	iter := *iteration
	*iteration++
	if invokeErr != nil {
		return protocol.ReviewerVerdict{}, res.Usage, logPath, invokeErr
	}
	body, err := json.Marshal(res.Verdict)
	if err != nil {
		return res.Verdict, res.Usage, logPath, err
	}
	if err := e.store.UpsertAgentResult(ctx, store.AgentResult{
		RunID:      req.runID,
		Phase:      req.phase,
		Iteration:  iter,
		Role:       store.RoleReviewer,
		Template:   req.template,
		ResultType: store.ResultTypeVerdict,
		ResultJSON: string(body),
		DurationMS: res.Usage.Duration.Milliseconds(),
		LogPath:    logPath,
		SessionID:  res.Usage.SessionID,
		Model:      e.cfg.Reviewer.Model,
		TokensIn:   res.Usage.TokensIn,
		TokensOut:  res.Usage.TokensOut,
		CostUSD:    res.Usage.CostUSD,
	}); err != nil {
		return res.Verdict, res.Usage, logPath, err
	}
	return res.Verdict, res.Usage, logPath, nil
}

// abortRun finalizes a run as aborted.
func (e *Engine) abortRun(ctx context.Context, runID, phase, reason string) {
	if err := e.store.AppendRunEvent(ctx, store.RunEvent{
		RunID:    runID,
		Type:     store.EventRunAbort,
		Phase:    phase,
		DataJSON: eventData(map[string]any{"reason": reason}),
	}); err != nil {
		e.log.Error().Err(err).Msg("record run abort")
	}
	state := string(StateAborted)
	if err := e.store.UpdateRunStatus(ctx, runID, store.RunAborted, &state, &phase); err != nil {
		e.log.Error().Err(err).Msg("mark run aborted")
	}
	e.log.Warn().Str("run", runID).Str("reason", reason).Msg("run aborted")
}

// completeRun finalizes a run as completed.
func (e *Engine) completeRun(ctx context.Context, runID, phase string) error {
	if err := e.store.AppendRunEvent(ctx, store.RunEvent{RunID: runID, Type: store.EventRunComplete, Phase: phase}); err != nil {
		return err
	}
	return e.store.UpdateRunStatus(ctx, runID, store.RunCompleted, nil, nil)
}

// escalationReason renders a human-readable reason from an invocation error.
func escalationReason(role string, err error) string {
	switch {
	case agent.IsTimeout(err):
		return role + " timed out: " + err.Error()
	case agent.IsInvariantViolation(err):
		return role + " output violated protocol: " + err.Error()
	default:
		return role + " invocation failed: " + err.Error()
	}
}
