package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/agent"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/gate"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/plan"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/prompt"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/quality"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
)

// resumePoint is where a restarted process re-enters the state machine.
type resumePoint struct {
	phase  string
	state  State
	legacy bool
}

type phaseOutcome int

const (
	phaseCompleted phaseOutcome = iota
	phaseAborted
	// phaseHalted stops the run without finalizing it; the run record stays
	// active so a later invocation resumes it.
	phaseHalted
)

// Run executes the plan phase by phase until every phase is approved, a
// gate aborts, or the process is interrupted.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	pl, err := plan.Parse(e.cfg.PlanPath)
	if err != nil {
		return Result{}, err
	}
	res := Result{TotalPhases: len(pl.Phases)}
	if len(pl.Phases) == 0 {
		e.log.Warn().Str("plan", pl.Path).Msg("plan has no phases, nothing to run")
		return res, nil
	}
	if e.cfg.StartPhase != "" && pl.Phase(e.cfg.StartPhase) == nil {
		return res, fmt.Errorf("start phase %q not found in plan", e.cfg.StartPhase)
	}
	planPath := pl.Path

	runID, rp, reviewBase, aborted, err := e.openRun(ctx, planPath, store.CommandRun, e.cfg.ReviewPath)
	if err != nil {
		return res, err
	}
	if aborted {
		res.Aborted = true
		return res, nil
	}
	res.RunID = runID
	e.log.Info().Str("run", runID).Str("plan", planPath).Int("phases", len(pl.Phases)).Msg("run started")

	prevIDs := pl.PhaseIDs()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		approved, err := e.store.GetApprovedPhaseNumbers(ctx, planPath)
		if err != nil {
			return res, err
		}
		pending := e.pendingPhases(pl, approved)
		if len(pending) == 0 {
			last := pl.Phases[len(pl.Phases)-1].Number
			if err := e.completeRun(ctx, runID, last); err != nil {
				return res, err
			}
			res.Complete = true
			res.PhasesCompleted = countApproved(pl, approved)
			e.log.Info().Str("run", runID).Int("phases", res.PhasesCompleted).Msg("run complete")
			return res, nil
		}

		ph := pending[0]
		outcome, err := e.runPhase(ctx, runID, planPath, ph, reviewBase, rp, &res)
		rp = nil
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted. The run stays active for resume.
				return res, err
			}
			e.failRun(ctx, runID, ph.Number)
			return res, err
		}
		switch outcome {
		case phaseCompleted:
			res.PhasesCompleted++
			reparsed, err := plan.Parse(e.cfg.PlanPath)
			if err != nil {
				e.failRun(ctx, runID, ph.Number)
				return res, err
			}
			if !plan.ContainsIDs(prevIDs, reparsed.PhaseIDs()) {
				e.abortRun(ctx, runID, ph.Number, "Plan phase IDs changed")
				res.Aborted = true
				return res, nil
			}
			pl = reparsed
			prevIDs = pl.PhaseIDs()
			res.TotalPhases = len(pl.Phases)
		case phaseAborted:
			res.Aborted = true
			return res, nil
		case phaseHalted:
			return res, nil
		}
	}
}

// openRun resumes the active run for (plan, command) or creates a fresh one.
// The returned review path prefers what the resumed run recorded.
func (e *Engine) openRun(ctx context.Context, planPath, command, reviewPath string) (string, *resumePoint, string, bool, error) {
	active, err := e.store.GetActiveRun(ctx, planPath, command)
	if err != nil {
		return "", nil, "", false, err
	}
	if active == nil {
		id, err := e.store.CreateRun(ctx, planPath, command, reviewPath)
		return id, nil, reviewPath, false, err
	}

	var rp *resumePoint
	if active.CurrentState != "" {
		state, legacy, ok := NormalizeState(active.CurrentState)
		if !ok {
			return "", nil, "", false, fmt.Errorf("run %s: unknown persisted state %q", active.ID, active.CurrentState)
		}
		rp = &resumePoint{phase: active.CurrentPhase, state: state, legacy: legacy}
	}

	decision := gate.ResumeRun
	if e.cfg.Auto {
		// Resuming into a parked escalation would block forever with no
		// human attached, so auto mode starts over instead.
		if rp != nil && IsTerminal(rp.state) {
			decision = gate.ResumeFresh
		}
	} else {
		decision, err = e.gates.Resume(ctx, gate.ResumeRequest{RunID: active.ID, Phase: active.CurrentPhase, State: active.CurrentState})
		if err != nil {
			return "", nil, "", false, err
		}
	}

	switch decision {
	case gate.ResumeAbort:
		return "", nil, "", true, nil
	case gate.ResumeFresh:
		evType := store.EventHumanDecision
		data := map[string]any{"action": "start_fresh"}
		if e.cfg.Auto {
			evType = store.EventAutoStartFresh
			data = map[string]any{"state": active.CurrentState}
		}
		if err := e.store.AppendRunEvent(ctx, store.RunEvent{
			RunID: active.ID, Type: evType, Phase: active.CurrentPhase, DataJSON: eventData(data),
		}); err != nil {
			return "", nil, "", false, err
		}
		state := string(StateAborted)
		if err := e.store.UpdateRunStatus(ctx, active.ID, store.RunAborted, &state, nil); err != nil {
			return "", nil, "", false, err
		}
		e.log.Info().Str("superseded", active.ID).Msg("starting fresh run")
		id, err := e.store.CreateRun(ctx, planPath, command, reviewPath)
		return id, nil, reviewPath, false, err
	default:
		if rp != nil && rp.state == StateAborted {
			rp = nil
		}
		resumedReview := active.ReviewPath
		if resumedReview == "" {
			resumedReview = reviewPath
		}
		e.log.Info().Str("run", active.ID).Str("phase", active.CurrentPhase).Str("state", active.CurrentState).Msg("resuming run")
		return active.ID, rp, resumedReview, false, nil
	}
}

func (e *Engine) failRun(ctx context.Context, runID, phase string) {
	if err := e.store.UpdateRunStatus(ctx, runID, store.RunFailed, nil, &phase); err != nil {
		e.log.Error().Err(err).Msg("mark run failed")
	}
}

// pendingPhases returns plan phases not yet approved, in plan order,
// honoring a configured start phase.
func (e *Engine) pendingPhases(pl *plan.Plan, approved map[string]bool) []plan.Phase {
	phases := pl.Phases
	if e.cfg.StartPhase != "" {
		for i := range phases {
			if phases[i].Number == e.cfg.StartPhase {
				phases = phases[i:]
				break
			}
		}
	}
	var out []plan.Phase
	for _, ph := range phases {
		if !approved[ph.Number] {
			out = append(out, ph)
		}
	}
	return out
}

func countApproved(pl *plan.Plan, approved map[string]bool) int {
	n := 0
	for _, ph := range pl.Phases {
		if approved[ph.Number] {
			n++
		}
	}
	return n
}

// phaseContext is state recovered from the store when re-entering a phase
// after a restart. The retry counters come from the event log so a killed
// process does not restart a phase with a fresh budget.
type phaseContext struct {
	lastCommit      string
	lastVerdict     *protocol.ReviewerVerdict
	reviewerSession string
	reviewCalls     int
	fixCalls        int
	qualityFailures int
	escalations     int
	started         bool
}

func (e *Engine) recoverPhaseContext(ctx context.Context, runID, phase string) (phaseContext, error) {
	rows, err := e.store.ListAgentResults(ctx, runID)
	if err != nil {
		return phaseContext{}, err
	}
	var pc phaseContext
	for _, r := range rows {
		if r.Phase != phase {
			continue
		}
		switch r.Role {
		case store.RoleAuthor:
			if r.Template == prompt.AuthorAutoFix || r.Template == prompt.AuthorQualityFix {
				pc.fixCalls++
			}
			var s protocol.AuthorStatus
			if json.Unmarshal([]byte(r.ResultJSON), &s) == nil && s.Commit != "" {
				pc.lastCommit = s.Commit
			}
		case store.RoleReviewer:
			pc.reviewCalls++
			if r.SessionID != "" {
				pc.reviewerSession = r.SessionID
			}
			var v protocol.ReviewerVerdict
			if json.Unmarshal([]byte(r.ResultJSON), &v) == nil {
				vv := v
				pc.lastVerdict = &vv
			}
		}
	}
	events, err := e.store.ListRunEvents(ctx, runID)
	if err != nil {
		return phaseContext{}, err
	}
	for _, ev := range events {
		if ev.Phase != phase {
			continue
		}
		switch ev.Type {
		case store.EventPhaseStart:
			pc.started = true
		case store.EventPhaseComplete:
			pc.started = false
		case store.EventQualityGate:
			var qg struct {
				Passed bool `json:"passed"`
			}
			if json.Unmarshal([]byte(ev.DataJSON), &qg) == nil && qg.Passed {
				pc.qualityFailures = 0
			} else {
				pc.qualityFailures++
			}
		case store.EventEscalation:
			pc.escalations++
		}
	}
	return pc, nil
}

// runPhase drives one phase through the state machine until it is approved,
// aborted, or halted for a later resume.
func (e *Engine) runPhase(ctx context.Context, runID, planPath string, ph plan.Phase, reviewBase string, rp *resumePoint, res *Result) (phaseOutcome, error) {
	reviewFile := plan.ReviewPathForPhase(reviewBase, ph.Number)

	st := StateExecute
	resumed := rp != nil && rp.phase == ph.Number
	legacy := false
	if resumed {
		st = rp.state
		legacy = rp.legacy
	}

	maxIter, err := e.store.GetMaxIterationForPhase(ctx, runID, ph.Number)
	if err != nil {
		return phaseAborted, err
	}
	// Legacy parse states persist before routing their stored result, so the
	// result at the max iteration must be replayed; everywhere else the next
	// invocation gets a fresh iteration.
	iteration := maxIter + 1
	if resumed && legacy {
		iteration = maxIter
	}

	var (
		lastCommit        string
		lastVerdict       *protocol.ReviewerVerdict
		lastQualityReport string
		reviewerSession   string
		authorSession     string
		guidance          string
		reviewCalls       int
		fixCalls          int
		qualityFailures   int
		autoEscalations   int
		lastLogPath       string
		escReason         string
		escSession        string
		preState          State
		retryState        State
	)
	evType := store.EventPhaseStart
	if resumed {
		pc, err := e.recoverPhaseContext(ctx, runID, ph.Number)
		if err != nil {
			return phaseAborted, err
		}
		lastCommit = pc.lastCommit
		lastVerdict = pc.lastVerdict
		reviewerSession = pc.reviewerSession
		reviewCalls = pc.reviewCalls
		fixCalls = pc.fixCalls
		qualityFailures = pc.qualityFailures
		autoEscalations = pc.escalations
		if pc.started {
			// The phase is still in flight; a second phase_start would
			// break the start/complete pairing in the event log.
			evType = store.EventPhaseResume
		}
	}

	if err := e.store.AppendRunEvent(ctx, store.RunEvent{
		RunID: runID, Type: evType, Phase: ph.Number,
		DataJSON: eventData(map[string]any{"title": ph.Title, "resumed": resumed}),
	}); err != nil {
		return phaseAborted, err
	}
	e.log.Info().Str("phase", ph.Number).Str("title", ph.Title).Bool("resumed", resumed).Msg("phase started")

	escalate := func(reason, sessionID string, from, retry State) {
		escReason = reason
		escSession = sessionID
		preState = from
		retryState = retry
		st = StateEscalate
	}

	for {
		if err := ctx.Err(); err != nil {
			return phaseHalted, err
		}
		if err := e.store.UpdateRunState(ctx, runID, string(st), ph.Number); err != nil {
			return phaseAborted, err
		}

		switch st {
		case StateExecute:
			tmpl := prompt.AuthorPhase
			sess := ""
			if authorSession != "" {
				tmpl = prompt.AuthorContinue
				sess = authorSession
				authorSession = ""
			}
			status, usage, logPath, err := e.authorStep(ctx, stepRequest{
				runID:    runID,
				phase:    ph.Number,
				template: tmpl,
				data: prompt.Data{
					PlanPath: planPath, ReviewPath: reviewFile,
					Phase: ph.Number, Title: ph.Title, Guidance: guidance,
				},
				sessionID:     sess,
				title:         fmt.Sprintf("Phase %s - author", ph.Number),
				requireCommit: true,
			}, &iteration)
			guidance = ""
			lastLogPath = logPath
			if err != nil {
				if agent.IsCanceled(err) {
					return phaseHalted, err
				}
				escalate(escalationReason("author", err), usage.SessionID, StateExecute, StateExecute)
				continue
			}
			if status.Result == protocol.AuthorComplete {
				lastCommit = status.Commit
				st = StateQualityCheck
				continue
			}
			escalate(fmt.Sprintf("author reported %s: %s", status.Result, status.Reason), usage.SessionID, StateExecute, StateExecute)

		case StateQualityCheck:
			if e.cfg.SkipQuality || len(e.cfg.QualityGates) == 0 {
				st = StateReview
				continue
			}
			attempt, err := e.store.GetQualityAttemptCount(ctx, runID, ph.Number)
			if err != nil {
				return phaseAborted, err
			}
			report, err := e.quality.Run(ctx, e.cfg.Workdir, e.cfg.QualityGates)
			if err != nil {
				return phaseHalted, err
			}
			body, _ := json.Marshal(report)
			if err := e.store.InsertQualityResult(ctx, store.QualityResult{
				RunID: runID, Phase: ph.Number, Attempt: attempt,
				Passed: report.Passed, ResultsJSON: string(body), DurationMS: report.Duration.Milliseconds(),
			}); err != nil {
				return phaseAborted, err
			}
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventQualityGate, Phase: ph.Number, Iteration: attempt,
				DataJSON: eventData(map[string]any{"passed": report.Passed, "attempt": attempt}),
			}); err != nil {
				return phaseAborted, err
			}
			if report.Passed {
				qualityFailures = 0
				st = StateReview
				continue
			}
			qualityFailures++
			lastQualityReport = qualitySummary(report)
			if qualityFailures <= e.cfg.Limits.MaxQualityRetries {
				st = StateQualityRetry
				continue
			}
			escalate(fmt.Sprintf("quality gates still failing after %d attempts", qualityFailures), "", StateQualityCheck, StateQualityRetry)

		case StateQualityRetry:
			sess := ""
			if authorSession != "" {
				sess = authorSession
				authorSession = ""
			}
			status, usage, logPath, err := e.authorStep(ctx, stepRequest{
				runID:    runID,
				phase:    ph.Number,
				template: prompt.AuthorQualityFix,
				data: prompt.Data{
					PlanPath: planPath, ReviewPath: reviewFile,
					Phase: ph.Number, Title: ph.Title,
					Guidance: guidance, QualityReport: lastQualityReport,
				},
				sessionID:     sess,
				title:         fmt.Sprintf("Phase %s - revision %d", ph.Number, fixCalls+1),
				requireCommit: true,
			}, &iteration)
			fixCalls++
			guidance = ""
			lastLogPath = logPath
			if err != nil {
				if agent.IsCanceled(err) {
					return phaseHalted, err
				}
				escalate(escalationReason("author", err), usage.SessionID, StateQualityRetry, StateQualityRetry)
				continue
			}
			if status.Result == protocol.AuthorComplete {
				lastCommit = status.Commit
				st = StateQualityCheck
				continue
			}
			escalate(fmt.Sprintf("author reported %s: %s", status.Result, status.Reason), usage.SessionID, StateQualityRetry, StateQualityRetry)

		case StateReview:
			if reviewCalls >= e.cfg.Limits.MaxReviewIterations {
				escalate(fmt.Sprintf("review not converged after %d reviews", reviewCalls), "", StateReview, StateReview)
				continue
			}
			tmpl := prompt.ReviewerPhase
			sess := ""
			if reviewerSession != "" {
				tmpl = prompt.ReviewerFollowup
				sess = reviewerSession
			}
			verdict, usage, logPath, err := e.reviewerStep(ctx, stepRequest{
				runID:    runID,
				phase:    ph.Number,
				template: tmpl,
				data: prompt.Data{
					PlanPath: planPath, ReviewPath: reviewFile,
					Phase: ph.Number, Title: ph.Title, Commit: lastCommit,
				},
				sessionID: sess,
				title:     fmt.Sprintf("Phase %s - review %d", ph.Number, reviewCalls+1),
			}, &iteration)
			reviewCalls++
			lastLogPath = logPath
			if err != nil {
				if agent.IsCanceled(err) {
					return phaseHalted, err
				}
				reviewerSession = ""
				escalate(escalationReason("reviewer", err), "", StateReview, StateReview)
				continue
			}
			if usage.SessionID != "" {
				reviewerSession = usage.SessionID
			}
			v := verdict
			lastVerdict = &v
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventVerdict, Phase: ph.Number,
				DataJSON: eventData(map[string]any{"readiness": verdict.Readiness, "items": len(verdict.Items)}),
			}); err != nil {
				return phaseAborted, err
			}
			if err := e.store.SetPhaseReviewOutcome(ctx, planPath, ph.Number, string(verdict.Readiness)); err != nil {
				return phaseAborted, err
			}
			route := routeVerdict(verdict, StatePhaseGate)
			if route.next == StateEscalate {
				escalate(route.reason, "", StateReview, route.retry)
				continue
			}
			st = route.next

		case StateAutoFix:
			sess := ""
			if authorSession != "" {
				sess = authorSession
				authorSession = ""
			}
			status, usage, logPath, err := e.authorStep(ctx, stepRequest{
				runID:    runID,
				phase:    ph.Number,
				template: prompt.AuthorAutoFix,
				data: prompt.Data{
					PlanPath: planPath, ReviewPath: reviewFile,
					Phase: ph.Number, Title: ph.Title,
					Guidance: guidance, Items: actionableItems(lastVerdict),
				},
				sessionID:     sess,
				title:         fmt.Sprintf("Phase %s - revision %d", ph.Number, fixCalls+1),
				requireCommit: true,
			}, &iteration)
			fixCalls++
			guidance = ""
			lastLogPath = logPath
			if err != nil {
				if agent.IsCanceled(err) {
					return phaseHalted, err
				}
				escalate(escalationReason("author", err), usage.SessionID, StateAutoFix, StateAutoFix)
				continue
			}
			if status.Result == protocol.AuthorComplete {
				lastCommit = status.Commit
				qualityFailures = 0
				st = StateQualityCheck
				continue
			}
			escalate(fmt.Sprintf("author reported %s: %s", status.Result, status.Reason), usage.SessionID, StateAutoFix, StateAutoFix)

		case StateEscalate:
			if retryState == "" {
				retryState = preState
			}
			esc := gate.Escalation{
				Phase: ph.Number, State: string(preState),
				Reason: escReason, LogPath: lastLogPath, SessionID: escSession,
			}
			res.Escalations = append(res.Escalations, esc)
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventEscalation, Phase: ph.Number,
				DataJSON: eventData(map[string]any{"reason": escReason, "state": string(preState)}),
			}); err != nil {
				return phaseAborted, err
			}
			if e.cfg.Auto {
				autoEscalations++
				if autoEscalations > e.cfg.Limits.MaxAutoRetries {
					if err := e.store.AppendRunEvent(ctx, store.RunEvent{
						RunID: runID, Type: store.EventAutoEscalationAbort, Phase: ph.Number,
						DataJSON: eventData(map[string]any{"reason": escReason, "escalations": autoEscalations}),
					}); err != nil {
						return phaseAborted, err
					}
					e.abortRun(ctx, runID, ph.Number, "auto retries exhausted: "+escReason)
					return phaseAborted, nil
				}
				e.log.Warn().Str("phase", ph.Number).Int("attempt", autoEscalations).Str("reason", escReason).Msg("auto retrying escalation")
				st = retryState
				continue
			}
			dec, err := e.gates.Escalation(ctx, esc)
			if err != nil {
				return phaseAborted, err
			}
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventHumanDecision, Phase: ph.Number,
				DataJSON: eventData(map[string]any{"action": string(dec.Action)}),
			}); err != nil {
				return phaseAborted, err
			}
			switch dec.Action {
			case gate.EscalationContinue:
				guidance = dec.Guidance
				st = retryState
			case gate.EscalationContinueSession:
				guidance = dec.Guidance
				authorSession = esc.SessionID
				st = retryState
			case gate.EscalationApprove:
				if err := e.store.AppendRunEvent(ctx, store.RunEvent{
					RunID: runID, Type: store.EventPhaseForceApproved, Phase: ph.Number,
					DataJSON: eventData(map[string]any{"reason": escReason}),
				}); err != nil {
					return phaseAborted, err
				}
				if err := e.store.MarkPhaseImplementationDone(ctx, planPath, ph.Number); err != nil {
					return phaseAborted, err
				}
				if err := e.store.SetPhaseReviewApproved(ctx, planPath, ph.Number, true, "force approved at escalation"); err != nil {
					return phaseAborted, err
				}
				return phaseCompleted, nil
			default:
				e.abortRun(ctx, runID, ph.Number, "aborted at escalation: "+escReason)
				return phaseAborted, nil
			}

		case StatePhaseGate:
			autoEscalations = 0
			if e.cfg.Auto {
				st = StatePhaseComplete
				continue
			}
			dec, err := e.gates.Phase(ctx, gate.PhaseSummary{
				Phase: ph.Number, Title: ph.Title, Commit: lastCommit,
				ReviewPath: reviewFile, Iterations: iteration,
			})
			if err != nil {
				return phaseAborted, err
			}
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventHumanDecision, Phase: ph.Number,
				DataJSON: eventData(map[string]any{"action": string(dec)}),
			}); err != nil {
				return phaseAborted, err
			}
			switch dec {
			case gate.PhaseContinue:
				st = StatePhaseComplete
			case gate.PhaseReview:
				e.log.Info().Str("phase", ph.Number).Msg("stopped at phase gate for manual review, re-run to resume")
				return phaseHalted, nil
			default:
				e.abortRun(ctx, runID, ph.Number, "aborted at phase gate")
				return phaseAborted, nil
			}

		case StatePhaseComplete:
			if err := e.store.MarkPhaseImplementationDone(ctx, planPath, ph.Number); err != nil {
				return phaseAborted, err
			}
			reason := "review passed"
			if lastVerdict != nil {
				reason = "review " + string(lastVerdict.Readiness)
			}
			if err := e.store.SetPhaseReviewApproved(ctx, planPath, ph.Number, true, reason); err != nil {
				return phaseAborted, err
			}
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventPhaseComplete, Phase: ph.Number,
				DataJSON: eventData(map[string]any{"commit": lastCommit}),
			}); err != nil {
				return phaseAborted, err
			}
			e.log.Info().Str("phase", ph.Number).Str("commit", lastCommit).Msg("phase complete")
			return phaseCompleted, nil

		case StateAborted:
			e.abortRun(ctx, runID, ph.Number, "resumed into aborted state")
			return phaseAborted, nil

		default:
			return phaseAborted, fmt.Errorf("phase loop: unexpected state %q", st)
		}
	}
}

func qualitySummary(report quality.Report) string {
	var b strings.Builder
	for _, c := range report.Commands {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s: %s (exit %d)\n", status, c.Command, c.ExitCode)
		if !c.Passed && c.Output != "" {
			b.WriteString(c.Output)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}
