package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/agent"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/gate"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/plan"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/prompt"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
)

// PlanReviewPhase is the phase label plan-review steps are recorded under.
// It can never collide with a plan phase number.
const PlanReviewPhase = "-1"

// PlanReviewResult summarizes a plan-review run.
type PlanReviewResult struct {
	RunID       string
	ReviewPath  string
	Approved    bool
	Aborted     bool
	Escalations []gate.Escalation
}

// ReviewPlan runs the reviewer over the plan document before implementation
// starts, looping the author in for correctable findings.
func (e *Engine) ReviewPlan(ctx context.Context) (PlanReviewResult, error) {
	pl, err := plan.Parse(e.cfg.PlanPath)
	if err != nil {
		return PlanReviewResult{}, err
	}
	planPath := pl.Path

	reviewPath, err := e.resolvePlanReviewPath(ctx, planPath)
	if err != nil {
		return PlanReviewResult{}, err
	}
	runID, rp, reviewPath, aborted, err := e.openRun(ctx, planPath, store.CommandPlanReview, reviewPath)
	if err != nil {
		return PlanReviewResult{}, err
	}
	if aborted {
		return PlanReviewResult{Aborted: true}, nil
	}
	res := PlanReviewResult{RunID: runID, ReviewPath: reviewPath}
	e.log.Info().Str("run", runID).Str("plan", planPath).Str("review", reviewPath).Msg("plan review started")

	st := StateReview
	legacy := false
	if rp != nil {
		switch rp.state {
		case StateReview, StateAutoFix, StateEscalate, StateApproved, StateAborted:
			st = rp.state
			legacy = rp.legacy
		default:
			st = StateReview
		}
	}

	maxIter, err := e.store.GetMaxIterationForPhase(ctx, runID, PlanReviewPhase)
	if err != nil {
		return res, err
	}
	iteration := maxIter + 1
	if rp != nil && legacy {
		iteration = maxIter
	}

	pc, err := e.recoverPhaseContext(ctx, runID, PlanReviewPhase)
	if err != nil {
		return res, err
	}
	var (
		lastVerdict     = pc.lastVerdict
		reviewerSession = pc.reviewerSession
		reviewCalls     = pc.reviewCalls
		fixCalls        = pc.fixCalls
		authorSession   string
		guidance        string
		autoEscalations = pc.escalations
		lastLogPath     string
		escReason       string
		escSession      string
		preState        State
		retryState      State
	)

	escalate := func(reason, sessionID string, from, retry State) {
		escReason = reason
		escSession = sessionID
		preState = from
		retryState = retry
		st = StateEscalate
	}

	approve := func(reason string) error {
		if err := e.store.SetPhaseReviewApproved(ctx, planPath, PlanReviewPhase, true, reason); err != nil {
			return err
		}
		if err := e.completeRun(ctx, runID, PlanReviewPhase); err != nil {
			return err
		}
		res.Approved = true
		e.log.Info().Str("run", runID).Msg("plan approved")
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.store.UpdateRunState(ctx, runID, string(st), PlanReviewPhase); err != nil {
			return res, err
		}

		switch st {
		case StateReview:
			if reviewCalls >= e.cfg.Limits.MaxReviewIterations {
				escalate(fmt.Sprintf("plan review not converged after %d reviews", reviewCalls), "", StateReview, StateReview)
				continue
			}
			tmpl := prompt.PlanReview
			sess := ""
			if reviewerSession != "" {
				tmpl = prompt.ReviewerFollowup
				sess = reviewerSession
			}
			verdict, usage, logPath, err := e.reviewerStep(ctx, stepRequest{
				runID:     runID,
				phase:     PlanReviewPhase,
				template:  tmpl,
				data:      prompt.Data{PlanPath: planPath, ReviewPath: reviewPath, Phase: "plan"},
				sessionID: sess,
				title:     fmt.Sprintf("Plan review %d", reviewCalls+1),
			}, &iteration)
			reviewCalls++
			lastLogPath = logPath
			if err != nil {
				if agent.IsCanceled(err) {
					return res, err
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
				RunID: runID, Type: store.EventVerdict, Phase: PlanReviewPhase,
				DataJSON: eventData(map[string]any{"readiness": verdict.Readiness, "items": len(verdict.Items)}),
			}); err != nil {
				return res, err
			}
			if err := e.store.SetPhaseReviewOutcome(ctx, planPath, PlanReviewPhase, string(verdict.Readiness)); err != nil {
				return res, err
			}
			route := routeVerdict(verdict, StateApproved)
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
				phase:    PlanReviewPhase,
				template: prompt.PlanAutoFix,
				data: prompt.Data{
					PlanPath: planPath, ReviewPath: reviewPath,
					Guidance: guidance, Items: actionableItems(lastVerdict),
				},
				sessionID: sess,
				title:     fmt.Sprintf("Plan revision %d", fixCalls+1),
			}, &iteration)
			fixCalls++
			guidance = ""
			lastLogPath = logPath
			if err != nil {
				if agent.IsCanceled(err) {
					return res, err
				}
				escalate(escalationReason("author", err), usage.SessionID, StateAutoFix, StateAutoFix)
				continue
			}
			if status.Result == protocol.AuthorComplete {
				st = StateReview
				continue
			}
			escalate(fmt.Sprintf("author reported %s: %s", status.Result, status.Reason), usage.SessionID, StateAutoFix, StateAutoFix)

		case StateEscalate:
			if retryState == "" {
				retryState = preState
			}
			esc := gate.Escalation{
				Phase: PlanReviewPhase, State: string(preState),
				Reason: escReason, LogPath: lastLogPath, SessionID: escSession,
			}
			res.Escalations = append(res.Escalations, esc)
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventEscalation, Phase: PlanReviewPhase,
				DataJSON: eventData(map[string]any{"reason": escReason, "state": string(preState)}),
			}); err != nil {
				return res, err
			}
			if e.cfg.Auto {
				autoEscalations++
				if autoEscalations > e.cfg.Limits.MaxAutoRetries {
					if err := e.store.AppendRunEvent(ctx, store.RunEvent{
						RunID: runID, Type: store.EventAutoEscalationAbort, Phase: PlanReviewPhase,
						DataJSON: eventData(map[string]any{"reason": escReason, "escalations": autoEscalations}),
					}); err != nil {
						return res, err
					}
					e.abortRun(ctx, runID, PlanReviewPhase, "auto retries exhausted: "+escReason)
					res.Aborted = true
					return res, nil
				}
				st = retryState
				continue
			}
			dec, err := e.gates.Escalation(ctx, esc)
			if err != nil {
				return res, err
			}
			if err := e.store.AppendRunEvent(ctx, store.RunEvent{
				RunID: runID, Type: store.EventHumanDecision, Phase: PlanReviewPhase,
				DataJSON: eventData(map[string]any{"action": string(dec.Action)}),
			}); err != nil {
				return res, err
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
					RunID: runID, Type: store.EventPhaseForceApproved, Phase: PlanReviewPhase,
					DataJSON: eventData(map[string]any{"reason": escReason}),
				}); err != nil {
					return res, err
				}
				if err := approve("force approved at escalation"); err != nil {
					return res, err
				}
				return res, nil
			default:
				e.abortRun(ctx, runID, PlanReviewPhase, "aborted at escalation: "+escReason)
				res.Aborted = true
				return res, nil
			}

		case StateApproved:
			if err := approve("plan review passed"); err != nil {
				return res, err
			}
			return res, nil

		case StateAborted:
			e.abortRun(ctx, runID, PlanReviewPhase, "resumed into aborted state")
			res.Aborted = true
			return res, nil

		default:
			return res, fmt.Errorf("plan review loop: unexpected state %q", st)
		}
	}
}

// resolvePlanReviewPath picks where the plan review document lives. An
// explicit configuration wins; otherwise a path recorded by an earlier
// plan-review run is reused as long as it still resolves inside the reviews
// directory, and failing that a dated default is derived.
func (e *Engine) resolvePlanReviewPath(ctx context.Context, planPath string) (string, error) {
	if e.cfg.ReviewPath != "" {
		return e.cfg.ReviewPath, nil
	}
	runs, err := e.store.ListRuns(ctx, planPath)
	if err != nil {
		return "", err
	}
	reviewsDir := e.cfg.ReviewsDir
	if reviewsDir == "" {
		reviewsDir = filepath.Join(e.cfg.ProjectRoot, ".5x", "reviews")
	}
	for _, r := range runs {
		if r.Command != store.CommandPlanReview || r.ReviewPath == "" {
			continue
		}
		if !plan.WithinDir(reviewsDir, r.ReviewPath) {
			e.log.Warn().Str("path", r.ReviewPath).Msg("ignoring stored review path outside reviews directory")
			continue
		}
		return r.ReviewPath, nil
	}
	base := strings.TrimSuffix(filepath.Base(planPath), filepath.Ext(planPath))
	return filepath.Join(reviewsDir, fmt.Sprintf("%s-plan-review-%s.md", base, time.Now().Format("20060102"))), nil
}
