// Package pipeline runs the two-stage compute path: the drafting actor plans
// evidence and drafts, the auditing actor reviews. The loop is an explicit
// state machine with one iteration counter; it never recurses.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doeshing/hostq/internal/application/budget"
	"github.com/doeshing/hostq/internal/application/trace"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// TrustSignals is the bias the pipeline consults before skipping the audit.
type TrustSignals interface {
	Score(actor domain.Actor) float64
	Tripped(actor domain.Actor) bool
}

// Pipeline holds the collaborators shared by every question.
type Pipeline struct {
	Backend ports.ComputeBackend
	Runner  ports.ProbeRunner
	Trust   TrustSignals
	Logger  ports.Logger
}

// Input is everything one run needs.
type Input struct {
	Question domain.Question
	Budget   *budget.Budget
	Recorder *trace.Recorder
	Host     domain.HostSnapshot
	Settings domain.PipelineSettings
	Simple   bool
}

type state int

const (
	statePlan state = iota
	stateGather
	stateDraft
	stateAudit
)

const forceDraftFeedback = "Respond with a draft now, using only the evidence already collected."

type run struct {
	p        *Pipeline
	in       Input
	catalog  map[string]domain.ProbeSpec
	specs    []domain.ProbeSpec
	evidence domain.Evidence
	refs     []string
	gathered map[string]bool
	pending  []string
	events   []domain.OutcomeEvent
	draft    domain.Draft
	feedback string
	iter     int
}

// Run resolves the question through the compute path. It always returns a
// resolution: protocol failures, timeouts and exhausted budgets degrade.
func (p *Pipeline) Run(ctx context.Context, in Input) domain.Resolution {
	r := &run{
		p:        p,
		in:       in,
		catalog:  map[string]domain.ProbeSpec{},
		gathered: map[string]bool{},
	}
	if p.Runner != nil {
		r.specs = p.Runner.Catalog()
		for _, spec := range r.specs {
			r.catalog[spec.ID] = spec
		}
	}
	if p.Backend == nil {
		return r.degrade(domain.DegradeBackendUnavailable)
	}

	maxIter := in.Settings.GetMaxIterations()
	st := statePlan
	for {
		if err := ctx.Err(); err != nil {
			return r.degrade(domain.DegradeBudgetExhausted)
		}
		switch st {
		case statePlan:
			if r.iter >= maxIter {
				return r.degrade(domain.DegradeIterationsExhausted)
			}
			r.iter++
			in.Recorder.SetIterations(r.iter)
			next, res, done := r.plan(ctx)
			if done {
				return res
			}
			st = next
		case stateGather:
			if res, done := r.gather(ctx); done {
				return res
			}
			st = statePlan
		case stateDraft:
			r.feedback = forceDraftFeedback
			next, res, done := r.plan(ctx)
			if done {
				return res
			}
			if next != stateAudit {
				return r.degrade(domain.DegradeInvalidResponse)
			}
			st = stateAudit
		case stateAudit:
			next, res, done := r.audit(ctx)
			if done {
				return res
			}
			st = next
		}
	}
}

func (r *run) request() domain.PlanRequest {
	return domain.PlanRequest{
		Question:  r.in.Question,
		Evidence:  append(domain.Evidence(nil), r.evidence...),
		Catalog:   r.specs,
		Host:      r.in.Host,
		Iteration: r.iter,
		Feedback:  r.feedback,
	}
}

// plan asks the drafting actor for probes or a draft.
func (r *run) plan(ctx context.Context) (state, domain.Resolution, bool) {
	if r.in.Budget.MustDegrade(domain.StageDrafting) {
		return 0, r.degrade(domain.DegradeBudgetExhausted), true
	}
	r.in.Recorder.Enter(domain.StageDrafting)
	stageCtx, timer := r.in.Budget.StageContext(ctx, domain.StageDrafting)
	started := time.Now()
	resp, err := r.p.Backend.Plan(stageCtx, r.request())
	if err == nil {
		err = resp.Validate()
	}
	outcome := timer.Finish()
	r.in.Recorder.Tier("drafting", planOutcome(resp, err), time.Since(started))

	forced := r.feedback == forceDraftFeedback
	r.feedback = ""
	if err != nil {
		switch {
		case outcome.HardCrossed || errors.Is(err, context.DeadlineExceeded):
			r.events = append(r.events, domain.EventDraftTimeout)
			return 0, r.degrade(domain.DegradeTimeout), true
		case errors.Is(err, domain.ErrProtocol) && !forced:
			r.logDebug("planning reply malformed; drafting from existing evidence", err)
			return stateDraft, domain.Resolution{}, false
		case errors.Is(err, domain.ErrProtocol):
			return 0, r.degrade(domain.DegradeInvalidResponse), true
		default:
			r.logDebug("drafting backend unavailable", err)
			return 0, r.degrade(domain.DegradeBackendUnavailable), true
		}
	}

	switch resp.Kind {
	case domain.PlanDraft:
		r.draft = resp.Draft
		r.in.Recorder.SetPartial(resp.Draft.Text)
		r.events = append(r.events, domain.EventDraftCleanProposal)
		return stateAudit, domain.Resolution{}, false
	default:
		if forced {
			return stateDraft, domain.Resolution{}, false
		}
		r.pending = r.admit(resp.Probes)
		if len(r.pending) == 0 {
			return stateDraft, domain.Resolution{}, false
		}
		return stateGather, domain.Resolution{}, false
	}
}

// admit keeps catalog probes not yet gathered. Unknown probes count against
// the drafting actor.
func (r *run) admit(refs []string) []string {
	var admitted []string
	invalid := false
	seen := map[string]bool{}
	for _, ref := range refs {
		id, params := domain.ParseProbeRef(ref)
		if _, ok := r.catalog[id]; !ok {
			invalid = true
			continue
		}
		canonical := domain.FormatProbeRef(id, params)
		if r.gathered[canonical] || seen[canonical] {
			continue
		}
		seen[canonical] = true
		admitted = append(admitted, canonical)
	}
	if invalid {
		r.events = append(r.events, domain.EventDraftInvalidProbe)
	}
	return admitted
}

// gather runs pending probes concurrently within the probes stage allowance.
func (r *run) gather(ctx context.Context) (domain.Resolution, bool) {
	pending := r.pending
	r.pending = nil
	if r.in.Budget.MustDegrade(domain.StageProbes) {
		return r.degrade(domain.DegradeBudgetExhausted), true
	}
	r.in.Recorder.Enter(domain.StageProbes)
	stageCtx, timer := r.in.Budget.StageContext(ctx, domain.StageProbes)
	started := time.Now()

	results := make([]domain.ProbeResult, len(pending))
	g, gctx := errgroup.WithContext(stageCtx)
	g.SetLimit(r.in.Settings.GetProbeConcurrency())
	for i, ref := range pending {
		i, ref := i, ref
		g.Go(func() error {
			id, params := domain.ParseProbeRef(ref)
			results[i] = r.p.Runner.Run(gctx, id, params)
			return nil
		})
	}
	_ = g.Wait()
	timer.Finish()

	succeeded := 0
	for i, result := range results {
		r.gathered[pending[i]] = true
		if result.Success {
			succeeded++
			r.refs = append(r.refs, pending[i])
		}
	}
	r.evidence = append(r.evidence, results...)
	r.in.Recorder.AddEvidence(results...)
	r.in.Recorder.Tier("probes", fmt.Sprintf("%d/%d succeeded", succeeded, len(results)), time.Since(started))

	if len(r.evidence.Successful()) == 0 {
		return r.degrade(domain.DegradeProbesFailed), true
	}
	return domain.Resolution{}, false
}

func (r *run) skipAudit() bool {
	settings := r.in.Settings
	if !r.in.Simple || r.draft.Confidence < settings.GetSkipAuditConfidence() {
		return false
	}
	if r.p.Trust == nil {
		return false
	}
	return !r.p.Trust.Tripped(domain.ActorDrafting) &&
		r.p.Trust.Score(domain.ActorDrafting) >= settings.GetMinDraftTrust()
}

// audit reviews the draft, or accepts it directly when the skip applies.
func (r *run) audit(ctx context.Context) (state, domain.Resolution, bool) {
	if r.skipAudit() {
		r.in.Recorder.Tier("auditing", "skipped", 0)
		return 0, r.accept(r.draft.Text, r.draft.Confidence), true
	}
	if r.in.Budget.MustDegrade(domain.StageAuditing) {
		return 0, r.degrade(domain.DegradeBudgetExhausted), true
	}
	r.in.Recorder.Enter(domain.StageAuditing)
	stageCtx, timer := r.in.Budget.StageContext(ctx, domain.StageAuditing)
	started := time.Now()
	result, err := r.p.Backend.Audit(stageCtx, domain.AuditRequest{
		Question: r.in.Question,
		Draft:    r.draft,
		Evidence: append(domain.Evidence(nil), r.evidence...),
		Catalog:  r.specs,
		Host:     r.in.Host,
	})
	if err == nil {
		err = result.Validate()
	}
	outcome := timer.Finish()
	r.in.Recorder.Tier("auditing", auditOutcome(result, err), time.Since(started))

	if err != nil {
		switch {
		case outcome.HardCrossed || errors.Is(err, context.DeadlineExceeded):
			r.events = append(r.events, domain.EventAuditTimeout)
			return 0, r.degrade(domain.DegradeTimeout), true
		case errors.Is(err, domain.ErrProtocol):
			return 0, r.degrade(domain.DegradeInvalidResponse), true
		default:
			r.logDebug("auditing backend unavailable", err)
			return 0, r.degrade(domain.DegradeBackendUnavailable), true
		}
	}

	overall := result.Scores.Overall()
	switch result.Verdict {
	case domain.VerdictApprove:
		if overall >= domain.GreenFloor {
			r.events = append(r.events, domain.EventAuditGreenApproval)
		}
		return 0, r.accept(r.draft.Text, overall), true
	case domain.VerdictFixAndAccept:
		r.events = append(r.events, domain.EventAuditRepeatedFix)
		r.in.Recorder.SetPartial(result.CorrectedText)
		return 0, r.accept(result.CorrectedText, overall-r.in.Settings.GetFixPenalty()), true
	case domain.VerdictRefuse:
		r.events = append(r.events, domain.EventLowReliabilityRefuse)
		return 0, r.refuse(result, overall), true
	default:
		if r.in.Budget.SoftCrossed(domain.StageAuditing) {
			r.in.Budget.Hint("auditing asked for more evidence after its soft ceiling; stopping the loop")
			return 0, r.degrade(domain.DegradeBudgetExhausted), true
		}
		r.feedback = strings.TrimSpace(result.Reason)
		if r.feedback == "" {
			r.feedback = "The reviewer needs more evidence before accepting the draft."
		}
		if pending := r.admit(result.Probes); len(pending) > 0 {
			r.pending = pending
			return stateGather, domain.Resolution{}, false
		}
		return statePlan, domain.Resolution{}, false
	}
}

func (r *run) accept(text string, reliability float64) domain.Resolution {
	return domain.Resolution{
		Origin:      domain.OriginCompute,
		Text:        text,
		Reliability: domain.ClampReliability(reliability),
		Events:      r.events,
		Evidence:    r.evidence,
		ProbeRefs:   r.refs,
		Iterations:  r.iter,
	}
}

func (r *run) refuse(result domain.AuditResult, overall float64) domain.Resolution {
	reliability := overall
	if reliability > domain.RefusalCeiling {
		reliability = domain.RefusalCeiling
	}
	reason := strings.TrimSpace(result.Reason)
	if reason == "" {
		reason = "the collected evidence does not support a reliable answer"
	}
	text := "I cannot answer this reliably: " + strings.TrimSuffix(reason, ".") + "."
	if summary := r.evidence.Summary(domain.MaxDegradedEvidence); summary != "" {
		text += "\nEvidence collected:\n" + summary
	}
	return domain.Resolution{
		Origin:      domain.OriginCompute,
		Text:        text,
		Reliability: domain.ClampReliability(reliability),
		Events:      r.events,
		Refused:     true,
		Evidence:    r.evidence,
		Iterations:  r.iter,
	}
}

func (r *run) degrade(reason domain.DegradationReason) domain.Resolution {
	return domain.Resolution{
		Origin:      domain.OriginDegraded,
		Text:        domain.DegradedText(reason, r.in.Recorder.Partial(), r.evidence),
		Reliability: reason.Reliability(),
		Events:      r.events,
		Degradation: reason,
		Evidence:    r.evidence,
		Iterations:  r.iter,
	}
}

func (r *run) logDebug(msg string, err error) {
	if r.p.Logger == nil {
		return
	}
	r.p.Logger.Debug(msg, map[string]interface{}{
		"question": r.in.Question.ID,
		"error":    err.Error(),
	})
}

func planOutcome(resp domain.PlanResponse, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	if resp.Kind == domain.PlanDraft {
		return fmt.Sprintf("draft (confidence %.2f)", resp.Draft.Confidence)
	}
	return "requested " + strings.Join(resp.Probes, ", ")
}

func auditOutcome(result domain.AuditResult, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("%s (overall %.2f)", result.Verdict, result.Scores.Overall())
}
