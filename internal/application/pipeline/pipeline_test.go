package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/hostq/internal/application/budget"
	"github.com/doeshing/hostq/internal/application/trace"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/infrastructure/ai"
	"github.com/doeshing/hostq/internal/pkg/logger"
)

type planFunc func(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error)
type auditFunc func(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error)

type stubBackend struct {
	mu         sync.Mutex
	plan       planFunc
	audit      auditFunc
	planCalls  int
	auditCalls int
	feedback   []string
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Plan(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
	s.mu.Lock()
	s.planCalls++
	s.feedback = append(s.feedback, req.Feedback)
	s.mu.Unlock()
	return s.plan(ctx, req)
}

func (s *stubBackend) Audit(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error) {
	s.mu.Lock()
	s.auditCalls++
	s.mu.Unlock()
	return s.audit(ctx, req)
}

type stubRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (s *stubRunner) Run(_ context.Context, id string, params map[string]string) domain.ProbeResult {
	s.mu.Lock()
	s.calls = append(s.calls, domain.FormatProbeRef(id, params))
	s.mu.Unlock()
	if s.fail[id] {
		return domain.FailedProbe(id, domain.CacheVolatile, "exit status 1", time.Now())
	}
	return domain.ProbeResult{
		ProbeID: id,
		Success: true,
		Fields:  map[string]string{"value_" + id: "42"},
		Class:   domain.CacheVolatile,
	}
}

func (s *stubRunner) Catalog() []domain.ProbeSpec {
	return []domain.ProbeSpec{
		{ID: "mem.info", Class: domain.CacheVolatile},
		{ID: "system.load", Class: domain.CacheVolatile},
		{ID: "service.status", Class: domain.CacheVolatile, Params: map[string]string{"unit": ".+"}},
	}
}

type stubTrust struct {
	score   float64
	tripped bool
}

func (s stubTrust) Score(domain.Actor) float64 { return s.score }
func (s stubTrust) Tripped(domain.Actor) bool  { return s.tripped }

func requestThenDraft(confidence float64) planFunc {
	return func(_ context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
		if len(req.Evidence) == 0 {
			return domain.RequestProbes("need memory", "mem.info"), nil
		}
		return domain.ProposeDraft("Memory looks fine: 42 units in use.", confidence, "mem.info"), nil
	}
}

func auditWith(verdict domain.Verdict, score float64) auditFunc {
	return func(context.Context, domain.AuditRequest) (domain.AuditResult, error) {
		return domain.AuditResult{
			Verdict:       verdict,
			Scores:        domain.AuditScores{Evidence: score, Reasoning: 0.97, Coverage: 0.95},
			CorrectedText: "Corrected: 42 units in use.",
			Reason:        "evidence is thin",
		}, nil
	}
}

func newInput(intent domain.Intent, simple bool) Input {
	return Input{
		Question: domain.Question{ID: "q-1", Text: "how is memory", Intent: intent},
		Budget:   budget.New(domain.BudgetSettings{}, nil),
		Recorder: trace.NewRecorder(),
		Simple:   simple,
	}
}

func newPipeline(backend *stubBackend, runner *stubRunner) *Pipeline {
	return &Pipeline{
		Backend: backend,
		Runner:  runner,
		Trust:   stubTrust{score: 0.5},
		Logger:  logger.NewNop(),
	}
}

func TestApproveUsesMinimumScore(t *testing.T) {
	backend := &stubBackend{plan: requestThenDraft(0.7), audit: auditWith(domain.VerdictApprove, 0.91)}
	runner := &stubRunner{}
	res := newPipeline(backend, runner).Run(context.Background(), newInput(domain.IntentResourceUsage, false))

	assert.Equal(t, domain.OriginCompute, res.Origin)
	assert.InDelta(t, 0.91, res.Reliability, 1e-9)
	assert.Equal(t, "Memory looks fine: 42 units in use.", res.Text)
	assert.Equal(t, []string{"mem.info"}, res.ProbeRefs)
	assert.Equal(t, []domain.OutcomeEvent{domain.EventDraftCleanProposal, domain.EventAuditGreenApproval}, res.Events)
	assert.Equal(t, 2, res.Iterations)
}

func TestOfflineBackendGathersDefaultProbes(t *testing.T) {
	runner := &stubRunner{}
	p := &Pipeline{Backend: ai.NewHeuristicBackend(), Runner: runner, Trust: stubTrust{score: 0.5}, Logger: logger.NewNop()}
	res := p.Run(context.Background(), newInput(domain.IntentMemoryTotal, true))

	assert.Equal(t, []string{"mem.info"}, runner.calls)
	assert.Equal(t, domain.OriginCompute, res.Origin)
	assert.False(t, res.Refused, res.Text)
	assert.Empty(t, res.Degradation)
	assert.Contains(t, res.Text, "value_mem.info=42")
	assert.InDelta(t, 0.6, res.Reliability, 1e-9)
}

func TestFixAndAcceptAppliesPenalty(t *testing.T) {
	backend := &stubBackend{plan: requestThenDraft(0.7), audit: auditWith(domain.VerdictFixAndAccept, 0.9)}
	res := newPipeline(backend, &stubRunner{}).Run(context.Background(), newInput(domain.IntentResourceUsage, false))

	assert.Equal(t, "Corrected: 42 units in use.", res.Text)
	assert.InDelta(t, 0.85, res.Reliability, 1e-9)
	assert.Contains(t, res.Events, domain.EventAuditRepeatedFix)
}

func TestRefusalStaysBelowUsableFloor(t *testing.T) {
	backend := &stubBackend{plan: requestThenDraft(0.7), audit: auditWith(domain.VerdictRefuse, 0.3)}
	res := newPipeline(backend, &stubRunner{}).Run(context.Background(), newInput(domain.IntentResourceUsage, false))

	assert.True(t, res.Refused)
	assert.Less(t, res.Reliability, domain.RedFloor)
	assert.InDelta(t, 0.3, res.Reliability, 1e-9)
	assert.Contains(t, res.Text, "I cannot answer this reliably: evidence is thin.")
	assert.Contains(t, res.Events, domain.EventLowReliabilityRefuse)
}

func TestSimpleIntentSkipsAudit(t *testing.T) {
	tests := []struct {
		name      string
		trust     stubTrust
		simple    bool
		wantAudit int
	}{
		{"skips for trusted simple intent", stubTrust{score: 0.6}, true, 0},
		{"audits when drafting is tripped", stubTrust{score: 0.6, tripped: true}, true, 1},
		{"audits when drafting trust is low", stubTrust{score: 0.2}, true, 1},
		{"audits complex intents", stubTrust{score: 0.6}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &stubBackend{plan: requestThenDraft(0.9), audit: auditWith(domain.VerdictApprove, 0.92)}
			p := newPipeline(backend, &stubRunner{})
			p.Trust = tt.trust
			res := p.Run(context.Background(), newInput(domain.IntentMemoryTotal, tt.simple))
			assert.Equal(t, tt.wantAudit, backend.auditCalls)
			assert.Equal(t, domain.OriginCompute, res.Origin)
			if tt.wantAudit == 0 {
				assert.InDelta(t, 0.9, res.Reliability, 1e-9)
			}
		})
	}
}

func TestMalformedPlanDraftsFromExistingEvidence(t *testing.T) {
	calls := 0
	backend := &stubBackend{
		plan: func(_ context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
			calls++
			if calls == 1 {
				return domain.PlanResponse{}, fmt.Errorf("%w: not json", domain.ErrProtocol)
			}
			return domain.ProposeDraft("Draft without probes.", 0.6), nil
		},
		audit: auditWith(domain.VerdictApprove, 0.75),
	}
	res := newPipeline(backend, &stubRunner{}).Run(context.Background(), newInput(domain.IntentUnclassified, false))

	assert.Equal(t, domain.OriginCompute, res.Origin)
	assert.Equal(t, "Draft without probes.", res.Text)
	require.Len(t, backend.feedback, 2)
	assert.Equal(t, forceDraftFeedback, backend.feedback[1])
}

func TestMalformedDraftDegrades(t *testing.T) {
	backend := &stubBackend{
		plan: func(context.Context, domain.PlanRequest) (domain.PlanResponse, error) {
			return domain.PlanResponse{}, fmt.Errorf("%w: garbage", domain.ErrProtocol)
		},
		audit: auditWith(domain.VerdictApprove, 0.9),
	}
	res := newPipeline(backend, &stubRunner{}).Run(context.Background(), newInput(domain.IntentUnclassified, false))

	assert.Equal(t, domain.OriginDegraded, res.Origin)
	assert.Equal(t, domain.DegradeInvalidResponse, res.Degradation)
	assert.InDelta(t, 0.30, res.Reliability, 1e-9)
	assert.NotEmpty(t, res.Text)
}

func TestNeedsMoreEvidenceIsBounded(t *testing.T) {
	backend := &stubBackend{
		plan: func(_ context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
			return domain.ProposeDraft("Still guessing.", 0.5), nil
		},
		audit: func(context.Context, domain.AuditRequest) (domain.AuditResult, error) {
			return domain.AuditResult{Verdict: domain.VerdictNeedsMoreEvidence, Probes: []string{"system.load"}}, nil
		},
	}
	in := newInput(domain.IntentResourceUsage, false)
	in.Settings.MaxIterations = 6
	res := newPipeline(backend, &stubRunner{}).Run(context.Background(), in)

	assert.Equal(t, domain.DegradeIterationsExhausted, res.Degradation)
	assert.Equal(t, 6, res.Iterations)
	assert.Equal(t, 6, backend.planCalls)
	assert.Contains(t, res.Text, "Partial answer: Still guessing.")
}

func TestInvalidProbeRequestCountsAgainstDrafting(t *testing.T) {
	runner := &stubRunner{}
	backend := &stubBackend{
		plan: func(_ context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
			if len(req.Evidence) == 0 {
				return domain.RequestProbes("", "rm.everything", "service.status unit=nginx"), nil
			}
			return domain.ProposeDraft("nginx is active.", 0.7), nil
		},
		audit: auditWith(domain.VerdictApprove, 0.8),
	}
	res := newPipeline(backend, runner).Run(context.Background(), newInput(domain.IntentServiceHealth, false))

	assert.Contains(t, res.Events, domain.EventDraftInvalidProbe)
	assert.Equal(t, []string{"service.status unit=nginx"}, runner.calls)
}

func TestAllProbesFailedDegrades(t *testing.T) {
	runner := &stubRunner{fail: map[string]bool{"mem.info": true}}
	backend := &stubBackend{plan: requestThenDraft(0.7), audit: auditWith(domain.VerdictApprove, 0.9)}
	res := newPipeline(backend, runner).Run(context.Background(), newInput(domain.IntentResourceUsage, false))

	assert.Equal(t, domain.DegradeProbesFailed, res.Degradation)
	assert.InDelta(t, 0.45, res.Reliability, 1e-9)
}

func TestAuditTimeoutDegrades(t *testing.T) {
	backend := &stubBackend{
		plan: requestThenDraft(0.7),
		audit: func(ctx context.Context, _ domain.AuditRequest) (domain.AuditResult, error) {
			<-ctx.Done()
			return domain.AuditResult{}, ctx.Err()
		},
	}
	in := newInput(domain.IntentResourceUsage, false)
	in.Budget = budget.New(domain.BudgetSettings{
		GlobalMS:       5000,
		FastPathMS:     10,
		CacheMS:        20,
		DraftingSoftMS: 30,
		DraftingHardMS: 40,
		AuditingSoftMS: 50,
		AuditingHardMS: 60,
		ReserveMS:      10,
	}, nil)
	start := time.Now()
	res := newPipeline(backend, &stubRunner{}).Run(context.Background(), in)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.DegradeTimeout, res.Degradation)
	assert.InDelta(t, 0.40, res.Reliability, 1e-9)
	assert.Contains(t, res.Events, domain.EventAuditTimeout)
	assert.Contains(t, res.Text, "Partial answer: Memory looks fine")
}

func TestMissingBackendDegrades(t *testing.T) {
	p := &Pipeline{Runner: &stubRunner{}}
	res := p.Run(context.Background(), newInput(domain.IntentUnclassified, false))
	assert.Equal(t, domain.DegradeBackendUnavailable, res.Degradation)
	assert.NotEmpty(t, res.Text)
}
