package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/hostq/internal/application/assembler"
	"github.com/doeshing/hostq/internal/application/fastpath"
	"github.com/doeshing/hostq/internal/application/pipeline"
	"github.com/doeshing/hostq/internal/application/recipes"
	"github.com/doeshing/hostq/internal/application/trust"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubConfigProvider struct {
	cfg domain.Config
	err error
}

func (s stubConfigProvider) Load(context.Context) (domain.Config, error) {
	return s.cfg, s.err
}

type stubFlags struct {
	debug bool
}

func (s *stubFlags) DebugEnabled() bool { return s.debug }

func (s *stubFlags) SetDebug(enabled bool) error {
	s.debug = enabled
	return nil
}

type stubRunner struct {
	mu     sync.Mutex
	fields map[string]map[string]string
	fail   map[string]bool
	calls  int
}

func (s *stubRunner) Run(_ context.Context, id string, _ map[string]string) domain.ProbeResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail[id] {
		return domain.FailedProbe(id, domain.CacheVolatile, "exit status 1", time.Now())
	}
	return domain.ProbeResult{ProbeID: id, Success: true, Fields: s.fields[id], Class: domain.CacheVolatile, Timestamp: time.Now()}
}

func (s *stubRunner) Catalog() []domain.ProbeSpec {
	return []domain.ProbeSpec{
		{ID: "mem.info", Class: domain.CacheVolatile},
		{ID: "system.load", Class: domain.CacheVolatile},
		{ID: "service.status", Class: domain.CacheVolatile, Params: map[string]string{"unit": ".+"}},
	}
}

func newRunner() *stubRunner {
	return &stubRunner{
		fields: map[string]map[string]string{
			"mem.info":       {"mem_total_bytes": "17179869184", "mem_available_bytes": "8589934592"},
			"system.load":    {"load1": "0.42"},
			"service.status": {"active_state": "failed"},
		},
		fail: map[string]bool{},
	}
}

type stubBackend struct {
	plan  func(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error)
	audit func(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error)
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Plan(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
	return s.plan(ctx, req)
}

func (s *stubBackend) Audit(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error) {
	return s.audit(ctx, req)
}

func loadDraft(_ context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
	if len(req.Evidence) == 0 {
		return domain.RequestProbes("need the load average", "system.load"), nil
	}
	return domain.ProposeDraft("The 1-minute load average is 0.42.", 0.7, "system.load"), nil
}

func approveAt(score float64) func(context.Context, domain.AuditRequest) (domain.AuditResult, error) {
	return func(context.Context, domain.AuditRequest) (domain.AuditResult, error) {
		return domain.AuditResult{
			Verdict: domain.VerdictApprove,
			Scores:  domain.AuditScores{Evidence: score, Reasoning: 0.97, Coverage: 0.95},
		}, nil
	}
}

type engine struct {
	svc    *Service
	store  *recipes.Store
	ledger *trust.Ledger
	runner *stubRunner
	flags  *stubFlags
}

func newEngine(backend *stubBackend, cfg domain.Config) engine {
	log := logger.NewNop()
	runner := newRunner()
	store := recipes.NewStore(cfg.Recipes.GetMaxPerIntent(), nil, log)
	ledger := trust.NewLedger(nil, log, nil)
	flags := &stubFlags{}

	svc := &Service{
		ConfigProvider: stubConfigProvider{cfg: cfg},
		FastPath:       &fastpath.Service{Runner: runner, Flags: flags, Trust: ledger, Recipes: store, Logger: log},
		Cache:          &recipes.Tier{Store: store, Runner: runner, Logger: log},
		Assembler:      &assembler.Assembler{Trust: ledger, Recipes: store, Logger: log},
		Flags:          flags,
		Logger:         log,
	}
	if backend != nil {
		svc.Compute = &pipeline.Pipeline{Backend: backend, Runner: runner, Trust: ledger, Logger: log}
	}
	return engine{svc: svc, store: store, ledger: ledger, runner: runner, flags: flags}
}

func TestAnswersAreNeverEmpty(t *testing.T) {
	tests := []struct {
		name    string
		backend *stubBackend
	}{
		{"no backend configured", nil},
		{"backend unreachable", &stubBackend{
			plan: func(context.Context, domain.PlanRequest) (domain.PlanResponse, error) {
				return domain.PlanResponse{}, errors.New("connection refused")
			},
		}},
		{"malformed replies", &stubBackend{
			plan: func(context.Context, domain.PlanRequest) (domain.PlanResponse, error) {
				return domain.PlanResponse{}, fmt.Errorf("%w: not json", domain.ErrProtocol)
			},
		}},
		{"unknown verdict", &stubBackend{
			plan: loadDraft,
			audit: func(context.Context, domain.AuditRequest) (domain.AuditResult, error) {
				return domain.AuditResult{Verdict: "maybe"}, nil
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(tt.backend, domain.Config{})
			answer := e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)

			assert.NotEmpty(t, strings.TrimSpace(answer.Text))
			assert.Equal(t, domain.OriginDegraded, answer.Origin)
			assert.Less(t, answer.Reliability, domain.RedFloor)
			assert.Equal(t, domain.LabelRefusal, answer.Label)
		})
	}
}

func TestFailedProbesStillAnswer(t *testing.T) {
	e := newEngine(&stubBackend{plan: loadDraft, audit: approveAt(0.95)}, domain.Config{})
	e.runner.fail["system.load"] = true

	answer := e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)
	assert.Equal(t, string(domain.DegradeProbesFailed), answer.Degradation)
	assert.NotEmpty(t, answer.Text)
}

func TestGlobalCeilingProducesEmergencyAnswer(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	hung := &stubBackend{
		plan: func(context.Context, domain.PlanRequest) (domain.PlanResponse, error) {
			<-release
			return domain.ProposeDraft("too late", 0.9), nil
		},
	}
	cfg := domain.Config{Budget: domain.BudgetSettings{GlobalMS: 300, ReserveMS: 10, DraftingSoftMS: 40}}
	e := newEngine(hung, cfg)

	started := time.Now()
	answer := e.svc.AnswerQuestion(context.Background(), "why is nginx service failing", domain.ModeOneShot)
	took := time.Since(started)

	assert.Less(t, took, 300*time.Millisecond+2*time.Second)
	assert.Equal(t, domain.OriginDegraded, answer.Origin)
	assert.Equal(t, string(domain.DegradeEmergency), answer.Degradation)
	assert.GreaterOrEqual(t, answer.Reliability, 0.30)
	assert.LessOrEqual(t, answer.Reliability, 0.50)
	assert.True(t, strings.HasPrefix(answer.Text, domain.DegradeEmergency.Message()), answer.Text)

	require.Len(t, answer.TrustDeltas, 1)
	assert.Equal(t, domain.EventDraftTimeout, answer.TrustDeltas[0].Event)
	assert.Zero(t, e.store.Count())
}

func TestRefusalIsNotLearned(t *testing.T) {
	backend := &stubBackend{
		plan: loadDraft,
		audit: func(context.Context, domain.AuditRequest) (domain.AuditResult, error) {
			return domain.AuditResult{
				Verdict: domain.VerdictRefuse,
				Scores:  domain.AuditScores{Evidence: 0.3, Reasoning: 0.6, Coverage: 0.5},
				Reason:  "load alone does not explain the slowdown",
			}, nil
		},
	}
	e := newEngine(backend, domain.Config{})
	answer := e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)

	assert.Less(t, answer.Reliability, domain.RedFloor)
	assert.Equal(t, domain.LabelRefusal, answer.Label)
	assert.Contains(t, answer.Text, "I cannot answer this reliably")
	assert.Zero(t, e.store.Count())
}

func TestLearningAdmissionAndReplay(t *testing.T) {
	tests := []struct {
		name        string
		score       float64
		wantRecipes int
		wantOrigin  domain.Origin
	}{
		{"reliable answer is learned and replayed", 0.90, 1, domain.OriginCache},
		{"answer below the floor is not learned", 0.80, 0, domain.OriginCompute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(&stubBackend{plan: loadDraft, audit: approveAt(tt.score)}, domain.Config{})

			first := e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)
			assert.Equal(t, domain.OriginCompute, first.Origin)
			assert.InDelta(t, tt.score, first.Reliability, 1e-9)
			assert.Equal(t, tt.wantRecipes, e.store.Count())

			second := e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)
			assert.Equal(t, tt.wantOrigin, second.Origin)
			assert.Equal(t, "The 1-minute load average is 0.42.", second.Text)
		})
	}
}

func TestRAMParaphrasesShareTheFastPath(t *testing.T) {
	e := newEngine(nil, domain.Config{})
	questions := []string{
		"How much RAM do I have?",
		"how much memory is installed",
		"what's my total ram",
		"RAM?",
	}
	for _, q := range questions {
		answer := e.svc.AnswerQuestion(context.Background(), q, domain.ModeInteractive)
		assert.Equal(t, domain.OriginFastPath, answer.Origin, q)
		assert.Equal(t, domain.IntentMemoryTotal, answer.Intent, q)
		assert.Equal(t, "You have 16 GiB of RAM (8.0 GiB available).", answer.Text, q)
	}
	assert.Equal(t, int64(len(questions)), e.svc.Served())
}

func TestTraceAttachedOnlyWhenDebugIsOn(t *testing.T) {
	e := newEngine(nil, domain.Config{})

	quiet := e.svc.AnswerQuestion(context.Background(), "how much ram do I have", domain.ModeOneShot)
	assert.Nil(t, quiet.Trace)

	e.flags.debug = true
	loud := e.svc.AnswerQuestion(context.Background(), "how much ram do I have", domain.ModeOneShot)
	require.NotNil(t, loud.Trace)
	require.NotEmpty(t, loud.Trace.Tiers)
	assert.Equal(t, string(domain.StageFastPath), loud.Trace.Tiers[0].Tier)
	assert.Equal(t, quiet.Text, loud.Text)
}

func TestCacheMissEventsReachTheLedger(t *testing.T) {
	e := newEngine(&stubBackend{plan: loadDraft, audit: approveAt(0.95)}, domain.Config{})
	e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)
	require.Equal(t, 1, e.store.Count())

	e.runner.fail["system.load"] = true
	answer := e.svc.AnswerQuestion(context.Background(), "what is the system load right now", domain.ModeOneShot)

	var events []domain.OutcomeEvent
	for _, delta := range answer.TrustDeltas {
		events = append(events, delta.Event)
	}
	assert.Contains(t, events, domain.EventCacheReplayFailed)
	assert.NotEqual(t, domain.OriginCache, answer.Origin)
}

func TestConfigErrorFallsBackToDefaults(t *testing.T) {
	e := newEngine(nil, domain.Config{})
	e.svc.ConfigProvider = stubConfigProvider{err: errors.New("yaml: line 3: did not find expected key")}

	answer := e.svc.AnswerQuestion(context.Background(), "how much ram do I have", domain.ModeOneShot)
	assert.Equal(t, domain.OriginFastPath, answer.Origin)
}
