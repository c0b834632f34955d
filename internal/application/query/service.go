package query

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/hostq/internal/application/assembler"
	"github.com/doeshing/hostq/internal/application/budget"
	"github.com/doeshing/hostq/internal/application/intent"
	"github.com/doeshing/hostq/internal/application/pipeline"
	"github.com/doeshing/hostq/internal/application/trace"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// FastPathTier answers well-known intents without generative compute.
type FastPathTier interface {
	Resolve(ctx context.Context, q domain.Question) (domain.Resolution, bool)
}

// CacheTier replays learned recipes. Events are reported even on a miss.
type CacheTier interface {
	Resolve(ctx context.Context, q domain.Question) (domain.Resolution, []domain.OutcomeEvent, bool)
}

// ComputeTier runs the drafting and auditing pipeline.
type ComputeTier interface {
	Run(ctx context.Context, in pipeline.Input) domain.Resolution
}

// Service orchestrates the tiers of one question end-to-end.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Classifier     *intent.Classifier
	FastPath       FastPathTier
	Cache          CacheTier
	Compute        ComputeTier
	Assembler      *assembler.Assembler
	Flags          ports.DebugFlagStore
	Host           domain.HostSnapshot
	Logger         ports.Logger
	Now            func() time.Time
	NewID          func() string

	served atomic.Int64
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Served returns how many questions have been answered.
func (s *Service) Served() int64 {
	return s.served.Load()
}

// AnswerQuestion resolves one question. It never returns an empty answer and
// never outlives the global ceiling by more than the emergency path.
func (s *Service) AnswerQuestion(ctx context.Context, text string, mode domain.InteractionMode) domain.Answer {
	cfg := s.loadConfig(ctx)
	id := uuid.NewString()
	if s.NewID != nil {
		id = s.NewID()
	}
	classifier := s.Classifier
	if classifier == nil {
		classifier = intent.NewClassifier()
	}
	q := classifier.Question(id, text, mode, s.now())

	b := budget.New(cfg.Budget, s.Now)
	rec := trace.NewRecorder()
	runCtx, cancel := context.WithTimeout(ctx, b.Remaining())
	defer cancel()

	results := make(chan domain.Resolution, 1)
	go func() {
		results <- s.resolve(runCtx, q, b, rec, cfg)
	}()

	var (
		res       domain.Resolution
		emergency bool
	)
	select {
	case res = <-results:
	case <-runCtx.Done():
		res = s.emergency(rec)
		emergency = true
	}

	var tr *domain.Trace
	if s.Flags != nil && s.Flags.DebugEnabled() {
		var hints []string
		if !emergency {
			hints = b.Report().Hints
		}
		tr = rec.Snapshot(hints)
	}

	answer := s.Assembler.Finalize(assembler.Input{
		Question:   q,
		Resolution: res,
		Elapsed:    s.now().Sub(q.ReceivedAt),
		Config:     cfg,
		Trace:      tr,
	})
	s.served.Add(1)
	if s.Logger != nil {
		s.Logger.Debug("question answered", map[string]interface{}{
			"question":    q.ID,
			"intent":      string(q.Intent),
			"origin":      string(answer.Origin),
			"reliability": answer.Reliability,
			"elapsed_ms":  answer.Elapsed.Milliseconds(),
		})
	}
	return answer
}

func (s *Service) loadConfig(ctx context.Context) domain.Config {
	if s.ConfigProvider == nil {
		return domain.Config{}
	}
	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("config unavailable; using defaults", map[string]interface{}{"error": err.Error()})
		}
		return domain.Config{}
	}
	return cfg
}

// resolve tries each tier in order and stops at the first that clears its bar.
func (s *Service) resolve(ctx context.Context, q domain.Question, b *budget.Budget, rec *trace.Recorder, cfg domain.Config) domain.Resolution {
	if s.FastPath != nil {
		rec.Enter(domain.StageFastPath)
		stageCtx, timer := b.StageContext(ctx, domain.StageFastPath)
		started := time.Now()
		res, ok := s.FastPath.Resolve(stageCtx, q)
		timer.Finish()
		rec.Tier(string(domain.StageFastPath), hitOrMiss(ok), time.Since(started))
		if ok {
			return res
		}
	}

	var carried []domain.OutcomeEvent
	if s.Cache != nil && !cfg.Recipes.Disabled {
		rec.Enter(domain.StageCache)
		stageCtx, timer := b.StageContext(ctx, domain.StageCache)
		started := time.Now()
		res, events, ok := s.Cache.Resolve(stageCtx, q)
		timer.Finish()
		rec.Tier(string(domain.StageCache), hitOrMiss(ok), time.Since(started))
		carried = append(carried, events...)
		if ok {
			res.Events = append(carried, res.Events...)
			return res
		}
	}

	if s.Compute == nil {
		return domain.Resolution{
			Origin:      domain.OriginDegraded,
			Text:        domain.DegradedText(domain.DegradeBackendUnavailable, "", nil),
			Reliability: domain.DegradeBackendUnavailable.Reliability(),
			Events:      carried,
			Degradation: domain.DegradeBackendUnavailable,
		}
	}
	res := s.Compute.Run(ctx, pipeline.Input{
		Question: q,
		Budget:   b,
		Recorder: rec,
		Host:     s.Host,
		Settings: cfg.Pipeline,
		Simple:   cfg.IsSimpleIntent(q.Intent),
	})
	res.Events = append(carried, res.Events...)
	return res
}

// emergency builds the answer when the global ceiling wins. It reads only the
// recorder; the budget is not consulted again.
func (s *Service) emergency(rec *trace.Recorder) domain.Resolution {
	var events []domain.OutcomeEvent
	switch rec.Stage() {
	case domain.StageDrafting:
		events = append(events, domain.EventDraftTimeout)
	case domain.StageAuditing:
		events = append(events, domain.EventAuditTimeout)
	}
	evidence := rec.Evidence()
	rec.Tier("emergency", "global ceiling reached", 0)
	return domain.Resolution{
		Origin:      domain.OriginDegraded,
		Text:        domain.DegradedText(domain.DegradeEmergency, rec.Partial(), evidence),
		Reliability: domain.DegradeEmergency.Reliability(),
		Events:      events,
		Degradation: domain.DegradeEmergency,
		Evidence:    evidence,
		Iterations:  rec.Iterations(),
	}
}

func hitOrMiss(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}
