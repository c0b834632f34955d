package recipes

import (
	"context"
	"time"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// Tier serves questions from learned recipes by replaying their probes.
type Tier struct {
	Store     *Store
	Runner    ports.ProbeRunner
	Threshold float64
	Logger    ports.Logger
	Now       func() time.Time
}

func (t *Tier) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Resolve returns a cache-origin resolution, or false when no recipe matches.
// A matched recipe whose probes or template fail reports the miss through the
// returned events so the ledger can account for it; the question falls through.
func (t *Tier) Resolve(ctx context.Context, q domain.Question) (domain.Resolution, []domain.OutcomeEvent, bool) {
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = domain.RecipeMatchThreshold
	}
	recipe, score, ok := t.Store.Match(q.Intent, q.Tokens, threshold, t.now())
	if !ok {
		return domain.Resolution{}, nil, false
	}

	evidence := make(domain.Evidence, 0, len(recipe.Probes))
	for _, ref := range recipe.Probes {
		if ctx.Err() != nil {
			return t.miss(recipe, "replay abandoned at ceiling")
		}
		id, params := domain.ParseProbeRef(ref)
		result := t.Runner.Run(ctx, id, params)
		if !result.Success {
			return t.miss(recipe, "probe "+id+" failed: "+result.Error)
		}
		evidence = append(evidence, result)
	}

	text, err := recipe.Apply(evidence.Fields())
	if err != nil {
		return t.miss(recipe, err.Error())
	}
	if ctx.Err() != nil {
		return t.miss(recipe, "replay abandoned at ceiling")
	}

	t.Store.Touch(recipe.Intent, recipe.ID, t.now())
	if t.Logger != nil {
		t.Logger.Debug("recipe replayed", map[string]interface{}{
			"recipe": recipe.ID,
			"intent": string(recipe.Intent),
			"score":  score,
		})
	}
	return domain.Resolution{
		Origin:      domain.OriginCache,
		Text:        text,
		Reliability: recipe.Reliability,
		Events:      []domain.OutcomeEvent{domain.EventCacheHit},
		Evidence:    evidence,
		ProbeRefs:   append([]string(nil), recipe.Probes...),
		RecipeID:    recipe.ID,
	}, nil, true
}

func (t *Tier) miss(recipe domain.Recipe, reason string) (domain.Resolution, []domain.OutcomeEvent, bool) {
	if t.Logger != nil {
		t.Logger.Debug("recipe replay failed", map[string]interface{}{
			"recipe": recipe.ID,
			"reason": reason,
		})
	}
	return domain.Resolution{}, []domain.OutcomeEvent{domain.EventCacheReplayFailed}, false
}
