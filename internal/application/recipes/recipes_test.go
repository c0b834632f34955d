package recipes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/logger"
)

var baseTime = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

type stubRunner struct {
	mu      sync.Mutex
	results map[string]domain.ProbeResult
	calls   []string
}

func (s *stubRunner) Run(_ context.Context, id string, params map[string]string) domain.ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, domain.FormatProbeRef(id, params))
	if result, ok := s.results[id]; ok {
		return result
	}
	return domain.FailedProbe(id, domain.CacheVolatile, "unknown probe", baseTime)
}

func (s *stubRunner) Catalog() []domain.ProbeSpec {
	return nil
}

type stubRecipeRepo struct {
	mu       sync.Mutex
	loaded   []domain.Recipe
	replaced map[domain.Intent][]domain.Recipe
	err      error
	cleared  bool
}

func (s *stubRecipeRepo) LoadRecipes(context.Context) ([]domain.Recipe, error) {
	return s.loaded, nil
}

func (s *stubRecipeRepo) ReplaceIntent(_ context.Context, intent domain.Intent, recipes []domain.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.replaced == nil {
		s.replaced = map[domain.Intent][]domain.Recipe{}
	}
	s.replaced[intent] = recipes
	return nil
}

func (s *stubRecipeRepo) ClearRecipes(context.Context) error {
	s.cleared = true
	return nil
}

func recipeFor(intent domain.Intent, n int, at time.Time) domain.Recipe {
	return domain.Recipe{
		ID:          fmt.Sprintf("r-%d", n),
		Intent:      intent,
		Tokens:      []string{fmt.Sprintf("token%d", n)},
		Probes:      []string{"mem.info"},
		Template:    "{mem_total_bytes}",
		Reliability: 0.9,
		CreatedAt:   at,
		LastUsedAt:  at,
	}
}

func TestInsertBeyondCapEvictsExactlyOne(t *testing.T) {
	store := NewStore(20, nil, logger.NewNop())
	for i := 0; i < 20; i++ {
		_, evicted := store.Insert(recipeFor(domain.IntentMemoryTotal, i, baseTime.Add(time.Duration(i)*time.Minute)), baseTime)
		require.False(t, evicted)
	}
	require.Equal(t, 20, store.CountFor(domain.IntentMemoryTotal))

	victim, evicted := store.Insert(recipeFor(domain.IntentMemoryTotal, 20, baseTime.Add(time.Hour)), baseTime.Add(time.Hour))
	require.True(t, evicted)
	assert.Equal(t, "r-0", victim.ID, "least recently used recipe goes first")
	assert.Equal(t, 20, store.CountFor(domain.IntentMemoryTotal))
}

func TestInsertSupersedesSameTrigger(t *testing.T) {
	store := NewStore(5, nil, logger.NewNop())
	old := recipeFor(domain.IntentDiskFree, 1, baseTime)
	store.Insert(old, baseTime)

	fresh := old
	fresh.ID = "r-fresh"
	fresh.Template = "{percent}% free"
	_, evicted := store.Insert(fresh, baseTime.Add(time.Minute))
	assert.False(t, evicted)
	require.Equal(t, 1, store.CountFor(domain.IntentDiskFree))

	got := store.List(baseTime)
	require.Len(t, got, 1)
	assert.Equal(t, "r-fresh", got[0].ID)
}

func TestMatchNeverCrossesIntents(t *testing.T) {
	store := NewStore(5, nil, logger.NewNop())
	recipe := recipeFor(domain.IntentMemoryTotal, 1, baseTime)
	recipe.Tokens = []string{"ram"}
	store.Insert(recipe, baseTime)

	_, _, ok := store.Match(domain.IntentResourceUsage, []string{"ram"}, 0.7, baseTime)
	assert.False(t, ok)

	_, score, ok := store.Match(domain.IntentMemoryTotal, []string{"ram"}, 0.7, baseTime)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestMatchReturnsCopy(t *testing.T) {
	store := NewStore(5, nil, logger.NewNop())
	store.Insert(recipeFor(domain.IntentCPUCores, 1, baseTime), baseTime)

	got, _, ok := store.Match(domain.IntentCPUCores, []string{"token1"}, 0.7, baseTime)
	require.True(t, ok)
	got.Probes[0] = "mutated"

	again, _, _ := store.Match(domain.IntentCPUCores, []string{"token1"}, 0.7, baseTime)
	assert.Equal(t, "mem.info", again.Probes[0])
}

func TestCacheHitUsesFreshProbeOutput(t *testing.T) {
	store := NewStore(20, nil, logger.NewNop())
	learnedAt := baseTime.Add(-7 * time.Hour)
	store.Insert(domain.Recipe{
		ID:          "disk-recipe",
		Intent:      domain.IntentDiskFree,
		Tokens:      []string{"disk", "free"},
		Probes:      []string{"df_root"},
		Template:    "{percent}% free",
		Reliability: 0.9,
		CreatedAt:   learnedAt,
		LastUsedAt:  learnedAt,
	}, learnedAt)

	runner := &stubRunner{results: map[string]domain.ProbeResult{
		"df_root": {ProbeID: "df_root", Success: true, Fields: map[string]string{"percent": "37"}, Class: domain.CacheVolatile, Timestamp: baseTime},
	}}
	tier := &Tier{Store: store, Runner: runner, Logger: logger.NewNop(), Now: func() time.Time { return baseTime }}

	q := domain.Question{ID: "q", Intent: domain.IntentDiskFree, Tokens: []string{"disk", "left"}}
	_, score, ok := store.Match(q.Intent, q.Tokens, 0.7, baseTime)
	require.True(t, ok)
	assert.InDelta(t, 0.8, score, 0.01)

	res, events, ok := tier.Resolve(context.Background(), q)
	require.True(t, ok)
	assert.Empty(t, events)
	assert.Equal(t, domain.OriginCache, res.Origin)
	assert.Equal(t, "37% free", res.Text)
	assert.Equal(t, []string{"df_root"}, runner.calls, "the recipe's probe is re-run")
	assert.Equal(t, []domain.OutcomeEvent{domain.EventCacheHit}, res.Events)

	touched := store.List(baseTime)[0]
	assert.Equal(t, 1, touched.Usage)
	assert.True(t, touched.LastUsedAt.Equal(baseTime))
}

func TestReplayFailureFallsThrough(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]domain.ProbeResult
	}{
		{
			name:    "probe fails",
			results: map[string]domain.ProbeResult{},
		},
		{
			name: "template cannot be filled",
			results: map[string]domain.ProbeResult{
				"mem.info": {ProbeID: "mem.info", Success: true, Fields: map[string]string{"other": "x"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(5, nil, logger.NewNop())
			recipe := recipeFor(domain.IntentMemoryTotal, 1, baseTime)
			recipe.Tokens = []string{"ram"}
			store.Insert(recipe, baseTime)
			tier := &Tier{Store: store, Runner: &stubRunner{results: tt.results}, Now: func() time.Time { return baseTime }}

			res, events, ok := tier.Resolve(context.Background(), domain.Question{Intent: domain.IntentMemoryTotal, Tokens: []string{"ram"}})
			assert.False(t, ok)
			assert.Empty(t, res.Text)
			assert.Equal(t, []domain.OutcomeEvent{domain.EventCacheReplayFailed}, events)
		})
	}
}

func TestDeriveTemplate(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		fields map[string]string
		want   string
	}{
		{
			name:   "percent",
			text:   "The root filesystem is 37% free.",
			fields: map[string]string{"percent": "37", "used_percent": "63"},
			want:   "The root filesystem is {percent}% free.",
		},
		{
			name:   "longer value wins",
			text:   "You have 16384 MiB, about 16 GiB.",
			fields: map[string]string{"mib": "16384", "gib": "16"},
			want:   "You have {mib} MiB, about {gib} GiB.",
		},
		{
			name:   "inside other numbers untouched",
			text:   "Load is 1.37 and 37 processes run.",
			fields: map[string]string{"procs": "37"},
			want:   "Load is 1.37 and {procs} processes run.",
		},
		{
			name:   "single character values ignored",
			text:   "1 CPU",
			fields: map[string]string{"cpus": "1"},
			want:   "1 CPU",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTemplate(tt.text, tt.fields))
		})
	}
}

func TestLearnBuildsReplayableRecipe(t *testing.T) {
	evidence := domain.Evidence{{ProbeID: "cpu.info", Success: true, Fields: map[string]string{"cpus": "12"}}}
	q := domain.Question{Intent: domain.IntentCPUCores, Tokens: []string{"cores"}}
	recipe, err := Learn("id-1", q, "This host has 12 CPUs.", 0.92, evidence, []string{"cpu.info"}, baseTime)
	require.NoError(t, err)

	assert.Equal(t, "This host has {cpus} CPUs.", recipe.Template)
	text, err := recipe.Apply(map[string]string{"cpus": "16"})
	require.NoError(t, err)
	assert.Equal(t, "This host has 16 CPUs.", text)
}

func TestLearnRejectsReformattedValues(t *testing.T) {
	evidence := domain.Evidence{{ProbeID: "mem.info", Success: true, Fields: map[string]string{"mem_total_bytes": "16658833408"}}}
	q := domain.Question{Intent: domain.IntentMemoryTotal, Tokens: []string{"ram"}}

	_, err := Learn("id-1", q, "You have 15.5 GiB of RAM in total.", 0.92, evidence, []string{"mem.info"}, baseTime)
	assert.ErrorIs(t, err, ErrUntemplated)

	recipe, err := Learn("id-2", q, "Memory looks healthy.", 0.92, nil, nil, baseTime)
	require.NoError(t, err, "answers without probes have nothing to refresh")
	assert.Equal(t, "Memory looks healthy.", recipe.Template)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	repo := &stubRecipeRepo{}
	store := NewStore(5, repo, logger.NewNop())
	store.Insert(recipeFor(domain.IntentCPUCores, 1, baseTime), baseTime)
	require.NoError(t, store.Flush(context.Background()))
	require.Len(t, repo.replaced[domain.IntentCPUCores], 1)

	reloaded := NewStore(5, &stubRecipeRepo{loaded: repo.replaced[domain.IntentCPUCores]}, logger.NewNop())
	require.NoError(t, reloaded.Load(context.Background(), baseTime))
	assert.Equal(t, 1, reloaded.Count())

	require.NoError(t, store.Clear(context.Background()))
	assert.True(t, repo.cleared)
	assert.Equal(t, 0, store.Count())
}

func TestFlushFailureKeepsIntentDirty(t *testing.T) {
	repo := &stubRecipeRepo{err: errors.New("readonly")}
	store := NewStore(5, repo, logger.NewNop())
	store.Insert(recipeFor(domain.IntentCPUCores, 1, baseTime), baseTime)

	require.Error(t, store.Flush(context.Background()))
	repo.err = nil
	require.NoError(t, store.Flush(context.Background()))
	assert.Len(t, repo.replaced[domain.IntentCPUCores], 1)
}
