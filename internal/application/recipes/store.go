package recipes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

type bucket struct {
	mu      sync.Mutex
	recipes []domain.Recipe
	dirty   bool
}

// Store keeps learned recipes in one bucket per intent. Buckets lock
// independently; the outer lock only guards bucket creation.
type Store struct {
	mu       sync.RWMutex
	buckets  map[domain.Intent]*bucket
	capacity int
	repo     ports.RecipeRepository
	logger   ports.Logger
}

// NewStore returns an empty store capped at capacity recipes per intent.
func NewStore(capacity int, repo ports.RecipeRepository, logger ports.Logger) *Store {
	if capacity <= 0 {
		capacity = domain.MaxRecipesPerIntent
	}
	return &Store{
		buckets:  make(map[domain.Intent]*bucket),
		capacity: capacity,
		repo:     repo,
		logger:   logger,
	}
}

func (s *Store) bucketFor(intent domain.Intent, create bool) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[intent]
	s.mu.RUnlock()
	if ok || !create {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[intent]; ok {
		return b
	}
	b = &bucket{}
	s.buckets[intent] = b
	return b
}

// Load fills the store from the repository. Intents over capacity are trimmed.
func (s *Store) Load(ctx context.Context, now time.Time) error {
	if s.repo == nil {
		return nil
	}
	loaded, err := s.repo.LoadRecipes(ctx)
	if err != nil {
		return fmt.Errorf("load recipes: %w", err)
	}
	for _, recipe := range loaded {
		b := s.bucketFor(recipe.Intent, true)
		b.mu.Lock()
		b.recipes = append(b.recipes, recipe)
		for len(b.recipes) > s.capacity {
			b.recipes = evictOne(b.recipes, now)
			b.dirty = true
		}
		b.mu.Unlock()
	}
	return nil
}

// Match returns a copy of the best recipe for the intent scoring at least threshold.
func (s *Store) Match(intent domain.Intent, tokens []string, threshold float64, now time.Time) (domain.Recipe, float64, bool) {
	b := s.bucketFor(intent, false)
	if b == nil {
		return domain.Recipe{}, 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		best      domain.Recipe
		bestScore float64
		found     bool
	)
	for _, recipe := range b.recipes {
		score := recipe.MatchScore(intent, tokens, now)
		if score < threshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = recipe, score, true
		}
	}
	if !found {
		return domain.Recipe{}, 0, false
	}
	return best.Clone(), bestScore, true
}

// Insert adds a recipe. A recipe with the same trigger tokens is superseded;
// beyond capacity exactly one least recently used recipe is evicted and returned.
func (s *Store) Insert(recipe domain.Recipe, now time.Time) (domain.Recipe, bool) {
	b := s.bucketFor(recipe.Intent, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]domain.Recipe, 0, len(b.recipes)+1)
	for _, existing := range b.recipes {
		if existing.SameTrigger(recipe) {
			continue
		}
		next = append(next, existing)
	}
	next = append(next, recipe)

	var (
		evicted    domain.Recipe
		hasEvicted bool
	)
	if len(next) > s.capacity {
		victim := lruIndex(next[:len(next)-1], now)
		evicted, hasEvicted = next[victim], true
		next = append(next[:victim], next[victim+1:]...)
	}
	b.recipes = next
	b.dirty = true
	return evicted, hasEvicted
}

// Touch advances usage metadata of a recipe by replacing it.
func (s *Store) Touch(intent domain.Intent, id string, now time.Time) {
	b := s.bucketFor(intent, false)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]domain.Recipe, len(b.recipes))
	for i, recipe := range b.recipes {
		if recipe.ID == id {
			recipe = recipe.Touch(now)
			b.dirty = true
		}
		next[i] = recipe
	}
	b.recipes = next
}

// Count returns the total number of recipes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, b := range s.buckets {
		b.mu.Lock()
		total += len(b.recipes)
		b.mu.Unlock()
	}
	return total
}

// CountFor returns the number of recipes held for one intent.
func (s *Store) CountFor(intent domain.Intent) int {
	b := s.bucketFor(intent, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recipes)
}

// List returns copies of every recipe, most retained first within each intent.
func (s *Store) List(now time.Time) []domain.Recipe {
	s.mu.RLock()
	intents := make([]domain.Intent, 0, len(s.buckets))
	for intent := range s.buckets {
		intents = append(intents, intent)
	}
	s.mu.RUnlock()
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })

	var out []domain.Recipe
	for _, intent := range intents {
		b := s.bucketFor(intent, false)
		b.mu.Lock()
		group := append([]domain.Recipe(nil), b.recipes...)
		b.mu.Unlock()
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Retention(now) > group[j].Retention(now)
		})
		out = append(out, group...)
	}
	return out
}

// Clear drops every recipe in memory and in the repository.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.buckets = make(map[domain.Intent]*bucket)
	s.mu.Unlock()
	if s.repo == nil {
		return nil
	}
	if err := s.repo.ClearRecipes(ctx); err != nil {
		return fmt.Errorf("clear recipes: %w", err)
	}
	return nil
}

// Flush writes every dirty intent. Failed intents stay dirty for the next flush.
func (s *Store) Flush(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	s.mu.RLock()
	intents := make([]domain.Intent, 0, len(s.buckets))
	for intent := range s.buckets {
		intents = append(intents, intent)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, intent := range intents {
		b := s.bucketFor(intent, false)
		if b == nil {
			continue
		}
		b.mu.Lock()
		if !b.dirty {
			b.mu.Unlock()
			continue
		}
		snapshot := append([]domain.Recipe(nil), b.recipes...)
		b.dirty = false
		b.mu.Unlock()

		if err := s.repo.ReplaceIntent(ctx, intent, snapshot); err != nil {
			b.mu.Lock()
			b.dirty = true
			b.mu.Unlock()
			if s.logger != nil {
				s.logger.Warn("recipe flush failed", map[string]interface{}{
					"intent": string(intent),
					"error":  err.Error(),
				})
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("save recipes for %s: %w", intent, err)
			}
		}
	}
	return firstErr
}

func lastUsed(r domain.Recipe) time.Time {
	if r.LastUsedAt.IsZero() {
		return r.CreatedAt
	}
	return r.LastUsedAt
}

// lruIndex picks the least recently used recipe; ties go to the lower retention.
func lruIndex(recipes []domain.Recipe, now time.Time) int {
	victim := 0
	for i := 1; i < len(recipes); i++ {
		a, b := lastUsed(recipes[i]), lastUsed(recipes[victim])
		switch {
		case a.Before(b):
			victim = i
		case a.Equal(b) && recipes[i].Retention(now) < recipes[victim].Retention(now):
			victim = i
		}
	}
	return victim
}

func evictOne(recipes []domain.Recipe, now time.Time) []domain.Recipe {
	victim := lruIndex(recipes, now)
	return append(recipes[:victim], recipes[victim+1:]...)
}
