package domain

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Learned cache constants.
const (
	MinRecipeReliability = 0.85
	MaxRecipesPerIntent  = 20
	RecipeMatchThreshold = 0.70
	minTokenOverlap      = 0.5
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Recipe is a learned resolution pattern. Values are never mutated in place;
// stores replace them wholesale.
type Recipe struct {
	ID          string    `json:"id"`
	Intent      Intent    `json:"intent"`
	Tokens      []string  `json:"tokens"`
	Probes      []string  `json:"probes"`
	Template    string    `json:"template"`
	Reliability float64   `json:"reliability"`
	Usage       int       `json:"usage"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// MatchScore rates how well the recipe fits a classified question at now.
// Cross-intent matches always score zero.
func (r Recipe) MatchScore(intent Intent, tokens []string, now time.Time) float64 {
	if r.Intent != intent {
		return 0
	}
	recency := r.recency(now)
	if len(r.Tokens) == 0 {
		return 0.5 + recency*0.2
	}
	ratio := overlapRatio(r.Tokens, tokens)
	if ratio < minTokenOverlap {
		return 0
	}
	return 0.5 + ratio*0.3 + recency*0.2
}

func (r Recipe) recency(now time.Time) float64 {
	last := r.LastUsedAt
	if last.IsZero() {
		last = r.CreatedAt
	}
	age := now.Sub(last).Hours()
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / 24)
}

// Retention ranks recipes for eviction; lower is evicted first.
func (r Recipe) Retention(now time.Time) float64 {
	return float64(r.Usage+1) * r.recency(now)
}

// Clone returns a copy that shares no slices with r.
func (r Recipe) Clone() Recipe {
	next := r
	next.Tokens = append([]string(nil), r.Tokens...)
	next.Probes = append([]string(nil), r.Probes...)
	return next
}

// Touch returns a copy with usage metadata advanced.
func (r Recipe) Touch(now time.Time) Recipe {
	next := r.Clone()
	next.Usage++
	next.LastUsedAt = now
	return next
}

// SameTrigger reports whether two recipes were learned from the same token set.
func (r Recipe) SameTrigger(other Recipe) bool {
	if r.Intent != other.Intent || len(r.Tokens) != len(other.Tokens) {
		return false
	}
	a := append([]string(nil), r.Tokens...)
	b := append([]string(nil), other.Tokens...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Placeholders lists the template keys in order of appearance.
func (r Recipe) Placeholders() []string {
	var keys []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(r.Template, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// Apply fills {key} placeholders. Missing values are an error so a stale or
// partial answer is never emitted.
func (r Recipe) Apply(values map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(r.Template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := values[key]; ok && v != "" {
			return v
		}
		missing = append(missing, key)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template placeholders unfilled: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("template rendered empty text")
	}
	return out, nil
}

func overlapRatio(recipeTokens, questionTokens []string) float64 {
	if len(recipeTokens) == 0 {
		return 0
	}
	present := make(map[string]bool, len(questionTokens))
	for _, t := range questionTokens {
		present[t] = true
	}
	hits := 0
	for _, t := range recipeTokens {
		if present[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(recipeTokens))
}
