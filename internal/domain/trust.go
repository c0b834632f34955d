package domain

import "time"

// Actor is a resolution path whose performance is tracked.
type Actor string

const (
	ActorFastPath     Actor = "fast-path"
	ActorLearnedCache Actor = "learned-cache"
	ActorDrafting     Actor = "drafting"
	ActorAuditing     Actor = "auditing"
)

// Actors lists every tracked actor.
func Actors() []Actor {
	return []Actor{ActorFastPath, ActorLearnedCache, ActorDrafting, ActorAuditing}
}

// InitialTrust is the score a fresh actor starts with.
const InitialTrust = 0.5

// OutcomeEvent is one recorded resolution outcome.
type OutcomeEvent string

const (
	EventFastPathSolved       OutcomeEvent = "fast_path_solved"
	EventCacheHit             OutcomeEvent = "cache_hit"
	EventCacheReplayFailed    OutcomeEvent = "cache_replay_failed"
	EventDraftCleanProposal   OutcomeEvent = "draft_clean_proposal"
	EventDraftInvalidProbe    OutcomeEvent = "draft_invalid_probe"
	EventAuditGreenApproval   OutcomeEvent = "audit_green_approval"
	EventAuditRepeatedFix     OutcomeEvent = "audit_repeated_fix"
	EventLowReliabilityRefuse OutcomeEvent = "low_reliability_refusal"
	EventDraftTimeout         OutcomeEvent = "draft_timeout_fallback"
	EventAuditTimeout         OutcomeEvent = "audit_timeout_fallback"
)

// EventEffect describes how an event moves a TrustRecord.
type EventEffect struct {
	Actor Actor
	Good  bool
	XP    int
	Delta float64
}

var eventEffects = map[OutcomeEvent]EventEffect{
	EventFastPathSolved:       {Actor: ActorFastPath, Good: true, XP: 5, Delta: 0.01},
	EventCacheHit:             {Actor: ActorLearnedCache, Good: true, XP: 5, Delta: 0.01},
	EventCacheReplayFailed:    {Actor: ActorLearnedCache, Good: false, XP: 1, Delta: 0.03},
	EventDraftCleanProposal:   {Actor: ActorDrafting, Good: true, XP: 10, Delta: 0.02},
	EventDraftInvalidProbe:    {Actor: ActorDrafting, Good: false, XP: 2, Delta: 0.03},
	EventAuditGreenApproval:   {Actor: ActorAuditing, Good: true, XP: 15, Delta: 0.03},
	EventAuditRepeatedFix:     {Actor: ActorDrafting, Good: false, XP: 2, Delta: 0.02},
	EventLowReliabilityRefuse: {Actor: ActorDrafting, Good: false, XP: 1, Delta: 0.02},
	EventDraftTimeout:         {Actor: ActorDrafting, Good: false, XP: 1, Delta: 0.05},
	EventAuditTimeout:         {Actor: ActorAuditing, Good: false, XP: 1, Delta: 0.05},
}

// Effect returns the bookkeeping rule for an event.
func (e OutcomeEvent) Effect() (EventEffect, bool) {
	effect, ok := eventEffects[e]
	return effect, ok
}

// TrustRecord tracks one actor. Score is bounded to [0,1] and XP never decreases.
type TrustRecord struct {
	Actor      Actor     `json:"actor"`
	Score      float64   `json:"score"`
	XP         int       `json:"xp"`
	GoodStreak int       `json:"good_streak"`
	BadStreak  int       `json:"bad_streak"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewTrustRecord returns a record at the initial score.
func NewTrustRecord(actor Actor) TrustRecord {
	return TrustRecord{Actor: actor, Score: InitialTrust}
}

// Apply returns the record after the effect and the signed score delta actually applied.
func (t TrustRecord) Apply(effect EventEffect, at time.Time) (TrustRecord, float64) {
	next := t
	if effect.XP > 0 {
		next.XP += effect.XP
	}
	before := next.Score
	if effect.Good {
		next.Score = clampUnit(next.Score + effect.Delta)
		next.GoodStreak++
		next.BadStreak = 0
	} else {
		next.Score = clampUnit(next.Score - effect.Delta)
		next.BadStreak++
		next.GoodStreak = 0
	}
	next.UpdatedAt = at
	return next, next.Score - before
}

// Level is the largest n with 100*n*(n+1)/2 <= XP.
func (t TrustRecord) Level() int {
	level := 0
	for xpForLevel(level+1) <= t.XP {
		level++
	}
	return level
}

// Normalize repairs records loaded from storage.
func (t TrustRecord) Normalize() TrustRecord {
	t.Score = clampUnit(t.Score)
	if t.XP < 0 {
		t.XP = 0
	}
	if t.GoodStreak < 0 {
		t.GoodStreak = 0
	}
	if t.BadStreak < 0 {
		t.BadStreak = 0
	}
	return t
}

func xpForLevel(level int) int {
	return 100 * level * (level + 1) / 2
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
