package domain

import (
	"strings"
	"time"
)

// Label is the reliability band of an Answer.
type Label string

const (
	LabelGreen   Label = "green"
	LabelYellow  Label = "yellow"
	LabelRed     Label = "red"
	LabelRefusal Label = "refusal"
)

// Reliability band floors.
const (
	GreenFloor  = 0.90
	YellowFloor = 0.70
	RedFloor    = 0.50
)

// LabelFor bands a reliability score.
func LabelFor(reliability float64) Label {
	switch {
	case reliability >= GreenFloor:
		return LabelGreen
	case reliability >= YellowFloor:
		return LabelYellow
	case reliability >= RedFloor:
		return LabelRed
	default:
		return LabelRefusal
	}
}

// Origin is the tier that produced an Answer's content.
type Origin string

const (
	OriginFastPath Origin = "fast-path"
	OriginCache    Origin = "cache"
	OriginCompute  Origin = "compute"
	OriginDegraded Origin = "degraded"
)

// TrustDelta is the ledger movement caused by one answer.
type TrustDelta struct {
	Actor    Actor        `json:"actor"`
	Event    OutcomeEvent `json:"event"`
	XPGained int          `json:"xp_gained"`
	Score    float64      `json:"score_delta"`
}

// Answer is the uniform envelope returned to callers. Text is never empty.
type Answer struct {
	QuestionID  string        `json:"question_id"`
	Text        string        `json:"text"`
	Reliability float64       `json:"reliability"`
	Label       Label         `json:"label"`
	Origin      Origin        `json:"origin"`
	Intent      Intent        `json:"intent"`
	Elapsed     time.Duration `json:"elapsed"`
	TrustDeltas []TrustDelta  `json:"trust_deltas,omitempty"`
	Degradation string        `json:"degradation,omitempty"`
	Trace       *Trace        `json:"trace,omitempty"`
}

// IsRefusal reports whether the answer falls below the usable floor.
func (a Answer) IsRefusal() bool {
	return a.Label == LabelRefusal
}

// Trace is the optional structured record attached when the debug flag is on.
type Trace struct {
	Tiers      []TierTrace `json:"tiers"`
	Probes     []string    `json:"probes,omitempty"`
	Iterations int         `json:"iterations"`
	SoftHints  []string    `json:"soft_hints,omitempty"`
}

// TierTrace records one tier attempt.
type TierTrace struct {
	Tier     string        `json:"tier"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// NonEmpty returns text or the fallback when text is blank.
func NonEmpty(text, fallback string) string {
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

// ClampReliability bounds a score to [0,1].
func ClampReliability(v float64) float64 {
	return clampUnit(v)
}
