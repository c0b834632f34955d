package domain

import "strings"

// DegradationReason explains why an answer was synthesized on the degraded path.
type DegradationReason string

const (
	DegradeTimeout             DegradationReason = "timeout"
	DegradeBudgetExhausted     DegradationReason = "budget_exhausted"
	DegradeInvalidResponse     DegradationReason = "invalid_response"
	DegradeProbesFailed        DegradationReason = "probes_failed"
	DegradeBackendUnavailable  DegradationReason = "backend_unavailable"
	DegradeIterationsExhausted DegradationReason = "iterations_exhausted"
	DegradeEmergency           DegradationReason = "emergency"
)

// MaxDegradedEvidence caps the evidence excerpt appended to degraded text.
const MaxDegradedEvidence = 500

// Reliability is the fixed score of an answer degraded for this reason.
func (r DegradationReason) Reliability() float64 {
	switch r {
	case DegradeTimeout:
		return 0.40
	case DegradeBudgetExhausted:
		return 0.35
	case DegradeInvalidResponse:
		return 0.30
	case DegradeProbesFailed:
		return 0.45
	case DegradeBackendUnavailable:
		return 0.20
	case DegradeIterationsExhausted:
		return 0.35
	case DegradeEmergency:
		return 0.35
	default:
		return 0.30
	}
}

// Message is the explanatory prefix of a degraded answer.
func (r DegradationReason) Message() string {
	switch r {
	case DegradeTimeout:
		return "I ran out of time processing this question."
	case DegradeBudgetExhausted:
		return "Time budget exhausted before completing analysis."
	case DegradeInvalidResponse:
		return "The analysis backend returned an unusable response."
	case DegradeProbesFailed:
		return "The diagnostic commands needed for this question failed."
	case DegradeBackendUnavailable:
		return "The analysis backend is unavailable."
	case DegradeIterationsExhausted:
		return "Evidence gathering did not converge on an answer."
	case DegradeEmergency:
		return "I ran out of time answering this question."
	default:
		return "I could not complete the analysis."
	}
}

// DegradedText builds the explanatory answer text from whatever evidence exists.
func DegradedText(reason DegradationReason, partial string, evidence Evidence) string {
	var b strings.Builder
	b.WriteString(reason.Message())
	if partial = strings.TrimSpace(partial); partial != "" {
		b.WriteString(" Partial answer: ")
		b.WriteString(truncateRunes(partial, MaxDegradedEvidence))
	}
	if summary := evidence.Summary(MaxDegradedEvidence); summary != "" {
		b.WriteString("\nEvidence collected so far:\n")
		b.WriteString(summary)
	} else {
		b.WriteString(" No evidence was collected.")
	}
	return b.String()
}
