package domain

import "time"

// TelemetryEvent is the privacy-preserving record of one resolved question.
// It never carries question text.
type TelemetryEvent struct {
	QuestionID  string            `json:"question_id"`
	Intent      Intent            `json:"intent"`
	Mode        InteractionMode   `json:"mode"`
	Origin      Origin            `json:"origin"`
	Label       Label             `json:"label"`
	Reliability float64           `json:"reliability"`
	Elapsed     time.Duration     `json:"elapsed"`
	Iterations  int               `json:"iterations"`
	Degradation DegradationReason `json:"degradation,omitempty"`
	At          time.Time         `json:"at"`
	// Trace stays in memory for the debug log. Tier outcomes can name probe
	// parameters taken from the question, so it is never written to events.jsonl.
	Trace       *Trace            `json:"-"`
}
