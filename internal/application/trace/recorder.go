// Package trace records what a question's resolution has produced so far.
//
// The engine reads the recorder when the global deadline wins, so every
// method is safe for concurrent use and readers always receive copies.
package trace

import (
	"sync"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// Recorder is the shared scratchpad of one question.
type Recorder struct {
	mu         sync.Mutex
	stage      domain.Stage
	evidence   domain.Evidence
	partial    string
	tiers      []domain.TierTrace
	iterations int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Enter marks the stage currently in flight.
func (r *Recorder) Enter(stage domain.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
}

// Stage returns the stage most recently entered.
func (r *Recorder) Stage() domain.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// AddEvidence appends probe results.
func (r *Recorder) AddEvidence(results ...domain.ProbeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evidence = append(r.evidence, results...)
}

// Evidence returns a copy of everything gathered.
func (r *Recorder) Evidence() domain.Evidence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(domain.Evidence(nil), r.evidence...)
}

// SetPartial keeps the latest draft text.
func (r *Recorder) SetPartial(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial = text
}

// Partial returns the latest draft text.
func (r *Recorder) Partial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

// SetIterations records the pipeline iteration counter.
func (r *Recorder) SetIterations(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations = n
}

// Iterations returns the last recorded iteration counter.
func (r *Recorder) Iterations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iterations
}

// Tier records one tier attempt.
func (r *Recorder) Tier(tier, outcome string, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, domain.TierTrace{Tier: tier, Outcome: outcome, Duration: took})
}

// Snapshot builds the structured trace attached to answers in debug mode.
func (r *Recorder) Snapshot(hints []string) *domain.Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &domain.Trace{
		Tiers:      append([]domain.TierTrace(nil), r.tiers...),
		Probes:     domain.Evidence(r.evidence).ProbeIDs(),
		Iterations: r.iterations,
		SoftHints:  append([]string(nil), hints...),
	}
}
