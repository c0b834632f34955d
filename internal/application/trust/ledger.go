package trust

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

type entry struct {
	mu     sync.Mutex
	record domain.TrustRecord
	dirty  bool
}

// Ledger holds one TrustRecord per actor. Each record has its own lock; the
// actor set is fixed at construction so the map itself is never written.
type Ledger struct {
	entries map[domain.Actor]*entry
	repo    ports.TrustRepository
	logger  ports.Logger
	now     func() time.Time
}

// NewLedger returns a ledger with every actor at the initial score.
func NewLedger(repo ports.TrustRepository, logger ports.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	entries := make(map[domain.Actor]*entry, len(domain.Actors()))
	for _, actor := range domain.Actors() {
		entries[actor] = &entry{record: domain.NewTrustRecord(actor)}
	}
	return &Ledger{entries: entries, repo: repo, logger: logger, now: now}
}

// Load replaces in-memory records with persisted ones. Unknown actors are ignored.
func (l *Ledger) Load(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	records, err := l.repo.LoadTrust(ctx)
	if err != nil {
		return fmt.Errorf("load trust: %w", err)
	}
	for _, record := range records {
		e, ok := l.entries[record.Actor]
		if !ok {
			continue
		}
		e.mu.Lock()
		e.record = record.Normalize()
		e.dirty = false
		e.mu.Unlock()
	}
	return nil
}

// Record applies one outcome event and returns the resulting delta.
func (l *Ledger) Record(event domain.OutcomeEvent) (domain.TrustDelta, bool) {
	effect, ok := event.Effect()
	if !ok {
		return domain.TrustDelta{}, false
	}
	e, ok := l.entries[effect.Actor]
	if !ok {
		return domain.TrustDelta{}, false
	}
	e.mu.Lock()
	next, delta := e.record.Apply(effect, l.now())
	e.record = next
	e.dirty = true
	e.mu.Unlock()

	return domain.TrustDelta{
		Actor:    effect.Actor,
		Event:    event,
		XPGained: effect.XP,
		Score:    delta,
	}, true
}

// Get returns a copy of one actor's record.
func (l *Ledger) Get(actor domain.Actor) domain.TrustRecord {
	e, ok := l.entries[actor]
	if !ok {
		return domain.NewTrustRecord(actor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// Score is the routing bias signal for an actor.
func (l *Ledger) Score(actor domain.Actor) float64 {
	return l.Get(actor).Score
}

// Tripped reports an actor on a streak of consecutive bad outcomes.
func (l *Ledger) Tripped(actor domain.Actor) bool {
	return l.Get(actor).BadStreak >= domain.TrippedStreak
}

// Snapshot returns every record ordered by actor.
func (l *Ledger) Snapshot() []domain.TrustRecord {
	records := make([]domain.TrustRecord, 0, len(l.entries))
	for _, actor := range domain.Actors() {
		records = append(records, l.Get(actor))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Actor < records[j].Actor })
	return records
}

// Flush persists dirty records. On failure the records stay dirty and the
// ledger keeps serving from memory.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	var dirty []domain.TrustRecord
	for _, actor := range domain.Actors() {
		e := l.entries[actor]
		e.mu.Lock()
		if e.dirty {
			dirty = append(dirty, e.record)
			e.dirty = false
		}
		e.mu.Unlock()
	}
	if len(dirty) == 0 {
		return nil
	}
	if err := l.repo.SaveTrust(ctx, dirty); err != nil {
		for _, record := range dirty {
			e := l.entries[record.Actor]
			e.mu.Lock()
			e.dirty = true
			e.mu.Unlock()
		}
		if l.logger != nil {
			l.logger.Warn("trust flush failed; continuing in memory", map[string]interface{}{"error": err.Error()})
		}
		return fmt.Errorf("save trust: %w", err)
	}
	return nil
}
