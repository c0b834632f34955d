// Package budget owns the wall-clock allowance of one question.
//
// A Budget is created per question and never shared. The global deadline is
// fixed at construction; stage ceilings are per-call allowances measured from
// the moment a stage starts and are always clamped by the global deadline.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// Budget tracks elapsed and remaining time for one question.
type Budget struct {
	mu        sync.Mutex
	now       func() time.Time
	settings  domain.BudgetSettings
	start     time.Time
	deadline  time.Time
	floor     time.Duration
	exhausted bool
	soft      []domain.Stage
	hard      []domain.Stage
	hints     []string
}

// Report is a snapshot for traces and telemetry.
type Report struct {
	Elapsed     time.Duration
	Remaining   time.Duration
	SoftCrossed []domain.Stage
	HardCrossed []domain.Stage
	Hints       []string
}

// New opens a budget at now().
func New(settings domain.BudgetSettings, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	start := now()
	global := settings.Global()
	return &Budget{
		now:      now,
		settings: settings,
		start:    start,
		deadline: start.Add(global),
		floor:    global,
	}
}

// Deadline is the global hard ceiling.
func (b *Budget) Deadline() time.Time {
	return b.deadline
}

// Elapsed is the time since the budget opened.
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// Remaining never increases and never goes below zero.
func (b *Budget) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked()
}

func (b *Budget) remainingLocked() time.Duration {
	if b.exhausted {
		return 0
	}
	left := b.deadline.Sub(b.now())
	if left < 0 {
		left = 0
	}
	if left > b.floor {
		left = b.floor
	}
	b.floor = left
	return left
}

// Exhaust pins the remaining allowance to zero.
func (b *Budget) Exhaust() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exhausted = true
	b.floor = 0
}

// MustDegrade reports whether too little time is left to start the stage safely.
func (b *Budget) MustDegrade(stage domain.Stage) bool {
	return b.Remaining() < b.settings.MinStart(stage)
}

// StageContext derives the context of one stage call. The hard deadline is the
// stage's allowance clamped by the global deadline. Call Finish on the
// returned timer when the stage returns.
func (b *Budget) StageContext(ctx context.Context, stage domain.Stage) (context.Context, *StageTimer) {
	soft, hard := b.settings.StageLimits(stage)
	remaining := b.Remaining()
	allowance := hard
	clamped := false
	if remaining < allowance {
		allowance = remaining
		clamped = true
	}
	stageCtx, cancel := context.WithTimeout(ctx, allowance)
	return stageCtx, &StageTimer{
		budget:  b,
		stage:   stage,
		ctx:     stageCtx,
		cancel:  cancel,
		started: b.now(),
		soft:    soft,
		hard:    hard,
		clamped: clamped,
	}
}

// SoftCrossed reports whether a stage has crossed its soft ceiling during this question.
func (b *Budget) SoftCrossed(stage domain.Stage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return containsStage(b.soft, stage)
}

// Hint records a degradation hint.
func (b *Budget) Hint(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hints = append(b.hints, fmt.Sprintf(format, args...))
}

// Report snapshots the budget.
func (b *Budget) Report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Report{
		Elapsed:     b.now().Sub(b.start),
		Remaining:   b.remainingLocked(),
		SoftCrossed: append([]domain.Stage(nil), b.soft...),
		HardCrossed: append([]domain.Stage(nil), b.hard...),
		Hints:       append([]string(nil), b.hints...),
	}
}

func (b *Budget) markSoft(stage domain.Stage, took time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !containsStage(b.soft, stage) {
		b.soft = append(b.soft, stage)
	}
	b.hints = append(b.hints, fmt.Sprintf("%s crossed its soft ceiling after %s; optional refinement skipped", stage, took.Round(time.Millisecond)))
}

func (b *Budget) markHard(stage domain.Stage, global bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !containsStage(b.hard, stage) {
		b.hard = append(b.hard, stage)
	}
	if global {
		b.exhausted = true
		b.floor = 0
	}
}

func containsStage(stages []domain.Stage, stage domain.Stage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

// StageTimer tracks one stage call.
type StageTimer struct {
	budget  *Budget
	stage   domain.Stage
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	soft    time.Duration
	hard    time.Duration
	clamped bool
	once    sync.Once
	outcome StageOutcome
}

// StageOutcome summarises how a stage call ended relative to its ceilings.
type StageOutcome struct {
	Stage       domain.Stage
	Took        time.Duration
	SoftCrossed bool
	HardCrossed bool
}

// Finish releases the stage context and records ceiling crossings. It is safe
// to call more than once.
func (t *StageTimer) Finish() StageOutcome {
	t.once.Do(func() {
		took := t.budget.now().Sub(t.started)
		hardHit := t.ctx.Err() == context.DeadlineExceeded
		t.cancel()
		t.outcome = StageOutcome{Stage: t.stage, Took: took, HardCrossed: hardHit}
		if t.soft < t.hard && took >= t.soft {
			t.outcome.SoftCrossed = true
			t.budget.markSoft(t.stage, took)
		}
		if hardHit {
			t.budget.markHard(t.stage, t.clamped)
		}
	})
	return t.outcome
}
