package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/hostq/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Rewind(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(-d)
}

func testSettings() domain.BudgetSettings {
	return domain.BudgetSettings{GlobalMS: 10000, ReserveMS: 500}
}

func TestRemainingIsMonotonicAndClamped(t *testing.T) {
	clock := newFakeClock()
	b := New(testSettings(), clock.Now)

	require.Equal(t, 10*time.Second, b.Remaining())

	clock.Advance(3 * time.Second)
	first := b.Remaining()
	assert.Equal(t, 7*time.Second, first)

	clock.Rewind(2 * time.Second)
	assert.Equal(t, first, b.Remaining(), "remaining must not increase when the clock steps back")

	clock.Advance(20 * time.Second)
	assert.Equal(t, time.Duration(0), b.Remaining())
	assert.Equal(t, time.Duration(0), b.Report().Remaining)
}

func TestExhaustPinsZero(t *testing.T) {
	clock := newFakeClock()
	b := New(testSettings(), clock.Now)
	b.Exhaust()
	assert.Equal(t, time.Duration(0), b.Remaining())
	assert.True(t, b.MustDegrade(domain.StageDrafting))
}

func TestMustDegradeIsPerStage(t *testing.T) {
	clock := newFakeClock()
	b := New(testSettings(), clock.Now)

	assert.False(t, b.MustDegrade(domain.StageAuditing))

	// 2s left: drafting needs 0.5s+1s, auditing needs 0.5s+1.75s.
	clock.Advance(8 * time.Second)
	assert.False(t, b.MustDegrade(domain.StageProbes))
	assert.False(t, b.MustDegrade(domain.StageDrafting))
	assert.True(t, b.MustDegrade(domain.StageAuditing))

	clock.Advance(1600 * time.Millisecond)
	assert.True(t, b.MustDegrade(domain.StageProbes))
	assert.True(t, b.MustDegrade(domain.StageDrafting))
}

func TestStageContextClampedByGlobal(t *testing.T) {
	clock := newFakeClock()
	b := New(domain.BudgetSettings{GlobalMS: 10000, DraftingSoftMS: 4000, DraftingHardMS: 6000}, clock.Now)
	clock.Advance(9990 * time.Millisecond)

	ctx, timer := b.StageContext(context.Background(), domain.StageDrafting)
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 10*time.Millisecond)

	<-ctx.Done()
	outcome := timer.Finish()
	assert.True(t, outcome.HardCrossed)
	assert.Equal(t, []domain.Stage{domain.StageDrafting}, b.Report().HardCrossed)
	assert.Equal(t, time.Duration(0), b.Remaining(), "a clamped hard crossing ends the question's allowance")
}

func TestStageSoftCrossingRecordsHint(t *testing.T) {
	clock := newFakeClock()
	b := New(domain.BudgetSettings{GlobalMS: 15000, DraftingSoftMS: 4000, DraftingHardMS: 6000}, clock.Now)

	_, timer := b.StageContext(context.Background(), domain.StageDrafting)
	clock.Advance(4500 * time.Millisecond)
	outcome := timer.Finish()

	assert.True(t, outcome.SoftCrossed)
	assert.False(t, outcome.HardCrossed)
	assert.True(t, b.SoftCrossed(domain.StageDrafting))
	report := b.Report()
	require.Len(t, report.Hints, 1)
	assert.Contains(t, report.Hints[0], "drafting crossed its soft ceiling")

	// A second Finish is a no-op.
	timer.Finish()
	assert.Len(t, b.Report().Hints, 1)
}

func TestStagesWithoutSoftCeilingNeverCrossSoft(t *testing.T) {
	clock := newFakeClock()
	b := New(domain.BudgetSettings{GlobalMS: 15000, FastPathMS: 150}, clock.Now)

	_, timer := b.StageContext(context.Background(), domain.StageFastPath)
	clock.Advance(time.Second)
	outcome := timer.Finish()
	assert.False(t, outcome.SoftCrossed)
}
