package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingFlusher struct {
	calls atomic.Int64
	err   error
}

func (f *countingFlusher) Flush(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *recordingPruner) PruneAnswers(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 3, nil
}

func (p *recordingPruner) last() (time.Time, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cutoffs) == 0 {
		return time.Time{}, 0
	}
	return p.cutoffs[len(p.cutoffs)-1], len(p.cutoffs)
}

type stubConfigProvider struct {
	cfg domain.Config
}

func (s stubConfigProvider) Load(context.Context) (domain.Config, error) {
	return s.cfg, nil
}

func TestFlushJobsRunOnInterval(t *testing.T) {
	trust := &countingFlusher{}
	recipes := &countingFlusher{err: errors.New("disk full")}
	s, err := New(Options{
		Trust:         trust,
		Recipes:       recipes,
		Logger:        logger.NewNop(),
		FlushInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return trust.calls.Load() >= 2 && recipes.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	before := trust.calls.Load()
	err = s.Stop(context.Background())
	require.Error(t, err, "final recipe flush error is reported")
	assert.Contains(t, err.Error(), "final recipe flush")
	assert.Greater(t, trust.calls.Load(), before, "Stop runs a final flush")
}

func TestPruneUsesRetentionDays(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	pruner := &recordingPruner{}
	s, err := New(Options{
		History: pruner,
		Config:  stubConfigProvider{cfg: domain.Config{History: domain.HistorySettings{RetentionDays: 7}}},
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	// The prune job starts immediately.
	assert.Eventually(t, func() bool {
		_, n := pruner.last()
		return n >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cutoff, _ := pruner.last()
	assert.Equal(t, now.AddDate(0, 0, -7), cutoff)

	next := s.NextRuns()
	assert.Contains(t, next, JobPruneHistory)
	assert.NotContains(t, next, JobFlushTrust)
}

func TestRunNow(t *testing.T) {
	trust := &countingFlusher{}
	s, err := New(Options{Trust: trust, FlushInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.RunNow(JobFlushTrust))
	assert.Eventually(t, func() bool { return trust.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Error(t, s.RunNow("vacuum"))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int64(2), trust.calls.Load())
}

func TestDefaultFlushIntervalComesFromConfig(t *testing.T) {
	cfg := domain.Config{State: domain.StateSettings{FlushIntervalSeconds: 3600}}
	s, err := New(Options{Trust: &countingFlusher{}, Config: stubConfigProvider{cfg: cfg}})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	next := s.NextRuns()[JobFlushTrust]
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)
}

func TestKeyValueArgs(t *testing.T) {
	assert.Nil(t, kv(nil))
	assert.Equal(t, map[string]interface{}{"job": "flush-trust", "extra": 3}, kv([]any{"job", "flush-trust", 3}))
}
