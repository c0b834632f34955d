// Package scheduler runs the daemon's maintenance jobs: periodic flushes of
// dirty trust and recipe state, and daily pruning of the answer history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// Job names
const (
	JobFlushTrust   = "flush-trust"
	JobFlushRecipes = "flush-recipes"
	JobPruneHistory = "prune-history"
)

const (
	pruneInterval = 24 * time.Hour
	jobTimeout    = 10 * time.Second
)

// Flusher persists dirty in-memory state.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Pruner deletes history rows older than a cutoff.
type Pruner interface {
	PruneAnswers(ctx context.Context, before time.Time) (int64, error)
}

// Options wires the jobs. Nil collaborators skip their job.
type Options struct {
	Trust   Flusher
	Recipes Flusher
	History Pruner
	Config  ports.ConfigProvider
	Logger  ports.Logger
	Now     func() time.Time

	// FlushInterval and PruneInterval override the configured cadence.
	FlushInterval time.Duration
	PruneInterval time.Duration
}

// Scheduler owns a gocron scheduler and the maintenance jobs on it.
type Scheduler struct {
	opts  Options
	cron  gocron.Scheduler
	jobs  map[string]gocron.Job
	start time.Time
}

// New creates a stopped scheduler.
func New(opts Options) (*Scheduler, error) {
	schedOpts := []gocron.SchedulerOption{gocron.WithLocation(time.Local)}
	if opts.Logger != nil {
		schedOpts = append(schedOpts, gocron.WithLogger(cronLogger{opts.Logger}))
	}
	cron, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{opts: opts, cron: cron, jobs: make(map[string]gocron.Job)}, nil
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	flushEvery := s.opts.FlushInterval
	if flushEvery <= 0 {
		cfg := s.config(ctx)
		flushEvery = cfg.GetFlushInterval()
	}
	pruneEvery := s.opts.PruneInterval
	if pruneEvery <= 0 {
		pruneEvery = pruneInterval
	}

	if s.opts.Trust != nil {
		if err := s.register(JobFlushTrust, flushEvery, false, func() { s.flush(JobFlushTrust, s.opts.Trust) }); err != nil {
			return err
		}
	}
	if s.opts.Recipes != nil {
		if err := s.register(JobFlushRecipes, flushEvery, false, func() { s.flush(JobFlushRecipes, s.opts.Recipes) }); err != nil {
			return err
		}
	}
	if s.opts.History != nil {
		if err := s.register(JobPruneHistory, pruneEvery, true, s.prune); err != nil {
			return err
		}
	}

	s.start = s.now()
	s.cron.Start()
	s.info("scheduler started", map[string]interface{}{
		"flush_interval": flushEvery.String(),
		"jobs":           len(s.jobs),
	})
	return nil
}

// Stop shuts the scheduler down and runs a final flush so dirty state is not lost.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	if err := s.cron.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown scheduler: %w", err))
	}
	if s.opts.Trust != nil {
		if err := s.opts.Trust.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final trust flush: %w", err))
		}
	}
	if s.opts.Recipes != nil {
		if err := s.opts.Recipes.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final recipe flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RunNow triggers a registered job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job.RunNow()
}

// NextRuns reports when each job fires next.
func (s *Scheduler) NextRuns() map[string]time.Time {
	next := make(map[string]time.Time, len(s.jobs))
	for name, job := range s.jobs {
		if at, err := job.NextRun(); err == nil {
			next[name] = at
		}
	}
	return next
}

func (s *Scheduler) register(name string, every time.Duration, immediately bool, task func()) error {
	jobOpts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediately {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	job, err := s.cron.NewJob(gocron.DurationJob(every), gocron.NewTask(task), jobOpts...)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.jobs[name] = job
	return nil
}

func (s *Scheduler) flush(name string, f Flusher) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		s.warn("flush failed", map[string]interface{}{"job": name, "error": err.Error()})
	}
}

func (s *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	cfg := s.config(ctx)
	days := cfg.GetHistoryRetentionDays()
	cutoff := s.now().AddDate(0, 0, -days)
	removed, err := s.opts.History.PruneAnswers(ctx, cutoff)
	if err != nil {
		s.warn("history prune failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if removed > 0 {
		s.info("history pruned", map[string]interface{}{"removed": removed, "retention_days": days})
	}
}

func (s *Scheduler) config(ctx context.Context) domain.Config {
	if s.opts.Config == nil {
		return domain.Config{}
	}
	cfg, err := s.opts.Config.Load(ctx)
	if err != nil {
		s.warn("config unavailable; using defaults", map[string]interface{}{"error": err.Error()})
		return domain.Config{}
	}
	return cfg
}

func (s *Scheduler) now() time.Time {
	if s.opts.Now == nil {
		return time.Now()
	}
	return s.opts.Now()
}

func (s *Scheduler) info(msg string, fields map[string]interface{}) {
	if s.opts.Logger != nil {
		s.opts.Logger.Info(msg, fields)
	}
}

func (s *Scheduler) warn(msg string, fields map[string]interface{}) {
	if s.opts.Logger != nil {
		s.opts.Logger.Warn(msg, fields)
	}
}

// cronLogger routes gocron's key/value logging into ports.Logger.
type cronLogger struct {
	logger ports.Logger
}

func (l cronLogger) Debug(msg string, args ...any) { l.logger.Debug("gocron: "+msg, kv(args)) }
func (l cronLogger) Info(msg string, args ...any)  { l.logger.Info("gocron: "+msg, kv(args)) }
func (l cronLogger) Warn(msg string, args ...any)  { l.logger.Warn("gocron: "+msg, kv(args)) }
func (l cronLogger) Error(msg string, args ...any) {
	l.logger.Error("gocron: "+msg, nil, kv(args))
}

func kv(args []any) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(args)/2+1)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	if len(args)%2 == 1 {
		fields["extra"] = args[len(args)-1]
	}
	return fields
}
