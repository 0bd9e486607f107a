package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by Run for names that were never added.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// JobFunc is called when a scheduled job fires.
type JobFunc func(ctx context.Context) error

// Job describes a registered job.
type Job struct {
	Name     string
	Schedule string
	Next     time.Time // zero until the scheduler is started
}

type entry struct {
	id       cron.EntryID
	schedule string
	fn       JobFunc
}

// Scheduler runs named jobs on cron schedules.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]entry
	ctx    context.Context
	logger *slog.Logger
}

// New creates a new scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]entry),
		ctx:    context.Background(),
		logger: logger.With("component", "scheduler"),
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
// Jobs fired by cron receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// AddJob schedules fn under name, replacing any job with the same name.
// The schedule is a standard cron expression (5 fields) or a descriptor
// like @every 1h.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.run(ctx, name, fn)
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", name, schedule, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = entry{id: id, schedule: schedule, fn: fn}
	s.logger.Info("job added", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob unschedules a job. It reports whether the job existed.
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
	}
	return ok
}

// Run executes a job immediately, outside its schedule.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, name, e.fn)
}

func (s *Scheduler) run(ctx context.Context, name string, fn JobFunc) error {
	start := time.Now()
	s.logger.Info("job fired", "job", name)
	if err := fn(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err, "duration", time.Since(start))
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.logger.Debug("job finished", "job", name, "duration", time.Since(start))
	return nil
}

// Jobs lists the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, Job{Name: name, Schedule: e.schedule, Next: s.cron.Entry(e.id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// JobCount returns the total number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
