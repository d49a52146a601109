package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sheetarchiver/internal"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron schedule. A firing that arrives while the
// previous run is still going is skipped.
type Scheduler struct {
	spec    string
	job     Job
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *internal.Logger
	running bool
}

// New creates a scheduler for spec, a standard five-field cron expression
// (or a descriptor such as "@daily") evaluated in loc.
func New(spec string, loc *time.Location, job Job, logger *internal.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	logger = logger.With("scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		spec:   spec,
		job:    job,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start schedules the job and returns immediately. The scheduler stops when
// ctx is cancelled.
//
// Common cron expressions:
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
//   - "@every 1h"    - Hourly from start
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if _, err := cron.ParseStandard(s.spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.spec, err)
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.runJob(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started with %q", s.spec)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed: %v", err)
		return
	}
	s.logger.Debug("scheduled run finished in %s", time.Since(started).Round(time.Millisecond))
}

// Stop stops the scheduler and waits for a running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled time, or nil before Start.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// cronLogger routes cron's own messages into the leveled logger.
type cronLogger struct {
	l *internal.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		c.l.Warn("previous run still in progress; skipping this firing")
		return
	}
	c.l.Trace("cron: %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
