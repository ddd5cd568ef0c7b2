// Package scheduler runs periodic maintenance jobs such as state backups.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultBackupSpec runs the backup job once an hour.
const DefaultBackupSpec = "@hourly"

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Logger is the logging surface used by the scheduler.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Scheduler runs named jobs on cron schedules in UTC.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger

	mu      sync.Mutex
	runs    map[string]int
	failed  map[string]int
	started bool
}

// New creates a scheduler. A nil logger discards output.
func New(logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		runs:   make(map[string]int),
		failed: make(map[string]int),
	}
}

// Add registers job under name with a standard cron spec or descriptor such
// as "@hourly". Overlapping runs of the same job are skipped.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if job == nil {
		return fmt.Errorf("job %s: nil function", name)
	}
	if spec == "" {
		spec = DefaultBackupSpec
	}
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.Run(s.ctx, name, job)
	}))
	if _, err := s.cron.AddJob(spec, wrapped); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// Run executes job immediately and records its outcome.
func (s *Scheduler) Run(ctx context.Context, name string, job Job) {
	started := time.Now()
	err := job(ctx)
	s.mu.Lock()
	s.runs[name]++
	if err != nil {
		s.failed[name]++
	}
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("scheduled job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("scheduled job completed", "job", name, "duration", time.Since(started))
}

// Start begins dispatching jobs. It is a no-op when called twice.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs and cancels their context.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Stats returns how often name ran and how many runs failed.
func (s *Scheduler) Stats(name string) (runs, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name], s.failed[name]
}

// Next reports the next activation time of the first scheduled job.
func (s *Scheduler) Next() (time.Time, bool) {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}
