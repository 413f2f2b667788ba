// Package scheduler runs named, independently timed jobs and reports their
// failures and recoveries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/observability"
)

// Handler is one run of a job.
type Handler func(ctx context.Context, now time.Time) error

// Job is a named handler run every Interval.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Handler    Handler
}

// Notifier is told about the first failure of a streak and about the
// recovery that ends it.
type Notifier interface {
	SendError(job string, err error) error
	SendRecovery(job string, failures int) error
}

// ErrUnknownJob is returned by RunOnce for an unregistered name.
var ErrUnknownJob = errors.New("unknown job")

// Scheduler is a registry of jobs, each driven by its own ticker. A job never
// overlaps with itself; different jobs run concurrently.
type Scheduler struct {
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	jobs     map[string]Job
	failures map[string]int
}

// New creates a Scheduler. notifier may be nil.
func New(notifier Notifier) *Scheduler {
	return &Scheduler{
		notifier: notifier,
		now:      time.Now,
		jobs:     make(map[string]Job),
		failures: make(map[string]int),
	}
}

// Register adds a job. Names are unique.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Handler == nil {
		return errors.New("job needs a name and a handler")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failures returns the current consecutive failure count of a job.
func (s *Scheduler) Failures(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[name]
}

// RunOnce runs a job immediately, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, job)
}

// Run starts every job and blocks until ctx is done and all in-flight runs
// have returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}
	logger.Info("scheduler started with %d jobs", len(jobs))
	wg.Wait()
	logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if job.RunOnStart {
		_ = s.run(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, job)
		}
	}
}

// run executes one job run, records it and drives the failure/recovery
// notifications: only the first failure of a streak is reported.
func (s *Scheduler) run(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := s.now()
	err := job.Handler(ctx, start)
	finished := s.now()
	elapsed := finished.Sub(start)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Debug("job %s interrupted by shutdown", job.Name)
		return err
	}

	s.mu.Lock()
	var notifyFailure bool
	var recovered int
	if err != nil {
		s.failures[job.Name]++
		notifyFailure = s.failures[job.Name] == 1
	} else {
		recovered = s.failures[job.Name]
		s.failures[job.Name] = 0
	}
	s.mu.Unlock()

	if err != nil {
		observability.RecordJobRun(job.Name, "error", elapsed.Seconds(), finished.Unix())
		logger.Error("job %s failed after %v: %v", job.Name, elapsed, err)
		if notifyFailure && s.notifier != nil {
			if sendErr := s.notifier.SendError(job.Name, err); sendErr != nil {
				logger.Warn("failed to send failure notification for %s: %v", job.Name, sendErr)
			}
		}
		return err
	}

	observability.RecordJobRun(job.Name, "ok", elapsed.Seconds(), finished.Unix())
	logger.Debug("job %s completed in %v", job.Name, elapsed)
	if recovered > 0 && s.notifier != nil {
		if sendErr := s.notifier.SendRecovery(job.Name, recovered); sendErr != nil {
			logger.Warn("failed to send recovery notification for %s: %v", job.Name, sendErr)
		}
	}
	return nil
}
