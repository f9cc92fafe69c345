// Package scheduler provides cron-based background jobs for the login flow:
// session refresh and preference-cache sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerly/authflow/internal/shared/logger"
)

// Job represents a scheduled job.
type Job struct {
	Name     string
	Schedule string
	EntryID  cron.EntryID
	Runs     int64
	LastErr  error
}

// Func is a job body. Errors are logged, not propagated; jobs keep running.
type Func func(ctx context.Context) error

// Scheduler manages scheduled jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// New creates a new scheduler.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.WithComponent("scheduler"),
		jobs: make(map[string]*Job),
	}
}

// AddJob adds a new scheduled job. The schedule accepts standard cron
// expressions and "@every" intervals.
func (s *Scheduler) AddJob(name, schedule string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{Name: name, Schedule: schedule}

	entryID, err := s.cron.AddFunc(schedule, func() { s.run(job, fn) })
	if err != nil {
		return err
	}

	job.EntryID = entryID
	s.jobs[name] = job
	return nil
}

// run executes one job invocation with panic recovery and bookkeeping.
func (s *Scheduler) run(job *Job, fn Func) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			s.log.LogPanic(ctx, r)
		}
	}()

	err := fn(ctx)

	s.mu.Lock()
	job.Runs++
	job.LastErr = err
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("scheduled job failed", "job", job.Name)
	}
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[name]; ok {
		s.cron.Remove(job.EntryID)
		delete(s.jobs, name)
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Jobs returns a snapshot of all scheduled jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// NextRun returns the next scheduled run time for a job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}

	entry := s.cron.Entry(job.EntryID)
	return entry.Next, true
}
