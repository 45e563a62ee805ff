// Package scheduler runs the client's recurring and one-shot jobs:
// the poll loop, report sampling at VTN-requested granularities, and
// the periodic event maintenance tasks. Recurring jobs are driven by
// robfig/cron; one-shot jobs by timers sharing the same job-ID space.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobID identifies a scheduled job. IDs are never reused.
type JobID int

// parser accepts 6-field specs with a seconds column, plus @every
// descriptors.
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type jobHandle struct {
	entry cron.EntryID
	timer *time.Timer
}

// Scheduler owns the cron runner and all outstanding one-shot timers.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	nextID JobID
	jobs   map[JobID]jobHandle
}

// New creates a stopped Scheduler. Call Start before adding time-critical jobs.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		jobs: make(map[JobID]jobHandle),
	}
}

// Start begins dispatching cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// AddEvery schedules fn on a fixed interval.
func (s *Scheduler) AddEvery(interval time.Duration, fn func()) (JobID, error) {
	return s.AddCron("@every "+interval.String(), fn)
}

// AddCron schedules fn on a cron spec (6-field, seconds first).
func (s *Scheduler) AddCron(spec string, fn func()) (JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.cron.AddFunc(spec, func() { safeRun(fn) })
	if err != nil {
		return 0, fmt.Errorf("add cron job %q: %w", spec, err)
	}
	id := s.allocate()
	s.jobs[id] = jobHandle{entry: entry}
	return id, nil
}

// AddAt schedules fn to run once at t. A time in the past fires
// immediately. The job removes itself after firing.
func (s *Scheduler) AddAt(t time.Time, fn func()) JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.allocate()
	delay := time.Until(t)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		safeRun(fn)
		s.Remove(id)
	})
	s.jobs[id] = jobHandle{timer: timer}
	return id
}

// Remove cancels a job. Unknown IDs are ignored.
func (s *Scheduler) Remove(id JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// RemoveAll cancels every outstanding job.
func (s *Scheduler) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		s.removeLocked(id)
	}
}

// JobCount returns the number of outstanding jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Shutdown cancels all jobs and waits for running cron jobs to finish.
func (s *Scheduler) Shutdown() {
	s.RemoveAll()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) allocate() JobID {
	s.nextID++
	return s.nextID
}

func (s *Scheduler) removeLocked(id JobID) {
	h, ok := s.jobs[id]
	if !ok {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	} else {
		s.cron.Remove(h.entry)
	}
	delete(s.jobs, id)
}

// safeRun executes fn with panic recovery to isolate job failures.
func safeRun(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("scheduler: job panicked", "panic", rec)
		}
	}()
	fn()
}

// CronSpec translates a sampling interval into a 6-field cron spec that
// fires at that cadence. Intervals are snapped to the largest unit that
// divides them: seconds below a minute, minutes below an hour, hours
// below a day, daily otherwise.
func CronSpec(interval time.Duration) string {
	if interval < time.Second {
		interval = time.Second
	}
	switch {
	case interval < time.Minute:
		return fmt.Sprintf("*/%d * * * * *", int(interval.Seconds()))
	case interval < time.Hour:
		return fmt.Sprintf("0 */%d * * * *", int(interval.Minutes()))
	case interval < 24*time.Hour:
		return fmt.Sprintf("0 0 */%d * * *", int(interval.Hours()))
	default:
		return "0 0 0 * * *"
	}
}
