package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler manages periodic job execution using cron expressions.
// Each job is protected by a per-job mutex to prevent parallel execution
// of the same job (uses TryLock, so a late tick is skipped, not queued).
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	byName map[string]Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		byName: make(map[string]Job),
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered.
// A job whose schedule is ScheduleOff is accepted and never scheduled.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	s.byName[name] = j
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start initializes the cron scheduler and begins executing registered jobs.
// Returns an error if any job has an invalid schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser))

	scheduled := 0
	for _, j := range s.jobs {
		job := j
		if job.Schedule() == ScheduleOff {
			s.logger.Info("cron: job disabled", "job", job.Name())
			continue
		}
		if _, err := s.cron.AddFunc(job.Schedule(), func() { s.run(ctx, job) }); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}
		scheduled++
	}

	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", scheduled)
	return nil
}

// RunNow executes the named job once, outside its schedule. It returns
// false when the job is unknown or a run is already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	job, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	lock := s.locks[name]
	if !lock.TryLock() {
		return false, nil
	}
	defer lock.Unlock()
	return true, job.Run(ctx)
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	lock := s.locks[job.Name()]
	if !lock.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick", "job", job.Name())
		return
	}
	defer lock.Unlock()

	s.logger.Debug("cron: job started", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		s.logger.Error("cron: job failed", "job", job.Name(), "error", err)
		return
	}
	s.logger.Debug("cron: job completed", "job", job.Name())
}

// Stop gracefully shuts down the scheduler, waiting for in-flight jobs.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
