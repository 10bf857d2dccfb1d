package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobScheduler submits its jobs to a pool on a fixed interval.
type JobScheduler struct {
	Name     string
	Interval time.Duration
	Pool     *WorkingPool
	mu       sync.RWMutex
	jobs     []Job
}

func NewJobScheduler(name string, interval time.Duration, pool *WorkingPool) *JobScheduler {
	return &JobScheduler{
		Name:     name,
		Interval: interval,
		Pool:     pool,
		jobs:     make([]Job, 0),
	}
}

func (s *JobScheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *JobScheduler) Run(ctx context.Context, managerWg *sync.WaitGroup) {
	defer managerWg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	slog.Info("scheduler running", "scheduler", s.Name, "interval", s.Interval)

	for {
		select {
		case <-ticker.C:
			s.submitJobs(ctx)

		case <-ctx.Done():
			slog.Info("scheduler shutting down", "scheduler", s.Name)
			return
		}
	}
}

func (s *JobScheduler) submitJobs(ctx context.Context) {
	s.mu.RLock()
	jobsToRun := make([]Job, len(s.jobs))
	copy(jobsToRun, s.jobs)
	s.mu.RUnlock()

	for _, job := range jobsToRun {
		submitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.Pool.SubmitJob(submitCtx, job); err != nil {
			slog.Error("failed to submit scheduled job", "scheduler", s.Name, "error", err)
		}
		cancel()
	}
}
