package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type Job func(ctx context.Context) error

// ErrNotExecuted is reported for batch jobs that never ran because the
// context was cancelled first.
var ErrNotExecuted = errors.New("job not executed")

type WorkingPool struct {
	Name       string
	NumWorkers int
	jobChan    chan Job
	mu         sync.RWMutex
	closed     bool
}

func NewWorkingPool(name string, numWorkers int, queueSize int) *WorkingPool {
	return &WorkingPool{
		Name:       name,
		NumWorkers: max(numWorkers, 1),
		jobChan:    make(chan Job, queueSize),
	}
}

// SubmitJob queues job, blocking while the queue is full.
func (p *WorkingPool) SubmitJob(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("submit job to pool %s: pool is stopped", p.Name)
	}

	select {
	case p.jobChan <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit job to pool %s: %w", p.Name, ctx.Err())
	}
}

// Start runs the workers until ctx is cancelled, then closes the queue and
// waits for in-flight jobs.
func (p *WorkingPool) Start(ctx context.Context, managerWg *sync.WaitGroup) {
	defer managerWg.Done()

	var workerWg sync.WaitGroup
	for i := range p.NumWorkers {
		workerWg.Add(1)
		go p.worker(ctx, &workerWg, i+1)
	}

	<-ctx.Done()

	slog.Info("working pool shutdown signaled, closing job channel", "pool", p.Name)
	p.mu.Lock()
	p.closed = true
	close(p.jobChan)
	p.mu.Unlock()

	workerWg.Wait()
	slog.Info("working pool stopped", "pool", p.Name)
}

func (p *WorkingPool) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-p.jobChan:
			if !ok {
				return
			}
			_ = p.safeExecution(ctx, job, id)

		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkingPool) safeExecution(ctx context.Context, job Job, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in job", "pool", p.Name, "worker", workerID, "panic", r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	err = job(ctx)
	if err != nil {
		slog.Warn("job failed", "pool", p.Name, "worker", workerID, "error", err)
	}
	return err
}

// RunBatch executes jobs on a short-lived pool of numWorkers and waits for
// all of them. errs[i] is the outcome of jobs[i]; one job failing or
// panicking does not stop the others.
func RunBatch(ctx context.Context, name string, numWorkers int, jobs []Job) []error {
	errs := make([]error, len(jobs))
	pool := NewWorkingPool(name, min(numWorkers, max(len(jobs), 1)), len(jobs))

	for i, job := range jobs {
		errs[i] = ErrNotExecuted
		pool.jobChan <- func(ctx context.Context) error {
			errs[i] = pool.safeExecution(ctx, job, 0)
			return errs[i]
		}
	}
	close(pool.jobChan)

	var wg sync.WaitGroup
	for i := range pool.NumWorkers {
		wg.Add(1)
		go pool.drain(ctx, &wg, i+1)
	}
	wg.Wait()

	return errs
}

// drain runs queued jobs until the queue is empty or ctx is cancelled.
func (p *WorkingPool) drain(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	for job := range p.jobChan {
		if ctx.Err() != nil {
			return
		}
		_ = p.safeExecution(ctx, job, id)
	}
}
