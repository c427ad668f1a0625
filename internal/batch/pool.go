package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// resultObserver is told about every applied result, after the registry update.
type resultObserver func(job *models.Job, result models.JobResult, outcome applyOutcome)

// workerPool runs long-lived workers that pull jobs from the queue, run them
// through the pipeline, and apply the results to the registry.
type workerPool struct {
	queue          *JobQueue
	registry       *Registry
	pipeline       *Pipeline
	cpu            *CPUPool
	size           int
	dequeueTimeout time.Duration
	observe        resultObserver
	logger         *slog.Logger

	// lifecycle serializes start and stop so sentinels of one generation
	// never reach workers of the next.
	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	workers   []chan struct{}
	alive     atomic.Int64
}

// start spawns the workers and opens the CPU pool. Returns false when the
// pool was already running.
func (p *workerPool) start() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.cpu.Open()
	p.workers = make([]chan struct{}, p.size)
	for i := range p.size {
		done := make(chan struct{})
		p.workers[i] = done
		p.alive.Add(1)
		go p.run(ctx, i, done)
	}
	p.running = true
	p.logger.Info("workers started", "workers", p.size, "cpu_pool", p.cpu.Size())
	return true
}

// stop signals every worker, waits for them until timeout has elapsed, and
// shuts the CPU pool down. Workers that miss the deadline are abandoned.
func (p *workerPool) stop(timeout time.Duration) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if !p.running {
		return
	}

	p.cancel()
	for range p.workers {
		p.queue.PushSentinel()
	}

	deadline, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	abandoned := 0
join:
	for i, done := range p.workers {
		select {
		case <-done:
		case <-deadline.Done():
			abandoned = countStragglers(p.workers[i:])
			break join
		}
	}
	if abandoned > 0 {
		p.logger.Warn("workers did not stop before deadline", "abandoned", abandoned, "timeout", timeout)
	}

	p.queue.clearSentinels()
	if err := p.cpu.Shutdown(deadline); err != nil {
		p.logger.Warn("cpu pool still busy at deadline", "error", err)
	}
	p.workers = nil
	p.cancel = nil
	p.running = false
	p.logger.Info("workers stopped")
}

func countStragglers(workers []chan struct{}) int {
	n := 0
	for _, done := range workers {
		select {
		case <-done:
		default:
			n++
		}
	}
	return n
}

// isRunning reports whether workers have been started and not stopped.
func (p *workerPool) isRunning() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.running
}

// activeWorkers returns the number of worker goroutines that have not exited,
// abandoned stragglers included.
func (p *workerPool) activeWorkers() int {
	return int(p.alive.Load())
}

func (p *workerPool) run(ctx context.Context, id int, done chan struct{}) {
	defer close(done)
	defer p.alive.Add(-1)

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")
	for {
		job, err := p.queue.Dequeue(ctx, p.dequeueTimeout)
		if ctx.Err() != nil {
			if job != nil {
				p.queue.pushFront(job)
			}
			logger.Debug("worker stopping")
			return
		}
		switch {
		case errors.Is(err, ErrSentinel):
			logger.Debug("worker received sentinel")
			return
		case errors.Is(err, ErrQueueEmpty):
			continue
		case err != nil:
			logger.Warn("dequeue failed", "error", err)
			continue
		}

		// In-flight jobs are never interrupted by a stop.
		p.process(context.WithoutCancel(ctx), logger, job)
	}
}

func (p *workerPool) process(ctx context.Context, logger *slog.Logger, job *models.Job) {
	if !p.registry.MarkProcessing(job) {
		logger.Warn("skipping job not pending in any batch", "job_id", job.ID, "batch_id", job.BatchID())
		return
	}

	result := p.runSafely(ctx, job)
	outcome := p.registry.Apply(job, result)
	if !outcome.Applied {
		return
	}

	if result.Succeeded() {
		logger.Debug("job completed", "job_id", job.ID, "processing_time", result.ProcessingTime)
	} else {
		logger.Warn("job failed", "job_id", job.ID, "error", deref(result.ErrorMessage))
	}
	if p.observe != nil {
		p.observe(job, result, outcome)
	}
}

// runSafely runs the pipeline and turns any escaped panic into a failed result.
func (p *workerPool) runSafely(ctx context.Context, job *models.Job) (result models.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("pipeline panicked: %v", r)
			result = models.JobResult{JobID: job.ID, Status: models.JobStatusFailed, ErrorMessage: &msg}
		}
	}()
	return p.pipeline.Run(ctx, job)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
