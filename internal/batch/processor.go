// Package batch schedules documents through the processing pipeline in batches.
//
// A Processor owns a priority job queue, a pool of long-lived workers, and a
// registry of batch aggregates. Submission and cancellation are synchronous;
// everything that happens to a job after it is dequeued is captured in its
// JobResult and reported through status and export calls, never returned as
// an error.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/raphaelgruber/docbatch/internal/audit"
	"github.com/raphaelgruber/docbatch/internal/metrics"
	"github.com/raphaelgruber/docbatch/internal/models"
)

const (
	// DefaultMaxWorkers is the worker count used when Config leaves it unset.
	DefaultMaxWorkers = 4

	minPriority = 1
	maxPriority = 10

	batchIDAttempts = 3
)

// Config controls worker count and timing.
type Config struct {
	MaxWorkers      int
	DequeueTimeout  time.Duration // zero means DefaultDequeueTimeout
	MonitorInterval time.Duration // zero means DefaultMonitorInterval
}

// Stages are the three pipeline stages a job runs through.
type Stages struct {
	Decomposer Decomposer
	Optimizer  Optimizer
	Extractor  Extractor
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAuditSink sets where lifecycle events are sent.
func WithAuditSink(sink audit.Sink) Option {
	return func(p *Processor) {
		p.audit = sink
	}
}

// WithCollector enables job and stage timing.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Processor) {
		p.metrics = c
	}
}

// WithCPUPool shares a CPU pool with the stages. Without it the processor
// creates one sized DefaultCPUPoolSize(MaxWorkers).
func WithCPUPool(pool *CPUPool) Option {
	return func(p *Processor) {
		p.cpu = pool
	}
}

// WithSampler replaces the OS-backed resource sampler.
func WithSampler(s *Sampler) Option {
	return func(p *Processor) {
		p.sampler = s
	}
}

// WithDocumentCheck replaces the readability check run on every reference at
// submission.
func WithDocumentCheck(check func(ref string) error) Option {
	return func(p *Processor) {
		p.checkDocument = check
	}
}

// SubmitOption configures one SubmitBatch call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority int
	callback *Callback
}

// WithPriority sets the priority (1-10) shared by every job of the batch.
func WithPriority(priority int) SubmitOption {
	return func(o *submitOptions) {
		o.priority = priority
	}
}

// WithCallback starts a progress monitor that reports to cb.
func WithCallback(cb Callback) SubmitOption {
	return func(o *submitOptions) {
		o.callback = &cb
	}
}

// Processor is the batch controller.
type Processor struct {
	cfg      Config
	queue    *JobQueue
	registry *Registry
	pool     *workerPool
	cpu      *CPUPool
	sampler  *Sampler
	audit    audit.Sink
	metrics  *metrics.Collector
	logger   *slog.Logger

	checkDocument func(ref string) error

	monitorMu     sync.Mutex
	monitorCtx    context.Context
	stopMonitors  context.CancelFunc
	monitorsGroup sync.WaitGroup
}

// NewProcessor creates a processor. Workers start on the first submission or
// an explicit StartWorkers call.
func NewProcessor(cfg Config, stages Stages, opts ...Option) (*Processor, error) {
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.MaxWorkers < 0 {
		return nil, validationError("max workers must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = DefaultDequeueTimeout
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if stages.Decomposer == nil || stages.Optimizer == nil || stages.Extractor == nil {
		return nil, errors.New("all three pipeline stages are required")
	}

	p := &Processor{
		cfg:           cfg,
		queue:         NewJobQueue(),
		audit:         audit.Nop{},
		logger:        slog.Default(),
		checkDocument: fileReadable,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "batch")
	if p.cpu == nil {
		p.cpu = NewCPUPool(DefaultCPUPoolSize(cfg.MaxWorkers))
	}
	if p.sampler == nil {
		p.sampler = NewSampler(p.logger)
	}
	p.registry = NewRegistry(p.logger)
	p.monitorCtx, p.stopMonitors = context.WithCancel(context.Background())

	p.pool = &workerPool{
		queue:          p.queue,
		registry:       p.registry,
		pipeline:       NewPipeline(stages.Decomposer, stages.Optimizer, stages.Extractor, WithMetrics(p.metrics)),
		cpu:            p.cpu,
		size:           cfg.MaxWorkers,
		dequeueTimeout: cfg.DequeueTimeout,
		observe:        p.observeResult,
		logger:         p.logger,
	}
	return p, nil
}

// SubmitBatch validates refs, registers a batch with one pending job per
// reference, queues the jobs, and makes sure workers are running.
// No job is queued when any reference is unreadable.
func (p *Processor) SubmitBatch(ctx context.Context, refs []string, metadata map[string]any, opts ...SubmitOption) (string, error) {
	o := submitOptions{priority: models.DefaultPriority}
	for _, opt := range opts {
		opt(&o)
	}

	if len(refs) == 0 {
		return "", validationError("document references must not be empty")
	}
	if o.priority < minPriority || o.priority > maxPriority {
		return "", validationError("priority must be between %d and %d, got %d", minPriority, maxPriority, o.priority)
	}
	if o.callback != nil && !o.callback.Valid() {
		return "", validationError("callback is not invocable")
	}

	unreadable := lo.Filter(refs, func(ref string, _ int) bool {
		return p.checkDocument(ref) != nil
	})
	if len(unreadable) > 0 {
		return "", notFoundError("documents not readable: %s", strings.Join(unreadable, ", "))
	}

	batchID, jobs, err := p.register(refs, metadata, o.priority)
	if err != nil {
		return "", err
	}
	for _, job := range jobs {
		if err := p.queue.Enqueue(job); err != nil {
			return "", fmt.Errorf("enqueue %s: %w", job.ID, err)
		}
	}

	p.logger.Info("batch submitted", "batch_id", batchID, "jobs", len(jobs), "priority", o.priority)
	audit.Emit(ctx, p.audit, p.logger, audit.Event{
		Type:         audit.EventBatchStarted,
		ResourceID:   batchID,
		ResourceType: audit.ResourceBatch,
		Metadata: map[string]any{
			"total_jobs": len(jobs),
			"priority":   o.priority,
		},
	})

	p.StartWorkers()
	if o.callback != nil {
		p.startMonitor(batchID, *o.callback)
	}
	return batchID, nil
}

func (p *Processor) register(refs []string, metadata map[string]any, priority int) (string, []*models.Job, error) {
	var lastErr error
	for range batchIDAttempts {
		batchID := newBatchID()
		now := time.Now()
		jobs := lo.Map(refs, func(ref string, i int) *models.Job {
			meta := lo.Assign(metadata, map[string]any{models.MetadataBatchID: batchID})
			return models.NewJob(fmt.Sprintf("%s_job_%04d", batchID, i), ref, meta, priority, now)
		})
		if _, err := p.registry.Create(batchID, jobs); err != nil {
			lastErr = err
			continue
		}
		return batchID, jobs, nil
	}
	return "", nil, fmt.Errorf("allocate batch id: %w", lastErr)
}

func newBatchID() string {
	return "batch_" + uuid.New().String()[:8]
}

// CancelBatch ends a batch early and removes its queued jobs. Jobs already
// running finish normally. Returns false when the batch is unknown or already
// terminal.
func (p *Processor) CancelBatch(batchID string) bool {
	status, ok := p.registry.Cancel(batchID)
	if !ok {
		return false
	}

	discarded := p.queue.Drain(func(job *models.Job) bool {
		return job.BatchID() != batchID
	})
	p.logger.Info("batch cancelled", "batch_id", batchID, "discarded_jobs", discarded)
	audit.Emit(context.Background(), p.audit, p.logger, audit.Event{
		Type:         audit.EventBatchCancelled,
		ResourceID:   batchID,
		ResourceType: audit.ResourceBatch,
		Metadata: map[string]any{
			"discarded_jobs": discarded,
			"completed_jobs": status.CompletedJobs,
			"failed_jobs":    status.FailedJobs,
		},
	})
	return true
}

// BatchStatus returns a snapshot with freshly sampled resource usage, or nil
// when the batch is unknown.
func (p *Processor) BatchStatus(batchID string) *models.BatchStatus {
	status, ok := p.registry.Status(batchID)
	if !ok {
		return nil
	}
	status.ResourceUsage = p.ResourceUsage()
	return &status
}

// ListActiveBatches returns batches that still have unfinished jobs and were
// not cancelled, in submission order.
func (p *Processor) ListActiveBatches() []models.BatchStatus {
	return p.registry.Active()
}

// BatchResults returns the completed and failed results of a batch.
func (p *Processor) BatchResults(batchID string) (completed, failed []models.JobResult, err error) {
	completed, failed, ok := p.registry.Results(batchID)
	if !ok {
		return nil, nil, notFoundError("batch %s", batchID)
	}
	return completed, failed, nil
}

// BatchJobs returns the jobs of a batch with their current status.
func (p *Processor) BatchJobs(batchID string) ([]models.Job, error) {
	if _, ok := p.registry.Status(batchID); !ok {
		return nil, notFoundError("batch %s", batchID)
	}
	return p.registry.Jobs(batchID), nil
}

// ResourceUsage samples process resources together with worker and queue counts.
func (p *Processor) ResourceUsage() models.ResourceUsage {
	return p.sampler.Sample(p.pool.activeWorkers(), p.queue.Len())
}

// Metrics returns job and stage timings. Empty when no collector is set.
func (p *Processor) Metrics() metrics.Snapshot {
	return p.metrics.Snapshot()
}

// StartWorkers starts the worker pool. It is a no-op while workers are running.
func (p *Processor) StartWorkers() {
	p.pool.start()
}

// Running reports whether the worker pool is running.
func (p *Processor) Running() bool {
	return p.pool.isRunning()
}

// StopProcessing stops workers and progress monitors. Workers still busy
// when timeout elapses are abandoned and logged. Calling it while stopped
// does nothing.
func (p *Processor) StopProcessing(timeout time.Duration) error {
	if timeout <= 0 {
		return validationError("timeout must be positive, got %s", timeout)
	}

	p.monitorMu.Lock()
	p.stopMonitors()
	p.monitorCtx, p.stopMonitors = context.WithCancel(context.Background())
	p.monitorMu.Unlock()

	p.pool.stop(timeout)
	return nil
}

// Wait blocks until every progress monitor has returned.
func (p *Processor) Wait() {
	p.monitorsGroup.Wait()
}

func (p *Processor) startMonitor(batchID string, cb Callback) {
	p.monitorMu.Lock()
	ctx := p.monitorCtx
	p.monitorMu.Unlock()

	p.monitorsGroup.Add(1)
	go func() {
		defer p.monitorsGroup.Done()
		monitorBatchProgress(ctx, p.registry, batchID, cb, p.cfg.MonitorInterval, p.ResourceUsage, p.logger)
	}()
}

// observeResult emits audit events for an applied result.
func (p *Processor) observeResult(job *models.Job, result models.JobResult, outcome applyOutcome) {
	ctx := context.Background()
	batchID := job.BatchID()
	if !result.Succeeded() {
		audit.Emit(ctx, p.audit, p.logger, audit.Event{
			Type:         audit.EventJobFailed,
			ResourceID:   job.ID,
			ResourceType: audit.ResourceJob,
			Metadata: map[string]any{
				"batch_id":      batchID,
				"document_ref":  job.DocumentRef,
				"error_message": deref(result.ErrorMessage),
			},
		})
	}
	if outcome.Finished {
		s := outcome.Status
		p.logger.Info("batch completed",
			"batch_id", batchID,
			"completed", s.CompletedJobs,
			"failed", s.FailedJobs,
			"throughput", s.Throughput,
		)
		audit.Emit(ctx, p.audit, p.logger, audit.Event{
			Type:         audit.EventBatchCompleted,
			ResourceID:   batchID,
			ResourceType: audit.ResourceBatch,
			Metadata: map[string]any{
				"completed_jobs":        s.CompletedJobs,
				"failed_jobs":           s.FailedJobs,
				"total_processing_time": s.TotalProcessingTime,
				"throughput":            s.Throughput,
			},
		})
	}
}

// fileReadable reports whether ref names a regular file that can be opened.
func fileReadable(ref string) error {
	info, err := os.Stat(ref)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", ref)
	}
	f, err := os.Open(ref)
	if err != nil {
		return err
	}
	return f.Close()
}
