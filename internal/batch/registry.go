package batch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// minElapsed keeps throughput finite when a batch finishes within the clock resolution.
const minElapsed = 1e-9

// Registry is the single source of truth for batch progress.
// Updates to one batch are serialized by that batch's own mutex; the map lock
// is only held for lookups, so different batches never block each other.
type Registry struct {
	mu      sync.RWMutex
	batches map[string]*batchEntry
	order   []string // creation order

	now    func() time.Time
	logger *slog.Logger
}

// batchEntry holds one batch's status, jobs, and partitioned results.
type batchEntry struct {
	mu        sync.Mutex
	status    models.BatchStatus
	jobs      []*models.Job
	known     map[string]struct{}
	inFlight  map[string]struct{}
	applied   map[string]struct{}
	completed []models.JobResult
	failed    []models.JobResult
}

// applyOutcome describes the effect of applying one job result.
type applyOutcome struct {
	Applied  bool               // false for orphans, duplicates, and unknown jobs
	Finished bool               // this result moved the batch to its terminal count
	Status   models.BatchStatus // snapshot after the update
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		batches: make(map[string]*batchEntry),
		now:     time.Now,
		logger:  logger,
	}
}

// Create registers a batch whose jobs are all pending.
func (r *Registry) Create(batchID string, jobs []*models.Job) (models.BatchStatus, error) {
	e := &batchEntry{
		status: models.BatchStatus{
			BatchID:     batchID,
			TotalJobs:   len(jobs),
			PendingJobs: len(jobs),
			StartTime:   r.now(),
		},
		jobs:     jobs,
		known:    make(map[string]struct{}, len(jobs)),
		inFlight: make(map[string]struct{}),
		applied:  make(map[string]struct{}, len(jobs)),
	}
	for _, job := range jobs {
		e.known[job.ID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[batchID]; exists {
		return models.BatchStatus{}, fmt.Errorf("batch %s already registered", batchID)
	}
	r.batches[batchID] = e
	r.order = append(r.order, batchID)
	return e.snapshotLocked(), nil
}

func (r *Registry) entry(batchID string) *batchEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batches[batchID]
}

// Status returns a copy of the batch status.
func (r *Registry) Status(batchID string) (models.BatchStatus, bool) {
	e := r.entry(batchID)
	if e == nil {
		return models.BatchStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), true
}

// MarkProcessing moves a dequeued job from pending to processing.
// Returns false for orphaned, unknown, or already finished jobs.
func (r *Registry) MarkProcessing(job *models.Job) bool {
	e := r.entry(job.BatchID())
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.known[job.ID]; !ok {
		return false
	}
	if _, done := e.applied[job.ID]; done {
		return false
	}
	if _, running := e.inFlight[job.ID]; running || e.status.PendingJobs == 0 {
		return false
	}
	e.status.PendingJobs--
	e.status.ProcessingJobs++
	e.inFlight[job.ID] = struct{}{}
	job.Status = models.JobStatusProcessing
	return true
}

// Apply records a job result against its batch. Orphaned jobs are logged and ignored.
func (r *Registry) Apply(job *models.Job, result models.JobResult) applyOutcome {
	batchID := job.BatchID()
	e := r.entry(batchID)
	if e == nil {
		r.logger.Warn("result for unknown batch", "batch_id", batchID, "job_id", job.ID)
		return applyOutcome{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.known[job.ID]; !ok {
		r.logger.Warn("result for job outside batch", "batch_id", batchID, "job_id", job.ID)
		return applyOutcome{}
	}
	if _, dup := e.applied[job.ID]; dup {
		r.logger.Warn("duplicate job result ignored", "batch_id", batchID, "job_id", job.ID)
		return applyOutcome{}
	}
	e.applied[job.ID] = struct{}{}
	job.Status = result.Status
	job.ProcessingTime = result.ProcessingTime
	job.ErrorMessage = result.ErrorMessage

	s := &e.status
	if _, running := e.inFlight[job.ID]; running {
		delete(e.inFlight, job.ID)
		s.ProcessingJobs--
	} else {
		s.PendingJobs = max(0, s.PendingJobs-1)
	}

	if result.Succeeded() {
		s.CompletedJobs++
		e.completed = append(e.completed, result)
	} else {
		s.FailedJobs++
		e.failed = append(e.failed, result)
	}

	s.TotalProcessingTime += result.ProcessingTime
	if finished := s.Finished(); finished > 0 {
		s.AverageJobTime = s.TotalProcessingTime / float64(finished)
	}

	outcome := applyOutcome{Applied: true}
	if s.Done() && s.EndTime == nil {
		e.finishLocked(r.now())
		outcome.Finished = true
	}
	outcome.Status = e.snapshotLocked()
	return outcome
}

// Cancel marks a non-terminal batch as cancelled and ended.
// Returns false when the batch is unknown or already terminal.
func (r *Registry) Cancel(batchID string) (models.BatchStatus, bool) {
	e := r.entry(batchID)
	if e == nil {
		return models.BatchStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.EndTime != nil {
		return models.BatchStatus{}, false
	}
	e.status.Cancelled = true
	e.finishLocked(r.now())
	return e.snapshotLocked(), true
}

// Results returns copies of the completed and failed results of a batch.
func (r *Registry) Results(batchID string) (completed, failed []models.JobResult, ok bool) {
	e := r.entry(batchID)
	if e == nil {
		return nil, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.JobResult{}, e.completed...), append([]models.JobResult{}, e.failed...), true
}

// Jobs returns copies of the jobs of a batch in submission order.
func (r *Registry) Jobs(batchID string) []models.Job {
	e := r.entry(batchID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Map(e.jobs, func(j *models.Job, _ int) models.Job {
		return *j
	})
}

// All returns a snapshot of every batch in creation order.
func (r *Registry) All() []models.BatchStatus {
	r.mu.RLock()
	entries := make([]*batchEntry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.batches[id])
	}
	r.mu.RUnlock()

	return lo.Map(entries, func(e *batchEntry, _ int) models.BatchStatus {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.snapshotLocked()
	})
}

// Active returns batches that still have unfinished jobs and were not cancelled.
func (r *Registry) Active() []models.BatchStatus {
	return lo.Filter(r.All(), func(s models.BatchStatus, _ int) bool {
		return !s.Done() && !s.Cancelled
	})
}

// finishLocked sets the end time and throughput. Caller must hold e.mu.
func (e *batchEntry) finishLocked(now time.Time) {
	end := now
	e.status.EndTime = &end
	elapsed := end.Sub(e.status.StartTime).Seconds()
	e.status.Throughput = float64(e.status.CompletedJobs) / max(elapsed, minElapsed)
}

// snapshotLocked copies the status so callers never share the end time pointer.
// Caller must hold e.mu.
func (e *batchEntry) snapshotLocked() models.BatchStatus {
	s := e.status
	if e.status.EndTime != nil {
		end := *e.status.EndTime
		s.EndTime = &end
	}
	return s
}
