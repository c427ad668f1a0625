package batch

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// DefaultDequeueTimeout bounds how long a worker blocks before re-checking the stop signal.
const DefaultDequeueTimeout = time.Second

// JobQueue is a thread-safe priority queue of pending jobs.
// Higher priority jobs are served first; equal priorities are served in FIFO order.
// Shutdown sentinels are delivered ahead of any queued job.
type JobQueue struct {
	mu        sync.Mutex
	pq        jobHeap
	sequence  int64
	front     int64 // decreasing sequence for jobs pushed back to the head
	sentinels int
	ready     chan struct{}
}

// NewJobQueue creates an empty queue.
func NewJobQueue() *JobQueue {
	pq := make(jobHeap, 0)
	heap.Init(&pq)
	return &JobQueue{
		pq:    pq,
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends a job behind every queued job of the same priority.
func (q *JobQueue) Enqueue(job *models.Job) error {
	if job == nil {
		return errors.New("cannot enqueue nil job")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.pq, &queuedJob{job: job, sequence: q.sequence})
	q.sequence++
	q.signalLocked()
	return nil
}

// pushFront returns a job to the head of its priority class.
func (q *JobQueue) pushFront(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.front--
	heap.Push(&q.pq, &queuedJob{job: job, sequence: q.front})
	q.signalLocked()
}

// PushSentinel queues one shutdown sentinel; it wakes exactly one waiting Dequeue.
func (q *JobQueue) PushSentinel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sentinels++
	q.signalLocked()
}

// Dequeue removes the next job, waiting up to timeout.
// It returns ErrSentinel when a sentinel was consumed, ErrQueueEmpty when the
// timeout elapsed, or the context error when ctx is done.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if q.sentinels > 0 {
			q.sentinels--
			q.signalLocked()
			q.mu.Unlock()
			return nil, ErrSentinel
		}
		if q.pq.Len() > 0 {
			it := heap.Pop(&q.pq).(*queuedJob)
			q.signalLocked()
			q.mu.Unlock()
			return it.job, nil
		}
		q.mu.Unlock()

		if deadline == nil {
			return nil, ErrQueueEmpty
		}

		select {
		case <-q.ready:
		case <-deadline:
			return nil, ErrQueueEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// clearSentinels drops sentinels no worker consumed.
func (q *JobQueue) clearSentinels() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sentinels = 0
}

// Drain removes every queued job for which keep returns false and returns how
// many were removed. Kept jobs retain their relative order.
func (q *JobQueue) Drain(keep func(*models.Job) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make(jobHeap, 0, len(q.pq))
	for _, it := range q.pq {
		if keep(it.job) {
			kept = append(kept, it)
		}
	}
	removed := len(q.pq) - len(kept)
	for i, it := range kept {
		it.index = i
	}
	heap.Init(&kept)
	q.pq = kept
	return removed
}

// Len returns the number of queued jobs, excluding sentinels.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Len()
}

// signalLocked wakes one waiter if there is anything to hand out.
// Each successful Dequeue re-signals, so wakeups chain across waiters.
// Caller must hold q.mu.
func (q *JobQueue) signalLocked() {
	if q.sentinels == 0 && q.pq.Len() == 0 {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// queuedJob wraps a Job with its arrival sequence and heap index.
type queuedJob struct {
	job      *models.Job
	sequence int64 // Arrival order for FIFO within same priority
	index    int   // Required by heap.Interface
}

// jobHeap satisfies heap.Interface.
type jobHeap []*queuedJob

func (h jobHeap) Len() int {
	return len(h)
}

func (h jobHeap) Less(i, j int) bool {
	// Higher priority value is served first
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	it := x.(*queuedJob)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
