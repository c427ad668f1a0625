package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docbatch/internal/models"
)

func testJob(batchID string, n, priority int) *models.Job {
	return models.NewJob(
		fmt.Sprintf("%s_job_%04d", batchID, n),
		fmt.Sprintf("doc-%d.md", n),
		map[string]any{models.MetadataBatchID: batchID},
		priority,
		time.Time{},
	)
}

func TestJobQueue_PriorityThenFIFO(t *testing.T) {
	q := NewJobQueue()
	jobs := []*models.Job{
		testJob("b", 0, 5),
		testJob("b", 1, 9),
		testJob("b", 2, 5),
		testJob("b", 3, 1),
		testJob("b", 4, 9),
	}
	for _, j := range jobs {
		require.NoError(t, q.Enqueue(j))
	}

	var got []string
	for range jobs {
		j, err := q.Dequeue(context.Background(), 0)
		require.NoError(t, err)
		got = append(got, j.ID)
	}

	assert.Equal(t, []string{"b_job_0001", "b_job_0004", "b_job_0000", "b_job_0002", "b_job_0003"}, got)
}

func TestJobQueue_EnqueueNil(t *testing.T) {
	assert.Error(t, NewJobQueue().Enqueue(nil))
}

func TestJobQueue_DequeueTimeout(t *testing.T) {
	q := NewJobQueue()

	start := time.Now()
	_, err := q.Dequeue(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	_, err = q.Dequeue(context.Background(), 0)
	assert.ErrorIs(t, err, ErrQueueEmpty, "zero timeout polls once")
}

func TestJobQueue_DequeueWakesOnEnqueue(t *testing.T) {
	q := NewJobQueue()
	got := make(chan *models.Job, 1)
	go func() {
		j, _ := q.Dequeue(context.Background(), 5*time.Second)
		got <- j
	}()

	time.Sleep(10 * time.Millisecond)
	job := testJob("b", 0, 5)
	require.NoError(t, q.Enqueue(job))

	select {
	case j := <-got:
		assert.Same(t, job, j)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue was not woken by enqueue")
	}
}

func TestJobQueue_SentinelTakesPrecedence(t *testing.T) {
	q := NewJobQueue()
	require.NoError(t, q.Enqueue(testJob("b", 0, 10)))
	q.PushSentinel()

	_, err := q.Dequeue(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSentinel)

	j, err := q.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "b_job_0000", j.ID)
	assert.Equal(t, 0, q.Len())
}

func TestJobQueue_SentinelsWakeEveryWaiter(t *testing.T) {
	q := NewJobQueue()
	const waiters = 4

	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Dequeue(context.Background(), 5*time.Second)
			errs <- err
		}()
	}

	time.Sleep(10 * time.Millisecond)
	for range waiters {
		q.PushSentinel()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrSentinel)
	}
}

func TestJobQueue_DequeueContextCancelled(t *testing.T) {
	q := NewJobQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJobQueue_PushFront(t *testing.T) {
	q := NewJobQueue()
	require.NoError(t, q.Enqueue(testJob("b", 0, 5)))
	require.NoError(t, q.Enqueue(testJob("b", 1, 5)))
	q.pushFront(testJob("b", 2, 5))
	require.NoError(t, q.Enqueue(testJob("b", 3, 7)))

	var got []string
	for q.Len() > 0 {
		j, err := q.Dequeue(context.Background(), 0)
		require.NoError(t, err)
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{"b_job_0003", "b_job_0002", "b_job_0000", "b_job_0001"}, got)
}

func TestJobQueue_DrainKeepsForeignJobs(t *testing.T) {
	q := NewJobQueue()
	for i := range 4 {
		require.NoError(t, q.Enqueue(testJob("target", i, 5)))
	}
	require.NoError(t, q.Enqueue(testJob("other", 0, 5)))

	removed := q.Drain(func(j *models.Job) bool { return j.BatchID() != "target" })

	assert.Equal(t, 4, removed)
	require.Equal(t, 1, q.Len())
	j, err := q.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "other", j.BatchID())
}

func TestJobQueue_DrainPreservesOrder(t *testing.T) {
	q := NewJobQueue()
	for i := range 6 {
		require.NoError(t, q.Enqueue(testJob("b", i, 5)))
	}

	q.Drain(func(j *models.Job) bool { return j.ID != "b_job_0002" })

	var got []string
	for q.Len() > 0 {
		j, err := q.Dequeue(context.Background(), 0)
		require.NoError(t, err)
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{"b_job_0000", "b_job_0001", "b_job_0003", "b_job_0004", "b_job_0005"}, got)
}

func TestJobQueue_ClearSentinels(t *testing.T) {
	q := NewJobQueue()
	q.PushSentinel()
	q.PushSentinel()
	q.clearSentinels()

	_, err := q.Dequeue(context.Background(), 0)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
