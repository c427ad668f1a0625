package batch

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docbatch/internal/audit"
	"github.com/raphaelgruber/docbatch/internal/metrics"
	"github.com/raphaelgruber/docbatch/internal/models"
)

var batchIDPattern = regexp.MustCompile(`^batch_[0-9a-f]{8}$`)

func TestNewProcessor_Validation(t *testing.T) {
	_, err := NewProcessor(Config{MaxWorkers: -1}, okStages())
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewProcessor(Config{}, Stages{Decomposer: decomposeFunc(okDecompose)})
	assert.Error(t, err)

	p, err := NewProcessor(Config{}, okStages(), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxWorkers, p.cfg.MaxWorkers)
	assert.Equal(t, DefaultDequeueTimeout, p.cfg.DequeueTimeout)
	assert.Equal(t, DefaultMonitorInterval, p.cfg.MonitorInterval)
	assert.False(t, p.Running())
}

func TestSubmitBatch_ReturnsIDAndPendingStatus(t *testing.T) {
	stages, release := gatedStages()
	defer release()
	p := newTestProcessor(t, Config{MaxWorkers: 1}, stages, WithDocumentCheck(fileReadable))
	docs := writeDocs(t, "a.pdf", "b.pdf")

	batchID, err := p.SubmitBatch(context.Background(), docs, map[string]any{"source": "test"})
	require.NoError(t, err)
	assert.Regexp(t, batchIDPattern, batchID)

	s := p.BatchStatus(batchID)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.TotalJobs)
	assert.Equal(t, 2, s.PendingJobs+s.ProcessingJobs, "no job can finish while the stage is gated")
	requireInvariant(t, *s)
	assert.Equal(t, 64.0, s.ResourceUsage.MemoryMB)

	jobs, err := p.BatchJobs(batchID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, batchID+"_job_0000", jobs[0].ID)
	assert.Equal(t, batchID+"_job_0001", jobs[1].ID)
	assert.Equal(t, batchID, jobs[0].Metadata[models.MetadataBatchID])
	assert.Equal(t, "test", jobs[0].Metadata["source"])
	assert.Equal(t, models.DefaultPriority, jobs[0].Priority)
}

func TestSubmitBatch_MissingDocumentIsAllOrNothing(t *testing.T) {
	p := newTestProcessor(t, Config{MaxWorkers: 1}, okStages(), WithDocumentCheck(fileReadable))
	docs := writeDocs(t, "a.pdf")

	_, err := p.SubmitBatch(context.Background(), []string{docs[0], "missing.pdf"}, nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "missing.pdf")

	assert.Empty(t, p.ListActiveBatches())
	assert.Empty(t, p.registry.All())
	assert.Zero(t, p.queue.Len())
	assert.False(t, p.Running())
}

func TestSubmitBatch_DirectoryIsNotReadable(t *testing.T) {
	p := newTestProcessor(t, Config{MaxWorkers: 1}, okStages(), WithDocumentCheck(fileReadable))

	_, err := p.SubmitBatch(context.Background(), []string{t.TempDir()}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitBatch_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		refs []string
		opts []SubmitOption
	}{
		{"empty refs", nil, nil},
		{"priority too low", []string{"a"}, []SubmitOption{WithPriority(0)}},
		{"priority too high", []string{"a"}, []SubmitOption{WithPriority(11)}},
		{"zero callback", []string{"a"}, []SubmitOption{WithCallback(Callback{})}},
		{"nil sync callback", []string{"a"}, []SubmitOption{WithCallback(SyncCallback(nil))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, Config{MaxWorkers: 1}, okStages())

			_, err := p.SubmitBatch(context.Background(), tt.refs, nil, tt.opts...)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, p.registry.All(), "nothing registered on validation failure")
		})
	}
}

func TestSubmitBatch_ProcessesToCompletion(t *testing.T) {
	sink := &recordingSink{}
	collector := metrics.NewCollector()
	p := newTestProcessor(t, Config{MaxWorkers: 3}, failingRefStages("bad.md"),
		WithAuditSink(sink), WithCollector(collector))

	batchID, err := p.SubmitBatch(context.Background(),
		[]string{"one.md", "bad.md", "two.md", "three.md"}, nil, WithPriority(8))
	require.NoError(t, err)

	s := waitDone(t, p, batchID)
	requireInvariant(t, s)
	assert.Equal(t, 3, s.CompletedJobs)
	assert.Equal(t, 1, s.FailedJobs)
	assert.Zero(t, s.PendingJobs)
	assert.Zero(t, s.ProcessingJobs)
	require.NotNil(t, s.EndTime)
	assert.Greater(t, s.Throughput, 0.0)
	assert.InDelta(t, s.TotalProcessingTime/4, s.AverageJobTime, 1e-9)
	assert.Empty(t, p.ListActiveBatches())

	completed, failed, err := p.BatchResults(batchID)
	require.NoError(t, err)
	assert.Len(t, completed, 3)
	require.Len(t, failed, 1)
	assert.Equal(t, batchID+"_job_0001", failed[0].JobID)

	require.Eventually(t, func() bool {
		types := sink.types()
		return len(types) == 3
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{audit.EventBatchStarted, audit.EventJobFailed, audit.EventBatchCompleted},
		sink.types())

	assert.Equal(t, int64(4), p.Metrics().Operations[metrics.OpJob].Count)
}

func TestSubmitBatch_StageTwoFailure(t *testing.T) {
	stages := okStages()
	stages.Optimizer = optimizeFunc(func(context.Context, string, map[string]any) (*models.OptimizedDocument, error) {
		return nil, assert.AnError
	})
	p := newTestProcessor(t, Config{MaxWorkers: 1}, stages)

	batchID, err := p.SubmitBatch(context.Background(), []string{"a.md"}, nil)
	require.NoError(t, err)
	waitDone(t, p, batchID)

	_, failed, err := p.BatchResults(batchID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	r := failed[0]
	assert.Equal(t, models.JobStatusFailed, r.Status)
	assert.Nil(t, r.DocumentID)
	assert.Nil(t, r.GraphID)
	assert.Zero(t, r.EntityCount)
	require.NotNil(t, r.ErrorMessage)
}

func TestSubmitBatch_PanickingStageDoesNotKillWorker(t *testing.T) {
	stages := okStages()
	stages.Decomposer = decomposeFunc(func(ctx context.Context, ref string, meta map[string]any) (*models.Document, error) {
		if ref == "panic.md" {
			panic("decoder crashed")
		}
		return okDecompose(ctx, ref, meta)
	})
	p := newTestProcessor(t, Config{MaxWorkers: 1}, stages)

	batchID, err := p.SubmitBatch(context.Background(), []string{"panic.md", "fine.md"}, nil)
	require.NoError(t, err)

	s := waitDone(t, p, batchID)
	assert.Equal(t, 1, s.CompletedJobs)
	assert.Equal(t, 1, s.FailedJobs)
}

func TestSubmitBatch_Callback(t *testing.T) {
	p := newTestProcessor(t, Config{MaxWorkers: 2}, okStages())

	var mu sync.Mutex
	var seen []models.BatchStatus
	cb := SyncCallback(func(s models.BatchStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	batchID, err := p.SubmitBatch(context.Background(), []string{"a.md", "b.md", "c.md"}, nil, WithCallback(cb))
	require.NoError(t, err)
	waitDone(t, p, batchID)
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.True(t, last.Done())
	assert.Equal(t, batchID, last.BatchID)
}

func TestCancelBatch_RemovesOnlyTargetJobs(t *testing.T) {
	sink := &recordingSink{}
	p := newTestProcessor(t, Config{MaxWorkers: 1}, okStages(), WithAuditSink(sink))

	// Register directly so no worker drains the queue under the test.
	target := newBatch(t, p.registry, "batch_target", 4)
	foreign := newBatch(t, p.registry, "batch_foreign", 1)
	for _, j := range append(target, foreign...) {
		require.NoError(t, p.queue.Enqueue(j))
	}

	assert.True(t, p.CancelBatch("batch_target"))
	require.Equal(t, 1, p.queue.Len())
	j, err := p.queue.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "batch_foreign", j.BatchID())

	s := p.BatchStatus("batch_target")
	require.NotNil(t, s)
	assert.True(t, s.Cancelled)
	assert.NotNil(t, s.EndTime)
	requireInvariant(t, *s)

	assert.False(t, p.CancelBatch("batch_target"), "already terminal")
	assert.False(t, p.CancelBatch("batch_unknown"))
	assert.Equal(t, []string{audit.EventBatchCancelled}, sink.types())

	active := p.ListActiveBatches()
	require.Len(t, active, 1)
	assert.Equal(t, "batch_foreign", active[0].BatchID)
}

func TestCancelBatch_InFlightJobFinishes(t *testing.T) {
	stages, release := gatedStages()
	p := newTestProcessor(t, Config{MaxWorkers: 1}, stages)

	batchID, err := p.SubmitBatch(context.Background(), []string{"a.md", "b.md", "c.md"}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return p.BatchStatus(batchID).ProcessingJobs == 1
	}, 2*time.Second, time.Millisecond)

	require.True(t, p.CancelBatch(batchID))
	release()

	require.Eventually(t, func() bool {
		return p.BatchStatus(batchID).CompletedJobs == 1
	}, 2*time.Second, time.Millisecond)

	s := p.BatchStatus(batchID)
	requireInvariant(t, *s)
	assert.Equal(t, 2, s.PendingJobs, "discarded jobs never run")
	assert.Zero(t, p.queue.Len())
}

func TestBatchStatus_Unknown(t *testing.T) {
	p := newTestProcessor(t, Config{MaxWorkers: 1}, okStages())
	assert.Nil(t, p.BatchStatus("batch_ffffffff"))

	_, _, err := p.BatchResults("batch_ffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.BatchJobs("batch_ffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStopProcessing(t *testing.T) {
	p := newTestProcessor(t, Config{MaxWorkers: 2}, okStages())

	assert.ErrorIs(t, p.StopProcessing(0), ErrValidation)
	assert.ErrorIs(t, p.StopProcessing(-time.Second), ErrValidation)
	assert.NoError(t, p.StopProcessing(time.Second), "stopping an idle processor is a no-op")

	p.StartWorkers()
	p.StartWorkers()
	assert.True(t, p.Running())
	require.Eventually(t, func() bool { return p.ResourceUsage().ActiveWorkers == 2 }, time.Second, time.Millisecond)

	require.NoError(t, p.StopProcessing(time.Second))
	require.NoError(t, p.StopProcessing(time.Second))
	assert.False(t, p.Running())
	assert.Zero(t, p.ResourceUsage().ActiveWorkers)
}

func TestStopProcessing_AbandonsStragglersAndResumes(t *testing.T) {
	stages, release := gatedStages()
	p := newTestProcessor(t, Config{MaxWorkers: 1}, stages)

	batchID, err := p.SubmitBatch(context.Background(), []string{"a.md", "b.md", "c.md"}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return p.BatchStatus(batchID).ProcessingJobs == 1
	}, 2*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, p.StopProcessing(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second, "stop must not hang past its deadline")
	assert.False(t, p.Running())
	assert.Equal(t, 2, p.queue.Len(), "queued jobs survive a stop")

	release()
	p.StartWorkers()

	s := waitDone(t, p, batchID)
	requireInvariant(t, s)
	assert.Equal(t, 3, s.CompletedJobs)
}

func TestProcessor_ManyBatchesKeepInvariant(t *testing.T) {
	p := newTestProcessor(t, Config{MaxWorkers: 8}, failingRefStages("doc-3.md"))

	var ids []string
	for range 6 {
		refs := []string{"doc-0.md", "doc-1.md", "doc-2.md", "doc-3.md", "doc-4.md"}
		id, err := p.SubmitBatch(context.Background(), refs, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		s := waitDone(t, p, id)
		requireInvariant(t, s)
		assert.Equal(t, 4, s.CompletedJobs)
		assert.Equal(t, 1, s.FailedJobs)
	}

	stats := p.Statistics()
	assert.Equal(t, 24, stats.TotalProcessed)
	assert.Equal(t, 6, stats.TotalFailed)
	assert.Equal(t, 30, stats.TotalJobs)
	assert.InDelta(t, 0.8, stats.SuccessRate, 1e-9)
	assert.Zero(t, stats.ActiveBatches)
}
