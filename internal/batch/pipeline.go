package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/docbatch/internal/metrics"
	"github.com/raphaelgruber/docbatch/internal/models"
)

// Decomposer turns a document reference into raw content (stage 1).
type Decomposer interface {
	Decompose(ctx context.Context, documentRef string, metadata map[string]any) (*models.Document, error)
}

// Optimizer turns raw content into an identified, chunked document (stage 2).
// It may return a partially populated document together with an error.
type Optimizer interface {
	Optimize(ctx context.Context, content string, metadata map[string]any) (*models.OptimizedDocument, error)
}

// Extractor builds and persists a knowledge graph from an optimized document (stage 3).
type Extractor interface {
	Extract(ctx context.Context, doc *models.OptimizedDocument) (*models.Graph, error)
}

// Pipeline runs one job through the three stages with timing and failure isolation.
type Pipeline struct {
	decomposer Decomposer
	optimizer  Optimizer
	extractor  Extractor
	metrics    *metrics.Collector
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMetrics wraps every job and stage in a named timing span.
func WithMetrics(c *metrics.Collector) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = c
	}
}

// NewPipeline creates a pipeline over the given stages.
func NewPipeline(d Decomposer, o Optimizer, e Extractor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{decomposer: d, optimizer: o, extractor: e}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the stages for job. It never panics and never returns an error:
// every failure is captured in the result, along with whatever the earlier
// stages produced.
func (p *Pipeline) Run(ctx context.Context, job *models.Job) (result models.JobResult) {
	span := p.metrics.Start(metrics.OpJob)
	start := time.Now()
	result = models.JobResult{JobID: job.ID, Status: models.JobStatusFailed}
	defer func() {
		result.ProcessingTime = time.Since(start).Seconds()
		var err error
		if result.ErrorMessage != nil {
			err = errors.New(*result.ErrorMessage)
		}
		span.End(err)
	}()

	doc, err := runStage(p.metrics, metrics.OpDecompose, func() (*models.Document, error) {
		return p.decomposer.Decompose(ctx, job.DocumentRef, job.Metadata)
	})
	if err == nil && doc == nil {
		err = errors.New("no document returned")
	}
	if err != nil {
		return failResult(result, "decompose", err)
	}

	optimized, err := runStage(p.metrics, metrics.OpOptimize, func() (*models.OptimizedDocument, error) {
		return p.optimizer.Optimize(ctx, doc.Content, doc.Metadata)
	})
	if err == nil && optimized == nil {
		err = errors.New("no optimized document returned")
	}
	if err != nil {
		if optimized != nil {
			result.ChunkCount = len(optimized.Chunks)
		}
		return failResult(result, "optimize", err)
	}
	documentID := optimized.DocumentID
	result.DocumentID = &documentID
	result.ChunkCount = len(optimized.Chunks)

	graph, err := runStage(p.metrics, metrics.OpExtract, func() (*models.Graph, error) {
		return p.extractor.Extract(ctx, optimized)
	})
	if err == nil && graph == nil {
		err = errors.New("no graph returned")
	}
	if err != nil {
		return failResult(result, "extract", err)
	}

	result.Status = models.JobStatusCompleted
	result.GraphID = optionalString(graph.GraphID)
	result.StorageRef = optionalString(graph.StorageRef)
	result.EntityCount = len(graph.Entities)
	result.RelationshipCount = len(graph.Relationships)
	result.ChunkCount = len(graph.Chunks)
	return result
}

// runStage times fn and converts a panic into an error.
func runStage[T any](c *metrics.Collector, op string, fn func() (T, error)) (out T, err error) {
	span := c.Start(op)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		span.End(err)
	}()
	return fn()
}

func failResult(result models.JobResult, stage string, err error) models.JobResult {
	msg := fmt.Sprintf("%s: %v", stage, err)
	result.Status = models.JobStatusFailed
	result.ErrorMessage = &msg
	return result
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
