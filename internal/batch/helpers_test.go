package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docbatch/internal/audit"
	"github.com/raphaelgruber/docbatch/internal/models"
)

type decomposeFunc func(ctx context.Context, ref string, metadata map[string]any) (*models.Document, error)

func (f decomposeFunc) Decompose(ctx context.Context, ref string, metadata map[string]any) (*models.Document, error) {
	return f(ctx, ref, metadata)
}

type optimizeFunc func(ctx context.Context, content string, metadata map[string]any) (*models.OptimizedDocument, error)

func (f optimizeFunc) Optimize(ctx context.Context, content string, metadata map[string]any) (*models.OptimizedDocument, error) {
	return f(ctx, content, metadata)
}

type extractFunc func(ctx context.Context, doc *models.OptimizedDocument) (*models.Graph, error)

func (f extractFunc) Extract(ctx context.Context, doc *models.OptimizedDocument) (*models.Graph, error) {
	return f(ctx, doc)
}

func okDecompose(_ context.Context, ref string, metadata map[string]any) (*models.Document, error) {
	return &models.Document{Content: "content of " + ref, Metadata: metadata}, nil
}

func okOptimize(_ context.Context, content string, metadata map[string]any) (*models.OptimizedDocument, error) {
	return &models.OptimizedDocument{
		DocumentID: "doc_0123456789abcdef",
		Chunks:     []models.Chunk{{Content: content}, {Content: content, Position: 1}},
		Metadata:   metadata,
	}, nil
}

func okExtract(_ context.Context, doc *models.OptimizedDocument) (*models.Graph, error) {
	return &models.Graph{
		GraphID:       "graph_" + doc.DocumentID,
		DocumentID:    doc.DocumentID,
		Entities:      []models.Entity{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Relationships: []models.Relationship{{Source: "a", Target: "b", Type: "relates_to"}},
		Chunks:        doc.Chunks,
		StorageRef:    "sha256:abc",
	}, nil
}

func okStages() Stages {
	return Stages{
		Decomposer: decomposeFunc(okDecompose),
		Optimizer:  optimizeFunc(okOptimize),
		Extractor:  extractFunc(okExtract),
	}
}

// failingRefStages fails stage 1 for every reference contained in bad.
func failingRefStages(bad ...string) Stages {
	s := okStages()
	s.Decomposer = decomposeFunc(func(ctx context.Context, ref string, metadata map[string]any) (*models.Document, error) {
		for _, b := range bad {
			if ref == b {
				return nil, errors.New("cannot decompose " + ref)
			}
		}
		return okDecompose(ctx, ref, metadata)
	})
	return s
}

// gatedStages blocks stage 1 until the returned release func is called.
func gatedStages() (Stages, func()) {
	gate := make(chan struct{})
	var once sync.Once
	s := okStages()
	s.Decomposer = decomposeFunc(func(ctx context.Context, ref string, metadata map[string]any) (*models.Document, error) {
		<-gate
		return okDecompose(ctx, ref, metadata)
	})
	return s, func() { once.Do(func() { close(gate) }) }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedSampler() *Sampler {
	return &Sampler{
		probe: func() (uint64, float64, float64, error) {
			return 64 * bytesPerMB, 1.5, 12.5, nil
		},
		logger: quietLogger(),
	}
}

func allowAll(string) error { return nil }

func newTestProcessor(t *testing.T, cfg Config, stages Stages, opts ...Option) *Processor {
	t.Helper()
	if cfg.DequeueTimeout == 0 {
		cfg.DequeueTimeout = 20 * time.Millisecond
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = 10 * time.Millisecond
	}
	base := []Option{
		WithLogger(quietLogger()),
		WithSampler(fixedSampler()),
		WithDocumentCheck(allowAll),
	}
	p, err := NewProcessor(cfg, stages, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.StopProcessing(time.Second)
	})
	return p
}

func writeDocs(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("# "+name+"\n\nbody\n"), 0o644))
		paths = append(paths, path)
	}
	return paths
}

func waitDone(t *testing.T, p *Processor, batchID string) models.BatchStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		s := p.BatchStatus(batchID)
		return s != nil && s.Done()
	}, 5*time.Second, 5*time.Millisecond)
	return *p.BatchStatus(batchID)
}

func requireInvariant(t *testing.T, s models.BatchStatus) {
	t.Helper()
	require.Equal(t, s.TotalJobs, s.CompletedJobs+s.FailedJobs+s.PendingJobs+s.ProcessingJobs,
		"counters out of balance: %+v", s)
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}
