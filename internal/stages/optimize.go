package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"

	"github.com/raphaelgruber/docbatch/internal/batch"
	"github.com/raphaelgruber/docbatch/internal/models"
	"github.com/raphaelgruber/docbatch/internal/parser"
)

// ChunkOptimizer identifies a document by content hash and splits it into
// chunks. Parsing and chunking run on the CPU pool when one is set.
type ChunkOptimizer struct {
	cpu *batch.CPUPool
	cfg parser.ChunkConfig
}

// NewChunkOptimizer creates an optimizer. A nil pool runs inline.
func NewChunkOptimizer(cpu *batch.CPUPool, cfg parser.ChunkConfig) *ChunkOptimizer {
	return &ChunkOptimizer{cpu: cpu, cfg: cfg}
}

// DocumentID returns "doc_" plus the first 16 hex characters of the content's sha256.
func DocumentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "doc_" + hex.EncodeToString(sum[:])[:16]
}

// Optimize returns the identified document. On failure the returned document
// still carries the id so the failure can be traced.
func (o *ChunkOptimizer) Optimize(ctx context.Context, content string, metadata map[string]any) (*models.OptimizedDocument, error) {
	out := &models.OptimizedDocument{
		DocumentID: DocumentID(content),
		Metadata:   make(map[string]any, len(metadata)),
	}
	maps.Copy(out.Metadata, metadata)

	work := func() error {
		doc, err := parser.Parse(content)
		if err != nil {
			return err
		}
		out.Chunks = parser.Chunk(doc, o.cfg)
		if doc.Title != "" {
			out.Metadata[MetaTitle] = doc.Title
		}
		return nil
	}

	if o.cpu == nil {
		return out, work()
	}
	return out, o.cpu.Do(ctx, work)
}
