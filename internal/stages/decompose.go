// Package stages provides the Markdown pipeline stages docbatch runs by default:
// read and parse a file, chunk it, and extract a knowledge graph.
package stages

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/docbatch/internal/models"
	"github.com/raphaelgruber/docbatch/internal/parser"
)

// Metadata keys set by the stages.
const (
	MetaSource      = "source_path"
	MetaFormat      = "format"
	MetaSizeBytes   = "size_bytes"
	MetaTitle       = "title"
	MetaTags        = "tags"
	MetaFrontmatter = "frontmatter"
)

// FileDecomposer reads documents from the local filesystem.
type FileDecomposer struct {
	// MaxBytes rejects larger files when positive.
	MaxBytes int64
}

// Decompose reads ref and validates its frontmatter. The returned content is
// the whole file so later stages see exactly what was read.
func (d FileDecomposer) Decompose(ctx context.Context, ref string, metadata map[string]any) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	if d.MaxBytes > 0 && info.Size() > d.MaxBytes {
		return nil, fmt.Errorf("document %s is %d bytes, limit is %d", ref, info.Size(), d.MaxBytes)
	}

	raw, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("document %s is not valid UTF-8", ref)
	}

	content := string(raw)
	doc, err := parser.Parse(content)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(metadata)+6)
	maps.Copy(out, metadata)
	out[MetaSource] = ref
	out[MetaFormat] = format(ref)
	out[MetaSizeBytes] = info.Size()
	if doc.Title != "" {
		out[MetaTitle] = doc.Title
	}
	if tags := doc.Strings("tags"); len(tags) > 0 {
		out[MetaTags] = tags
	}
	if len(doc.Frontmatter) > 0 {
		out[MetaFrontmatter] = doc.Frontmatter
	}

	return &models.Document{Content: content, Metadata: out}, nil
}

func format(ref string) string {
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".md", ".markdown", ".mdx":
		return "markdown"
	default:
		return "text"
	}
}
