package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/raphaelgruber/docbatch/internal/llm"
	"github.com/raphaelgruber/docbatch/internal/models"
	"github.com/raphaelgruber/docbatch/internal/parser"
	"github.com/raphaelgruber/docbatch/internal/store"
)

// Entity types produced by heuristic extraction.
const (
	EntityDocument = "document"
	EntityConcept  = "concept"
	EntityPerson   = "person"
	EntityTopic    = "topic"
)

// Relationship types produced by heuristic extraction.
const (
	RelReferences = "references"
	RelMentions   = "mentions"
	RelTaggedWith = "relates_to"
)

// graphModel is the LLM surface the extractor uses.
type graphModel interface {
	ExtractGraph(ctx context.Context, text string, known []string) (*llm.Extraction, error)
}

// GraphExtractor builds a graph from wiki links, mentions, and tags, optionally
// enriched by an LLM, and persists it as JSON in a content-addressed store.
type GraphExtractor struct {
	store  store.Store
	model  graphModel
	logger *slog.Logger
}

// ExtractorOption configures a GraphExtractor.
type ExtractorOption func(*GraphExtractor)

// WithModel enables LLM extraction per chunk.
func WithModel(m *llm.Model) ExtractorOption {
	return func(e *GraphExtractor) {
		if m != nil {
			e.model = m
		}
	}
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *GraphExtractor) {
		e.logger = logger
	}
}

// NewGraphExtractor creates an extractor that writes graphs to s.
func NewGraphExtractor(s store.Store, opts ...ExtractorOption) *GraphExtractor {
	e := &GraphExtractor{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extract")
	return e
}

// Extract builds and stores the graph for doc.
// LLM failures degrade to heuristic output unless they are fatal API errors.
func (e *GraphExtractor) Extract(ctx context.Context, doc *models.OptimizedDocument) (*models.Graph, error) {
	g := &graphBuilder{seen: make(map[string]bool)}
	root := documentEntityName(doc)
	g.entity(models.Entity{Name: root, Type: EntityDocument, Description: doc.DocumentID})

	text := strings.Join(lo.Map(doc.Chunks, func(c models.Chunk, _ int) string { return c.Content }), "\n\n")
	for _, link := range parser.WikiLinks(text) {
		g.link(root, entityName(link), EntityConcept, RelReferences)
	}
	for _, who := range parser.Mentions(text) {
		g.link(root, who, EntityPerson, RelMentions)
	}
	tags, _ := doc.Metadata[MetaTags].([]string)
	for _, tag := range slices.Concat(tags, parser.Tags(text)) {
		g.link(root, entityName(tag), EntityTopic, RelTaggedWith)
	}

	if e.model != nil {
		if err := e.enrich(ctx, g, doc); err != nil {
			return nil, err
		}
	}

	graph := &models.Graph{
		GraphID:       "graph_" + doc.DocumentID,
		DocumentID:    doc.DocumentID,
		Entities:      g.entities,
		Relationships: g.relationships,
		Chunks:        doc.Chunks,
	}
	if graph.Relationships == nil {
		graph.Relationships = []models.Relationship{}
	}

	data, err := json.Marshal(graph)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	ref, err := e.store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store graph: %w", err)
	}
	graph.StorageRef = ref
	return graph, nil
}

func (e *GraphExtractor) enrich(ctx context.Context, g *graphBuilder, doc *models.OptimizedDocument) error {
	for _, chunk := range doc.Chunks {
		known := lo.Map(g.entities, func(en models.Entity, _ int) string { return en.Name })
		out, err := e.model.ExtractGraph(ctx, chunk.Content, known)
		if errors.Is(err, llm.ErrFatalAPI) {
			return err
		}
		if err != nil {
			e.logger.Warn("llm extraction failed, keeping heuristic graph",
				"document_id", doc.DocumentID, "chunk", chunk.Position, "error", err)
			continue
		}
		for _, en := range out.Entities {
			g.entity(en)
		}
		for _, rel := range out.Relationships {
			g.relate(rel)
		}
	}
	return nil
}

type graphBuilder struct {
	entities      []models.Entity
	relationships []models.Relationship
	seen          map[string]bool // entity names and source|target|type edge keys
}

func (g *graphBuilder) entity(en models.Entity) {
	if en.Name == "" || g.seen[en.Name] {
		return
	}
	g.seen[en.Name] = true
	g.entities = append(g.entities, en)
}

func (g *graphBuilder) link(source, target, targetType, relType string) {
	if target == "" || target == source {
		return
	}
	g.entity(models.Entity{Name: target, Type: targetType})
	g.relate(models.Relationship{
		Source: source,
		Target: target,
		Type:   relType,
		Origin: models.RelationshipInferred,
	})
}

func (g *graphBuilder) relate(rel models.Relationship) {
	key := "\x00" + rel.Source + "|" + rel.Target + "|" + rel.Type
	if g.seen[key] {
		return
	}
	g.seen[key] = true
	g.relationships = append(g.relationships, rel)
}

func documentEntityName(doc *models.OptimizedDocument) string {
	if title, ok := doc.Metadata[MetaTitle].(string); ok {
		if name := entityName(title); name != "" {
			return name
		}
	}
	return doc.DocumentID
}

// entityName lowercases s and joins its words with hyphens.
func entityName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
