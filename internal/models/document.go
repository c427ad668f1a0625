package models

// Document is the output of the decomposition stage.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Chunk is a piece of optimized document content.
type Chunk struct {
	Content     string `json:"content"`
	Position    int    `json:"position"`
	HeadingPath string `json:"heading_path,omitempty"` // "## Setup > ### Install"
}

// OptimizedDocument is the output of the optimization stage.
type OptimizedDocument struct {
	DocumentID string         `json:"document_id"`
	Chunks     []Chunk        `json:"chunks"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Entity is a node extracted from a document.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// RelationshipSource indicates how a relationship was found.
type RelationshipSource string

const (
	RelationshipInferred   RelationshipSource = "inferred"    // links, mentions, frontmatter
	RelationshipAIDetected RelationshipSource = "ai_detected" // LLM extraction
)

// Relationship is a directed edge between two extracted entities.
type Relationship struct {
	Source      string             `json:"source"`
	Target      string             `json:"target"`
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Origin      RelationshipSource `json:"origin"`
}

// Graph is the output of the extraction stage.
type Graph struct {
	GraphID       string         `json:"graph_id"`
	DocumentID    string         `json:"document_id"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Chunks        []Chunk        `json:"chunks"`
	StorageRef    string         `json:"storage_ref,omitempty"`
}
