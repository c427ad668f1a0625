// Package models defines data structures shared by the docbatch engine.
package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a single job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// MetadataBatchID is the metadata key every job carries to name its batch.
const MetadataBatchID = "batch_id"

// DefaultPriority is used when a submission does not set one.
const DefaultPriority = 5

// Job is one document's unit of work through the pipeline.
type Job struct {
	ID             string         `json:"job_id"`
	DocumentRef    string         `json:"document_ref"`
	Metadata       map[string]any `json:"metadata"`
	Priority       int            `json:"priority"`
	Status         JobStatus      `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	ProcessingTime float64        `json:"processing_time"` // seconds
}

// NewJob creates a pending job. A zero createdAt is replaced by the current time.
func NewJob(id, documentRef string, metadata map[string]any, priority int, createdAt time.Time) *Job {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Job{
		ID:          id,
		DocumentRef: documentRef,
		Metadata:    metadata,
		Priority:    priority,
		Status:      JobStatusPending,
		CreatedAt:   createdAt,
	}
}

// BatchID returns the batch the job belongs to, or "" when the metadata lacks one.
func (j *Job) BatchID() string {
	if j == nil || j.Metadata == nil {
		return ""
	}
	id, _ := j.Metadata[MetadataBatchID].(string)
	return id
}

// JobResult is the outcome of running one job through the pipeline.
// Fields up to the failing stage may be populated on failure.
type JobResult struct {
	JobID             string    `json:"job_id"`
	Status            JobStatus `json:"status"`
	ProcessingTime    float64   `json:"processing_time"`
	DocumentID        *string   `json:"document_id"`
	GraphID           *string   `json:"graph_id"`
	StorageRef        *string   `json:"storage_ref"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
	ChunkCount        int       `json:"chunk_count"`
	ErrorMessage      *string   `json:"error_message"`
}

// Succeeded reports whether the result counts towards completed jobs.
func (r JobResult) Succeeded() bool {
	return r.Status == JobStatusCompleted
}
