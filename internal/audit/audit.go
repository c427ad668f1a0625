// Package audit records best-effort lifecycle events for batches and jobs.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Event types emitted by the batch processor.
const (
	EventBatchStarted   = "batch_started"
	EventBatchCompleted = "batch_completed"
	EventBatchCancelled = "batch_cancelled"
	EventJobFailed      = "job_failed"
)

// Resource types referenced by events.
const (
	ResourceBatch = "batch"
	ResourceJob   = "job"
)

// Event is a single audit record.
type Event struct {
	Type         string         `json:"event_type"`
	ResourceID   string         `json:"resource_id"`
	ResourceType string         `json:"resource_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Sink receives audit events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// LogSink writes events as structured log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

// Emit logs the event.
func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	attrs := []any{
		"event_type", ev.Type,
		"resource_id", ev.ResourceID,
		"resource_type", ev.ResourceType,
		"timestamp", ev.Timestamp,
	}
	if len(ev.Metadata) > 0 {
		attrs = append(attrs, "metadata", ev.Metadata)
	}
	s.logger.InfoContext(ctx, "audit event", attrs...)
	return nil
}

// Nop discards every event.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(context.Context, Event) error { return nil }

// Emit delivers ev to sink. Sink errors and panics are logged and never returned.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := safeEmit(ctx, sink, ev); err != nil && logger != nil {
		logger.Warn("audit emit failed", "event_type", ev.Type, "resource_id", ev.ResourceID, "error", err)
	}
}

func safeEmit(ctx context.Context, sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panicked: %v", r)
		}
	}()
	return sink.Emit(ctx, ev)
}
