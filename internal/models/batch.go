package models

import "time"

// ResourceUsage is a point-in-time snapshot of process resources.
type ResourceUsage struct {
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	CPUPercent    float64 `json:"cpu_percent"`
	ActiveWorkers int     `json:"active_workers"`
	QueueSize     int     `json:"queue_size"`
	PeakMemoryMB  float64 `json:"peak_memory_mb"`
}

// BatchStatus is the aggregate progress of one submitted batch.
// CompletedJobs + FailedJobs + PendingJobs + ProcessingJobs always equals TotalJobs.
type BatchStatus struct {
	BatchID             string        `json:"batch_id"`
	TotalJobs           int           `json:"total_jobs"`
	CompletedJobs       int           `json:"completed_jobs"`
	FailedJobs          int           `json:"failed_jobs"`
	PendingJobs         int           `json:"pending_jobs"`
	ProcessingJobs      int           `json:"processing_jobs"`
	StartTime           time.Time     `json:"start_time"`
	EndTime             *time.Time    `json:"end_time"`
	TotalProcessingTime float64       `json:"total_processing_time"`
	AverageJobTime      float64       `json:"average_job_time"`
	Throughput          float64       `json:"throughput"`
	ResourceUsage       ResourceUsage `json:"resource_usage"`
	Cancelled           bool          `json:"cancelled"`
}

// Finished returns the number of jobs with a final result.
func (s BatchStatus) Finished() int {
	return s.CompletedJobs + s.FailedJobs
}

// Done reports whether every job in the batch has a result.
func (s BatchStatus) Done() bool {
	return s.Finished() >= s.TotalJobs
}

// Terminal reports whether the batch has an end time (done or cancelled).
func (s BatchStatus) Terminal() bool {
	return s.EndTime != nil
}

// Progress returns the finished fraction in [0, 1].
func (s BatchStatus) Progress() float64 {
	if s.TotalJobs == 0 {
		return 0
	}
	return float64(s.Finished()) / float64(s.TotalJobs)
}

// Statistics summarizes every batch the processor knows about.
type Statistics struct {
	TotalProcessed      int           `json:"total_processed"`
	TotalFailed         int           `json:"total_failed"`
	TotalJobs           int           `json:"total_jobs"`
	SuccessRate         float64       `json:"success_rate"`
	TotalProcessingTime float64       `json:"total_processing_time"`
	AverageJobTime      float64       `json:"average_job_time"`
	ActiveBatches       int           `json:"active_batches"`
	ResourceUsage       ResourceUsage `json:"resource_usage"`
}

// BatchExport is the JSON document written by a batch export.
type BatchExport struct {
	BatchID         string      `json:"batch_id"`
	BatchStatus     BatchStatus `json:"batch_status"`
	CompletedJobs   []JobResult `json:"completed_jobs"`
	FailedJobs      []JobResult `json:"failed_jobs"`
	ExportTimestamp time.Time   `json:"export_timestamp"`
}
