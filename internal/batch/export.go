package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

const exportTimestampLayout = "20060102_150405"

var csvHeader = []string{
	"job_id",
	"status",
	"processing_time",
	"entity_count",
	"relationship_count",
	"chunk_count",
	"error_message",
}

// ExportBatchResults writes the results of a batch as JSON or CSV and returns
// the path written. An empty outputPath writes
// batch_results_{batch_id}_{timestamp}.{format} in the working directory.
func (p *Processor) ExportBatchResults(batchID, format, outputPath string) (string, error) {
	status := p.BatchStatus(batchID)
	if status == nil {
		return "", notFoundError("batch %s", batchID)
	}
	format = strings.ToLower(format)
	if format != FormatJSON && format != FormatCSV {
		return "", validationError("unsupported export format %q: use %s or %s", format, FormatJSON, FormatCSV)
	}

	completed, failed, _ := p.registry.Results(batchID)
	now := time.Now()
	if outputPath == "" {
		outputPath = fmt.Sprintf("batch_results_%s_%s.%s", batchID, now.Format(exportTimestampLayout), format)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch format {
	case FormatJSON:
		err = writeJSONExport(f, models.BatchExport{
			BatchID:         batchID,
			BatchStatus:     *status,
			CompletedJobs:   completed,
			FailedJobs:      failed,
			ExportTimestamp: now,
		})
	case FormatCSV:
		err = writeCSVExport(f, completed, failed)
	}
	if err != nil {
		return "", fmt.Errorf("write %s export: %w", format, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	p.logger.Info("batch exported", "batch_id", batchID, "format", format, "path", outputPath)
	return outputPath, nil
}

func writeJSONExport(w io.Writer, export models.BatchExport) error {
	// Empty partitions are written as [] rather than null.
	if export.CompletedJobs == nil {
		export.CompletedJobs = []models.JobResult{}
	}
	if export.FailedJobs == nil {
		export.FailedJobs = []models.JobResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

func writeCSVExport(w io.Writer, completed, failed []models.JobResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, results := range [][]models.JobResult{completed, failed} {
		for _, r := range results {
			if err := cw.Write(csvRow(r)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r models.JobResult) []string {
	return []string{
		r.JobID,
		string(r.Status),
		strconv.FormatFloat(r.ProcessingTime, 'f', -1, 64),
		strconv.Itoa(r.EntityCount),
		strconv.Itoa(r.RelationshipCount),
		strconv.Itoa(r.ChunkCount),
		deref(r.ErrorMessage),
	}
}
