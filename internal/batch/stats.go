package batch

import (
	"github.com/samber/lo"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// Statistics summarizes every batch the processor has seen.
func (p *Processor) Statistics() models.Statistics {
	s := summarize(p.registry.All())
	s.ResourceUsage = p.ResourceUsage()
	return s
}

// summarize totals batch counters. The average here covers completed jobs
// only, unlike the per-batch average which also counts failures.
func summarize(batches []models.BatchStatus) models.Statistics {
	s := models.Statistics{
		TotalProcessed:      lo.SumBy(batches, func(b models.BatchStatus) int { return b.CompletedJobs }),
		TotalFailed:         lo.SumBy(batches, func(b models.BatchStatus) int { return b.FailedJobs }),
		TotalJobs:           lo.SumBy(batches, func(b models.BatchStatus) int { return b.TotalJobs }),
		TotalProcessingTime: lo.SumBy(batches, func(b models.BatchStatus) float64 { return b.TotalProcessingTime }),
		ActiveBatches: lo.CountBy(batches, func(b models.BatchStatus) bool {
			return !b.Done() && !b.Cancelled
		}),
	}
	if s.TotalJobs > 0 {
		s.SuccessRate = float64(s.TotalProcessed) / float64(s.TotalJobs)
	}
	if s.TotalProcessed > 0 {
		s.AverageJobTime = s.TotalProcessingTime / float64(s.TotalProcessed)
	}
	return s
}
