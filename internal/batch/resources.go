package batch

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/raphaelgruber/docbatch/internal/models"
)

const bytesPerMB = 1024 * 1024

// resourceProbe reads resident memory, memory percent, and CPU percent of the process.
type resourceProbe func() (rssBytes uint64, memPercent, cpuPercent float64, err error)

// Sampler takes best-effort resource snapshots and tracks peak memory across calls.
type Sampler struct {
	mu     sync.Mutex
	probe  resourceProbe
	peakMB float64
	logger *slog.Logger
}

// NewSampler creates a sampler backed by the OS process table.
func NewSampler(logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{probe: processProbe(), logger: logger}
}

func processProbe() resourceProbe {
	var (
		once    sync.Once
		proc    *process.Process
		procErr error
	)
	return func() (uint64, float64, float64, error) {
		once.Do(func() {
			proc, procErr = process.NewProcess(int32(os.Getpid()))
		})
		if procErr != nil {
			return 0, 0, 0, fmt.Errorf("open process: %w", procErr)
		}

		mem, err := proc.MemoryInfo()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("memory info: %w", err)
		}
		memPct, err := proc.MemoryPercent()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("memory percent: %w", err)
		}
		cpuPct, err := proc.CPUPercent()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("cpu percent: %w", err)
		}
		return mem.RSS, float64(memPct), cpuPct, nil
	}
}

// Sample returns the current usage. It never fails: when the OS cannot be
// queried it returns zeroed readings with the caller's counts and the last peak.
func (s *Sampler) Sample(activeWorkers, queueSize int) models.ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := models.ResourceUsage{
		ActiveWorkers: activeWorkers,
		QueueSize:     queueSize,
	}

	rss, memPct, cpuPct, err := s.safeProbe()
	if err != nil {
		s.logger.Debug("resource sampling unavailable", "error", err)
		usage.PeakMemoryMB = s.peakMB
		return usage
	}

	usage.MemoryMB = float64(rss) / bytesPerMB
	usage.MemoryPercent = memPct
	usage.CPUPercent = cpuPct
	s.peakMB = max(s.peakMB, usage.MemoryMB)
	usage.PeakMemoryMB = s.peakMB
	return usage
}

func (s *Sampler) safeProbe() (rss uint64, memPct, cpuPct float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	if s.probe == nil {
		return 0, 0, 0, fmt.Errorf("no probe configured")
	}
	return s.probe()
}
