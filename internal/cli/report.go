package cli

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/raphaelgruber/docbatch/internal/metrics"
	"github.com/raphaelgruber/docbatch/internal/models"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderBatchSummary lists the counters and timings of one batch.
func renderBatchSummary(s models.BatchStatus) string {
	state := "completed"
	if s.Cancelled {
		state = "cancelled"
	} else if !s.Done() {
		state = "running"
	}

	rows := [][]string{
		{"Batch", s.BatchID},
		{"State", state},
		{"Documents", humanize.Comma(int64(s.TotalJobs))},
		{"Completed", humanize.Comma(int64(s.CompletedJobs))},
		{"Failed", humanize.Comma(int64(s.FailedJobs))},
		{"Not processed", humanize.Comma(int64(s.PendingJobs + s.ProcessingJobs))},
		{"Processing time", seconds(s.TotalProcessingTime)},
		{"Average job time", seconds(s.AverageJobTime)},
		{"Throughput", fmt.Sprintf("%.2f docs/s", s.Throughput)},
		{"Peak memory", megabytes(s.ResourceUsage.PeakMemoryMB)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

// renderFailures lists failed jobs with their documents and errors.
func renderFailures(failed []models.JobResult, jobs []models.Job) string {
	if len(failed) == 0 {
		return ""
	}
	refs := make(map[string]string, len(jobs))
	for _, j := range jobs {
		refs[j.ID] = j.DocumentRef
	}

	rows := make([][]string, 0, len(failed))
	for _, r := range failed {
		msg := ""
		if r.ErrorMessage != nil {
			msg = *r.ErrorMessage
		}
		rows = append(rows, []string{refs[r.JobID], msg})
	}
	return renderTable([]string{"Document", "Error"}, rows, nil)
}

// renderOperations lists the timing spans recorded by the metrics collector.
func renderOperations(snap metrics.Snapshot) string {
	names := make([]string, 0, len(snap.Operations))
	for name := range snap.Operations {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		op := snap.Operations[name]
		rows = append(rows, []string{
			name,
			humanize.Comma(op.Count),
			humanize.Comma(op.Failures),
			strconv.FormatFloat(op.AvgTimeMs, 'f', 1, 64),
			strconv.FormatInt(op.MaxTimeMs, 10),
		})
	}
	return renderTable(
		[]string{"Operation", "Count", "Failures", "Avg ms", "Max ms"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func seconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond).String()
}
