package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/docbatch/internal/batch"
	"github.com/raphaelgruber/docbatch/internal/config"
	"github.com/raphaelgruber/docbatch/internal/models"
)

// errBatchCancelled is returned when a batch ends by cancellation.
var errBatchCancelled = errors.New("batch cancelled")

type runOptions struct {
	workers  int
	priority int
	meta     []string
	export   string
	output   string
	noTUI    bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <pattern>...",
	Short: "Process documents as one batch",
	Long: `Process every document matching the given paths or glob patterns as one
batch. Patterns support ** for recursive matching.

Progress is shown live when stdout is a terminal. Ctrl+C cancels the batch:
queued documents are dropped, documents already in progress finish.

Examples:
  docbatch run notes/**/*.md
  docbatch run --workers 8 --priority 9 docs/*.md README.md
  docbatch run --meta source=wiki --meta team=core wiki/**/*.md
  docbatch run --export csv --output results.csv docs/**/*.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runOpts.workers, "workers", "w", 0, "worker count (default from DOCBATCH_MAX_WORKERS)")
	runCmd.Flags().IntVarP(&runOpts.priority, "priority", "p", models.DefaultPriority, "batch priority, 1 (lowest) to 10 (highest)")
	runCmd.Flags().StringArrayVarP(&runOpts.meta, "meta", "m", nil, "metadata key=value attached to every job (repeatable)")
	runCmd.Flags().StringVarP(&runOpts.export, "export", "e", "", "export results when done: json or csv")
	runCmd.Flags().StringVarP(&runOpts.output, "output", "o", "", "export file path (default batch_results_<id>_<time>.<format>)")
	runCmd.Flags().BoolVar(&runOpts.noTUI, "no-tui", false, "print progress lines instead of the interactive display")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cfg
	if runOpts.workers > 0 {
		c.MaxWorkers = runOpts.workers
	}

	tui := !runOpts.noTUI && term.IsTerminal(int(os.Stdout.Fd()))
	console := io.Writer(os.Stderr)
	if tui {
		console = io.Discard
	}
	logger, cleanup := config.SetupLoggerTo(console, c.LogFile, c.LogLevel)
	defer func() { _ = cleanup() }()

	return runBatch(ctx, c, runOpts, args, logger, tui, cmd.OutOrStdout())
}

// runBatch processes the documents matching patterns and prints a report to out.
func runBatch(ctx context.Context, c config.Config, opts runOptions, patterns []string, logger *slog.Logger, tui bool, out io.Writer) error {
	docs, err := expandPatterns(patterns)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents match %s", strings.Join(patterns, " "))
	}
	meta, err := parseMeta(opts.meta)
	if err != nil {
		return err
	}
	if opts.export != "" && !lo.Contains([]string{batch.FormatJSON, batch.FormatCSV}, strings.ToLower(opts.export)) {
		return fmt.Errorf("unsupported export format %q (use json or csv)", opts.export)
	}

	st, err := buildStack(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Warn("failed to close resources", "error", err)
		}
	}()
	proc := st.processor

	feed := newStatusFeed()
	cb := feed.callback()
	if !tui {
		cb = batch.SyncCallback(func(s models.BatchStatus) {
			fmt.Fprintf(out, "%s: %d/%d done, %d failed, %.2f docs/s\n",
				s.BatchID, s.Finished(), s.TotalJobs, s.FailedJobs, s.Throughput)
		})
	}

	batchID, err := proc.SubmitBatch(ctx, docs, meta, batch.WithPriority(opts.priority), batch.WithCallback(cb))
	if err != nil {
		_ = proc.StopProcessing(c.StopTimeout)
		return fmt.Errorf("submit batch: %w", err)
	}

	cancelBatch := sync.OnceFunc(func() {
		if proc.CancelBatch(batchID) {
			logger.Warn("batch cancelled by user", "batch_id", batchID)
		}
	})
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelBatch()
		case <-finished:
		}
	}()

	if tui {
		if _, err := runProgressUI(ctx, batchID, feed, cancelBatch); err != nil {
			logger.Error("progress display failed", "error", err)
			cancelBatch()
		}
	}
	proc.Wait()
	close(finished)

	if err := proc.StopProcessing(c.StopTimeout); err != nil {
		return err
	}

	status := proc.BatchStatus(batchID)
	if status == nil {
		return fmt.Errorf("batch %s disappeared", batchID)
	}
	fmt.Fprintln(out, renderBatchSummary(*status))

	_, failed, _ := proc.BatchResults(batchID)
	jobs, _ := proc.BatchJobs(batchID)
	if table := renderFailures(failed, jobs); table != "" {
		fmt.Fprintln(out, table)
	}
	if c.LogLevel <= slog.LevelDebug {
		fmt.Fprintln(out, renderOperations(proc.Metrics()))
	}

	if opts.export != "" {
		path, err := proc.ExportBatchResults(batchID, opts.export, opts.output)
		if err != nil {
			return fmt.Errorf("export results: %w", err)
		}
		fmt.Fprintf(out, "Results exported to %s\n", path)
	}

	if status.Cancelled {
		return fmt.Errorf("%w: %s", errBatchCancelled, batchID)
	}
	return nil
}

// expandPatterns resolves globs to regular files, keeping first-seen order.
// A literal path that matches nothing is kept so submission reports it.
func expandPatterns(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[{") {
			files = append(files, pattern)
			continue
		}
		for _, name := range matches {
			info, err := os.Stat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
			}
		}
	}
	return lo.Uniq(files), nil
}

// parseMeta turns key=value pairs into job metadata.
func parseMeta(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", pair)
		}
		if key == models.MetadataBatchID {
			return nil, fmt.Errorf("metadata key %q is reserved", key)
		}
		meta[key] = value
	}
	return meta, nil
}
