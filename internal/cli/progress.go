package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/raphaelgruber/docbatch/internal/batch"
	"github.com/raphaelgruber/docbatch/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusMsg carries a batch status from the progress monitor.
type statusMsg models.BatchStatus

// statusFeed hands the newest status from the monitor to the UI. Older
// statuses not yet read are replaced.
type statusFeed chan models.BatchStatus

func newStatusFeed() statusFeed {
	return make(statusFeed, 1)
}

// publish replaces any unread status with s. It never blocks.
func (f statusFeed) publish(s models.BatchStatus) {
	for {
		select {
		case f <- s:
			return
		default:
		}
		select {
		case <-f:
		default:
		}
	}
}

// callback returns a progress callback feeding f.
func (f statusFeed) callback() batch.Callback {
	return batch.AsyncCallback(func(_ context.Context, s models.BatchStatus) error {
		f.publish(s)
		return nil
	})
}

// next waits for the next status.
func (f statusFeed) next() tea.Cmd {
	return func() tea.Msg {
		return statusMsg(<-f)
	}
}

// progressModel is the bubbletea model for batch progress.
type progressModel struct {
	batchID  string
	feed     statusFeed
	cancel   func()
	status   *models.BatchStatus
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

// newProgressModel creates a new progress model. cancel is called once when
// the user quits before the batch is done.
func newProgressModel(batchID string, feed statusFeed, cancel func()) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		batchID:  batchID,
		feed:     feed,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (wait for the first status).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.feed.next(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case statusMsg:
		s := models.BatchStatus(msg)
		m.status = &s
		if s.Done() || s.Cancelled {
			m.done = true
			return m, tea.Quit
		}
		return m, m.feed.next()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	if m.status == nil {
		return fmt.Sprintf("Starting batch %s...\n", m.batchID)
	}

	s := m.status
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.batchID))
	counts := fmt.Sprintf("%d/%d documents", s.Finished(), s.TotalJobs)
	if s.FailedJobs > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", s.FailedJobs))
	}
	resources := fmt.Sprintf("%d workers, %d queued, %s",
		s.ResourceUsage.ActiveWorkers, s.ResourceUsage.QueueSize, megabytes(s.ResourceUsage.MemoryMB))
	hint := m.theme.hintStyle().Render("Press q or Ctrl+C to cancel the batch")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, m.progress.ViewAs(s.Progress()), counts, resources, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.status == nil || m.status.Cancelled || (m.quitting && !m.done) {
		return m.theme.hintStyle().Render(fmt.Sprintf("\nBatch %s cancelled.\n", m.batchID))
	}

	s := m.status
	var b strings.Builder
	if s.FailedJobs > 0 {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ Completed with %d failures", s.FailedJobs)))
	} else {
		b.WriteString(m.theme.completedStyle().Render("✓ Completed"))
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  Documents processed: %s\n", humanize.Comma(int64(s.CompletedJobs)))
	fmt.Fprintf(&b, "  Throughput:          %.2f docs/s\n", s.Throughput)
	return b.String()
}

// runProgressUI shows live progress until the batch is done or cancelled.
// Returns true when the user cancelled.
func runProgressUI(ctx context.Context, batchID string, feed statusFeed, cancel func()) (bool, error) {
	p := tea.NewProgram(newProgressModel(batchID, feed, cancel), tea.WithContext(ctx))

	finalModel, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return false, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	return ok && m.quitting, nil
}

// megabytes formats a size in MB for display.
func megabytes(mb float64) string {
	return humanize.IBytes(uint64(mb * 1024 * 1024))
}
