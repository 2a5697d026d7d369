package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/kaigo-harvest/internal/client"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
)

const recentLogs = 5

// pollInterval paces status polling while a job is followed.
var pollInterval = time.Second

// Styles for the live view, keyed by what they decorate.
var (
	statusStyles = map[models.JobStatus]lipgloss.Style{
		models.JobQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("#AF87FF")),
		models.JobRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7")),
	}
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
)

type tickMsg time.Time

type jobUpdateMsg struct {
	job *service.JobStatus
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	client   *client.Client
	jobID    string
	job      *service.JobStatus
	logs     []models.LogEntry
	lastSeq  int
	progress progress.Model
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, jobID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		jobID:    jobID,
		progress: prog,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchJob(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job
		m.appendLogs(msg.job.Logs)

		switch m.job.Status {
		case models.JobCompleted:
			m.done = true
			return m, tea.Quit
		case models.JobFailed:
			m.done = true
			m.err = jobError(m.job)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// appendLogs keeps the newest recentLogs entries seen so far.
func (m *progressModel) appendLogs(entries []models.LogEntry) {
	for _, e := range entries {
		if e.Seq <= m.lastSeq {
			continue
		}
		m.lastSeq = e.Seq
		m.logs = append(m.logs, e)
	}
	if over := len(m.logs) - recentLogs; over > 0 {
		m.logs = m.logs[over:]
	}
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	var b strings.Builder
	status := statusStyles[m.job.Status].Render(fmt.Sprintf("[%s]", m.job.Status))
	if m.job.Status == models.JobQueued {
		fmt.Fprintf(&b, "%s waiting in queue (position %d)\n", status, m.job.QueuePosition)
	} else {
		pct := float64(m.job.Progress.Progress) / 100
		fmt.Fprintf(&b, "%s %s %s\n", status, m.progress.ViewAs(pct), m.job.Progress.Message)
	}
	for _, l := range m.logs {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s %s", l.Time.Local().Format("15:04:05"), l.Message)))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("Press Ctrl+C to continue in background"))
	b.WriteString("\n")
	return b.String()
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'harvest jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return dimStyle.Render(msg)
	}

	if m.err != nil {
		return failedStyle.Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job == nil {
		return doneStyle.Render("✓ Completed\n")
	}
	return doneStyle.Render("✓ Completed") + "\n\n" + outcome(m.job)
}

// fetchJob polls the server for new status and log entries.
func (m progressModel) fetchJob() tea.Cmd {
	after := m.lastSeq
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID, after, service.DefaultStatusLogs)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(c *client.Client, jobID string) error {
	p := tea.NewProgram(newProgressModel(c, jobID))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// outcome summarizes a finished job.
func outcome(job *service.JobStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Records:        %d\n", job.Total)
	fmt.Fprintf(&b, "  Dataset total:  %d\n", job.AccumulatedTotal)
	for _, s := range job.SourceStats {
		line := fmt.Sprintf("  %-14s  %-5s %d", s.Source, s.Status, s.Count)
		if s.Error != "" {
			line += "  " + s.Error
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func jobError(job *service.JobStatus) error {
	if job.Error != "" {
		return fmt.Errorf("%s", job.Error)
	}
	return fmt.Errorf("job failed with unknown error")
}
