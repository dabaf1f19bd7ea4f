package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/run"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// maxLogLines is how many recent log records the view shows.
const maxLogLines = 5

// StateMsg reports a run state transition.
type StateMsg struct {
	From, To run.State
}

// ScanMsg carries scan progress.
type ScanMsg types.ScanProgress

// InstallMsg carries install progress.
type InstallMsg types.InstallProgress

// LogMsg carries one log record.
type LogMsg logging.Entry

// ConfirmMsg asks the user to approve a repair plan. The answer is sent
// on Reply exactly once.
type ConfirmMsg struct {
	Plan  run.Plan
	Reply chan<- bool
}

// DoneMsg ends the program once the run has returned.
type DoneMsg struct {
	Result *run.Result
	Err    error
}

// Model is the progress view of one run.
type Model struct {
	mode      string
	root      string
	state     run.State
	scan      types.ScanProgress
	install   types.InstallProgress
	logs      []logging.Entry
	confirm   *ConfirmMsg
	spinner   spinner.Model
	bar       progress.Model
	startTime time.Time
	width     int
	height    int
	cancel    func()
	stopping  bool
	done      bool
	err       error
	logCh     <-chan logging.Entry
}

// NewModel creates the view for a run in mode over root. cancel stops the
// run when the user interrupts it.
func NewModel(mode, root string, cancel func(), logs <-chan logging.Entry) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		mode:      mode,
		root:      root,
		spinner:   s,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		startTime: time.Now(),
		width:     80,
		height:    24,
		cancel:    cancel,
		logCh:     logs,
	}
}

// Init starts the spinner and the log listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForLog(m.logCh))
}

func waitForLog(ch <-chan logging.Entry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return LogMsg(e)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-12, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.state = msg.To
		return m, nil

	case ScanMsg:
		m.scan = types.ScanProgress(msg)
		return m, nil

	case InstallMsg:
		m.install = types.InstallProgress(msg)
		return m, nil

	case LogMsg:
		m.logs = append(m.logs, logging.Entry(msg))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		return m, waitForLog(m.logCh)

	case ConfirmMsg:
		m.confirm = &msg
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Result != nil {
			m.state = msg.Result.State
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.confirm != nil {
		switch key {
		case "y", "Y":
			m.answer(true)
		case "n", "N", "enter", "esc", "q", "ctrl+c":
			m.answer(false)
		}
		return m, nil
	}
	switch key {
	case "ctrl+c", "q", "esc":
		if !m.stopping && m.cancel != nil {
			m.stopping = true
			m.cancel()
		}
	}
	return m, nil
}

func (m *Model) answer(ok bool) {
	m.confirm.Reply <- ok
	m.confirm = nil
}

// View renders the model.
func (m Model) View() string {
	if m.done {
		return ""
	}

	width := max(m.width-4, 40)
	var b strings.Builder

	b.WriteString(m.renderHeader(width))
	b.WriteString("\n")
	b.WriteString(renderDivider(width))
	b.WriteString("\n\n")

	if m.confirm != nil {
		b.WriteString(m.renderConfirm(width))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderActivity(width))
		b.WriteString("\n\n")
		b.WriteString("  " + m.bar.ViewAs(m.fraction()))
		b.WriteString("\n\n")
		b.WriteString(m.renderStats(width))
		b.WriteString("\n")
	}

	if len(m.logs) > 0 {
		b.WriteString("\n")
		for _, e := range m.logs {
			line := fmt.Sprintf("  %s %s: %s", e.Time.Format("15:04:05"), e.Component, e.Message)
			b.WriteString(logStyle(e.Level).Render(truncatePath(line, width)))
			b.WriteString("\n")
		}
	}

	return outerBoxStyle.Width(m.width - 2).Render(b.String())
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("  mender " + m.mode)
	hint := mutedTextStyle.Render("[Ctrl+C to stop]")
	if m.stopping {
		hint = warningTextStyle.Render("stopping...")
	}
	spacing := max(width-lipgloss.Width(title)-lipgloss.Width(hint), 1)
	return title + strings.Repeat(" ", spacing) + hint
}

func (m Model) renderActivity(width int) string {
	switch m.state {
	case run.StateIdle, run.StateFetchingManifest:
		return fmt.Sprintf("  %s Fetching manifest", m.spinner.View())
	case run.StateScanning, run.StateVerifying:
		verb := "Checking"
		if m.state == run.StateVerifying {
			verb = "Re-checking"
		}
		return fmt.Sprintf("  %s %s: %s", m.spinner.View(), verb, truncatePath(m.scan.CurrentPath, width-20))
	case run.StateRepairing:
		p := m.install
		line := fmt.Sprintf("  %s [%d/%d] %s %s", m.spinner.View(), p.Index, p.Count, p.Phase, p.Package)
		if p.Phase == types.PhaseDownload {
			line += mutedTextStyle.Render(fmt.Sprintf("  %s / %s  %s",
				types.FormatSize(p.BytesDownloaded), types.FormatSize(p.TotalBytes), types.FormatRate(p.RateBps)))
		}
		return line
	case run.StateAwaitingRepairConfirmation:
		return "  Planning repair"
	case run.StateCancelled:
		return warningTextStyle.Render("  Cancelled")
	case run.StateFailed:
		return errorTextStyle.Render("  Failed")
	default:
		return successTextStyle.Render("  Done")
	}
}

// fraction is the progress of the current phase in [0, 1].
func (m Model) fraction() float64 {
	switch m.state {
	case run.StateScanning, run.StateVerifying:
		if m.scan.Total > 0 {
			return float64(m.scan.Scanned) / float64(m.scan.Total)
		}
	case run.StateRepairing:
		p := m.install
		if p.Count == 0 {
			return 0
		}
		done := float64(p.Index - 1)
		if p.Phase == types.PhaseDownload && p.TotalBytes > 0 {
			done += float64(p.BytesDownloaded) / float64(p.TotalBytes) * 0.9
		} else if p.Phase != types.PhaseDownload {
			done += 0.95
		}
		return min(done/float64(p.Count), 1)
	case run.StateDone:
		return 1
	}
	return 0
}

func (m Model) renderStats(totalWidth int) string {
	boxWidth := max((totalWidth-12)/4-2, 10)
	corrupt := m.scan.Corrupt
	box := func(label, value string) string {
		content := lipgloss.JoinVertical(lipgloss.Center,
			statsLabelStyle.Render(label), statsValueStyle.Render(value))
		return statsBoxStyle.Width(boxWidth).Align(lipgloss.Center).Render(content)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ",
		box("Checked", fmt.Sprintf("%s/%s", humanize.Comma(m.scan.Scanned), humanize.Comma(m.scan.Total))),
		" ", box("Correct", humanize.Comma(m.scan.Correct)),
		" ", box("Failing", humanize.Comma(corrupt)),
		" ", box("Time", formatElapsed(time.Since(m.startTime))),
	)
}

func (m Model) renderConfirm(width int) string {
	plan := m.confirm.Plan
	var b strings.Builder
	failing := 0
	for _, g := range plan.Groups {
		failing += len(g.Members)
	}
	b.WriteString(fmt.Sprintf("%d failing files, %d packages to install:\n", failing+len(plan.Optional), len(plan.Packages)))
	shown := plan.Packages
	if len(shown) > 8 {
		shown = shown[:8]
	}
	for _, p := range shown {
		b.WriteString(mutedTextStyle.Render("  " + truncatePath(p.Name(), width-10)))
		b.WriteString("\n")
	}
	if extra := len(plan.Packages) - len(shown); extra > 0 {
		b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  ... and %d more", extra)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(warningTextStyle.Bold(true).Render("Download and install? [y/N]"))
	return promptStyle.Render(b.String())
}

func logStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelError:
		return errorTextStyle
	case logging.LevelWarn:
		return warningTextStyle
	default:
		return mutedTextStyle
	}
}

// formatElapsed formats a duration as M:SS.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", d/time.Minute, (d%time.Minute)/time.Second)
}
