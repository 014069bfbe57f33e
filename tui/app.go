// Package tui implements the interactive command-center terminal UI for a
// deep research job.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/command"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Researcher starts research jobs and services the command center's cancel
// and retry intents. Both the embedded simulator manager and the remote
// server session satisfy it.
type Researcher interface {
	StartResearch(ctx context.Context, query string, tags []string) (string, error)
	command.CancelTransport
	command.RetryTransport
}

// ReportSource resolves delivered reports for the report screen.
type ReportSource interface {
	GetByJobID(ctx context.Context, jobID string) (*reportstore.Report, error)
}

type screen int

const (
	screenQuery screen = iota
	screenResearch
	screenReport
)

type feedMsg struct {
	msg feedbus.Message
}

type activityMsg string

type tickMsg time.Time

type reportLoadedMsg struct {
	report *reportstore.Report
	err    error
}

type intentResultMsg struct {
	intent string
	err    error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	activityStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("14"))
)

// Options configures the TUI.
type Options struct {
	Researcher Researcher
	Bus        *feedbus.Bus
	Reports    ReportSource

	// CycleInterval overrides the activity cycling period; zero means the
	// default.
	CycleInterval time.Duration

	// InitialQuery, when set, starts a research job immediately instead of
	// showing the query prompt.
	InitialQuery string
	Tags         []string
}

type model struct {
	opts   Options
	screen screen
	width  int
	height int
	status string

	queryInput textinput.Model
	spin       spinner.Model
	bar        progress.Model

	center       *command.Center
	sub          *feedbus.Subscription
	activityLine string
	startedAt    time.Time

	report    *reportstore.Report
	reportErr error
}

// Run starts the terminal UI and blocks until the user quits.
func Run(opts Options) error {
	queryInput := textinput.New()
	queryInput.Prompt = "Research: "
	queryInput.Placeholder = "e.g. lithium battery cell suppliers in southeast asia"
	queryInput.Focus()
	queryInput.Width = 72
	if strings.TrimSpace(opts.InitialQuery) != "" {
		queryInput.SetValue(opts.InitialQuery)
	}

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := model{
		opts:       opts,
		screen:     screenQuery,
		queryInput: queryInput,
		spin:       spin,
		bar:        progress.New(progress.WithDefaultGradient()),
		status:     "Type a research query and press enter.",
	}

	program := tea.NewProgram(m, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (m model) Init() tea.Cmd {
	if strings.TrimSpace(m.opts.InitialQuery) != "" {
		return func() tea.Msg {
			return tea.KeyMsg{Type: tea.KeyEnter}
		}
	}
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.bar.Width = clamp(typed.Width-8, 20, 72)
		return m, nil
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m.teardown(), tea.Quit
		}
	case feedMsg:
		return m.onFeed(typed.msg)
	case activityMsg:
		m.activityLine = string(typed)
		return m, waitActivityCmd(m.center)
	case tickMsg:
		if m.screen == screenResearch {
			return m, tickCmd()
		}
		return m, nil
	case reportLoadedMsg:
		m.report = typed.report
		m.reportErr = typed.err
		m.screen = screenReport
		if typed.err != nil {
			m.status = "report load failed: " + typed.err.Error()
		} else {
			m.status = "esc: back | q: quit"
		}
		return m, nil
	case intentResultMsg:
		return m.onIntentResult(typed)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	switch m.screen {
	case screenQuery:
		return m.updateQuery(msg)
	case screenResearch:
		return m.updateResearch(msg)
	case screenReport:
		return m.updateReport(msg)
	default:
		return m, nil
	}
}

func (m model) updateQuery(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok && typed.String() == "enter" {
		query := strings.TrimSpace(m.queryInput.Value())
		if query == "" {
			m.status = "query must not be empty"
			return m, nil
		}
		return m.startResearch(query)
	}

	var cmd tea.Cmd
	m.queryInput, cmd = m.queryInput.Update(msg)
	return m, cmd
}

func (m model) startResearch(query string) (tea.Model, tea.Cmd) {
	// Subscribe before starting so the earliest observations are not missed.
	sub, err := m.opts.Bus.Subscribe(feedbus.AllJobs, 0)
	if err != nil {
		m.status = "subscribe failed: " + err.Error()
		return m, nil
	}

	jobID, err := m.opts.Researcher.StartResearch(context.Background(), query, m.opts.Tags)
	if err != nil {
		sub.Close()
		m.status = "start failed: " + err.Error()
		return m, nil
	}
	m.sub = sub

	deps := command.Deps{
		Cancel:        m.opts.Researcher,
		Retry:         m.opts.Researcher,
		CycleInterval: m.opts.CycleInterval,
	}
	m.center = command.NewCenter(jobID, deps)
	m.screen = screenResearch
	m.startedAt = time.Now().UTC()
	m.activityLine = m.center.Activity()
	m.status = "c: cancel | q: quit"

	return m, tea.Batch(
		waitFeedCmd(sub),
		waitActivityCmd(m.center),
		m.spin.Tick,
		tickCmd(),
	)
}

func (m model) updateResearch(msg tea.Msg) (tea.Model, tea.Cmd) {
	typed, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch typed.String() {
	case "q":
		return m.teardown(), tea.Quit
	case "c":
		return m, cancelCmd(m.center)
	case "r":
		return m, retryCmd(m.center)
	case "v":
		return m, viewReportCmd(m.center, m.opts.Reports)
	}
	return m, nil
}

func (m model) updateReport(msg tea.Msg) (tea.Model, tea.Cmd) {
	typed, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch typed.String() {
	case "esc":
		m.screen = screenResearch
		m.status = "v: view report | q: quit"
		return m, nil
	case "q":
		return m.teardown(), tea.Quit
	}
	return m, nil
}

// onFeed routes one bus message into the command center.
func (m model) onFeed(msg feedbus.Message) (tea.Model, tea.Cmd) {
	if m.center == nil || msg == nil {
		return m, nil
	}
	if msg.JobID() != m.center.JobID() {
		return m, waitFeedCmd(m.sub)
	}

	switch typed := msg.(type) {
	case *feedbus.SnapshotPublished:
		m.center.Apply(typed.Snapshot)
	case *feedbus.JobTerminal:
		switch typed.Status {
		case telemetry.JobComplete:
			m.center.MarkComplete()
			m.status = "complete | v: view report | q: quit"
		case telemetry.JobError:
			failure := telemetry.JobFailure{Message: "research failed"}
			if typed.Failure != nil {
				failure = *typed.Failure
			}
			m.center.MarkError(failure)
			if failure.Retryable {
				m.status = "failed | r: retry | q: quit"
			} else {
				m.status = "failed | q: quit"
			}
		case telemetry.JobCancelled:
			m.center.MarkCancelled()
			m.status = "cancelled | r: retry | q: quit"
		}
	}
	return m, waitFeedCmd(m.sub)
}

func (m model) onIntentResult(res intentResultMsg) (tea.Model, tea.Cmd) {
	if res.err != nil {
		m.status = res.intent + ": " + res.err.Error()
		return m, nil
	}
	switch res.intent {
	case "cancel":
		m.status = "cancellation requested"
	case "retry":
		m.startedAt = time.Now().UTC()
		m.activityLine = m.center.Activity()
		m.status = "retrying | c: cancel | q: quit"
		// The cycler is a fresh instance after retry; re-acquire its feed.
		return m, tea.Batch(waitActivityCmd(m.center), tickCmd())
	}
	return m, nil
}

func (m model) teardown() model {
	if m.center != nil {
		m.center.Close()
	}
	if m.sub != nil {
		m.sub.Close()
	}
	return m
}

func (m model) View() string {
	var body string
	switch m.screen {
	case screenQuery:
		body = m.viewQuery()
	case screenResearch:
		body = m.viewResearch()
	case screenReport:
		body = m.viewReport()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Supplier Risk Research"),
		"",
		body,
		"",
		mutedStyle.Render(m.status),
	)
}

func (m model) viewQuery() string {
	return strings.Join([]string{
		sectionStyle.Render("New Research"),
		m.queryInput.View(),
		"",
		mutedStyle.Render("enter: start | ctrl+c: quit"),
	}, "\n")
}

func (m model) viewResearch() string {
	status := m.center.Status()
	snap := m.center.Snapshot()
	pct := m.center.Progress()

	header := fmt.Sprintf("Job: %s | Status: %s | Elapsed: %s",
		m.center.JobID(), statusLabel(status), time.Since(m.startedAt).Round(time.Second))

	lines := []string{
		sectionStyle.Render("Command Center"),
		header,
		"",
		m.bar.ViewAs(pct / 100.0),
		fmt.Sprintf("%.0f%%  %s", pct, stageLabel(snap)),
		"",
	}

	if status == telemetry.JobResearching {
		lines = append(lines, m.spin.View()+" "+activityStyle.Render(m.activityLine), "")
	}

	if snap != nil {
		lines = append(lines, sectionStyle.Render("Agents"))
		for _, agent := range snap.Agents {
			lines = append(lines, fmt.Sprintf("  %s %-28s %s",
				agentMark(agent.Status), agent.Name, mutedStyle.Render(string(agent.Status))))
		}
		if len(snap.Agents) == 0 {
			lines = append(lines, mutedStyle.Render("  none allocated yet"))
		}
		lines = append(lines, "",
			fmt.Sprintf("Sources collected: %d | Insights: %d", snap.TotalSources, len(snap.Insights)))
	}

	if failure := m.center.Failure(); failure != nil {
		lines = append(lines, "", errStyle.Render("Error: "+failure.Message))
	}

	return strings.Join(lines, "\n")
}

func (m model) viewReport() string {
	if m.reportErr != nil {
		return errStyle.Render("Report unavailable: " + m.reportErr.Error())
	}
	if m.report == nil {
		return mutedStyle.Render("No report loaded.")
	}
	body := m.report.Markdown
	if m.height > 8 && len(body) > 0 {
		body = tailLines(body, m.height-6)
	}
	return strings.Join([]string{
		sectionStyle.Render(m.report.Title),
		mutedStyle.Render(fmt.Sprintf("%d sections | %d unique sources", m.report.Sections, m.report.UniqueSources)),
		"",
		body,
	}, "\n")
}

func statusLabel(status telemetry.JobStatus) string {
	switch status {
	case telemetry.JobComplete:
		return okStyle.Render(string(status))
	case telemetry.JobError, telemetry.JobCancelled:
		return errStyle.Render(string(status))
	default:
		return string(status)
	}
}

func stageLabel(snap *telemetry.Snapshot) string {
	if snap == nil {
		return mutedStyle.Render("waiting for telemetry")
	}
	return mutedStyle.Render("stage: " + string(snap.Stage))
}

func agentMark(status telemetry.AgentStatus) string {
	switch status {
	case telemetry.AgentComplete:
		return okStyle.Render("✓")
	case telemetry.AgentError:
		return errStyle.Render("✗")
	case telemetry.AgentResearching:
		return "•"
	default:
		return " "
	}
}

func waitFeedCmd(sub *feedbus.Subscription) tea.Cmd {
	if sub == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-sub.C()
		if !ok {
			return nil
		}
		return feedMsg{msg: msg}
	}
}

func waitActivityCmd(center *command.Center) tea.Cmd {
	if center == nil {
		return nil
	}
	ch := center.ActivityFeed()
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return activityMsg(line)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func cancelCmd(center *command.Center) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return intentResultMsg{intent: "cancel", err: center.Cancel(ctx)}
	}
}

func retryCmd(center *command.Center) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return intentResultMsg{intent: "retry", err: center.Retry(ctx)}
	}
}

func viewReportCmd(center *command.Center, store ReportSource) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := center.ViewReport(ctx); err != nil {
			return intentResultMsg{intent: "view report", err: err}
		}
		if store == nil {
			return reportLoadedMsg{err: fmt.Errorf("report archive not configured")}
		}
		report, err := store.GetByJobID(ctx, center.JobID())
		return reportLoadedMsg{report: report, err: err}
	}
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
