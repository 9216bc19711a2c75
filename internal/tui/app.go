// Package tui provides the interactive terminal dashboard for switchboard.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/switchboard/internal/agents"
	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	tabStyle       = lipgloss.NewStyle().Foreground(mutedColor).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Foreground(fgColor).Background(primaryColor).Bold(true).Padding(0, 1)

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
)

const (
	pollInterval = 2 * time.Second
	setupsLimit  = 50
)

// App is the main TUI application model.
type App struct {
	client       *Client
	agent        string
	view         view
	lastPanel    view
	selectedIdx  int
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	message      string
	busy         bool
	daemonOnline bool
	health       *controlplane.HealthResponse
	setups       []models.Setup
	workers      []models.WorkerStatus
	snapshots    []models.SnapshotInfo
	registry     []models.WorkerDescriptor
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: setup <task> | preview <task> | analyze <task> | rollback | stop | restart | / for commands"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		agent:       string(agents.DetectFromEnv(os.Getenv)),
		view:        viewSetups,
		lastPanel:   viewSetups,
		input:       ti,
		viewport:    viewport.New(80, 20),
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.checkDaemon(),
		a.fetchPanel(viewSetups),
		a.fetchPanel(viewRegistry),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.suggestions.IsVisible() || a.input.Value() != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, nil
			}
			if a.view == viewResult {
				a.view = a.lastPanel
				return a, a.fetchPanel(a.view)
			}

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.view == viewResult {
				a.viewport.LineUp(1)
			} else if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.view == viewResult {
				a.viewport.LineDown(1)
			} else if a.selectedIdx < a.panelLen()-1 {
				a.selectedIdx++
			}
			return a, nil

		case "tab", "shift+tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			step := 1
			if msg.String() == "shift+tab" {
				step = len(panels) - 1
			}
			a.switchPanel(panels[(a.panelIndex()+step)%len(panels)])
			return a, a.fetchPanel(a.view)

		case "ctrl+r":
			return a, tea.Batch(a.checkDaemon(), a.fetchPanel(a.view))

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			line := strings.TrimSpace(a.input.Value())
			if line != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(line)
			}
			if a.view == viewSetups && a.selectedIdx < len(a.setups) {
				a.showResult(renderSetupRecord(a.setups[a.selectedIdx]))
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.viewport.Width = msg.Width
		a.viewport.Height = max(5, msg.Height-10)

	case daemonStatusMsg:
		a.daemonOnline = msg.health != nil
		a.health = msg.health

	case setupsLoadedMsg:
		a.setups = msg.setups
		a.clampSelection()

	case workersLoadedMsg:
		a.workers = msg.workers
		a.clampSelection()
		a.refreshReferences()

	case snapshotsLoadedMsg:
		a.snapshots = msg.snapshots
		a.clampSelection()
		a.refreshReferences()

	case registryLoadedMsg:
		a.registry = msg.registry
		a.clampSelection()
		a.refreshReferences()

	case tickMsg:
		// The result view is static until the user leaves it.
		if a.view != viewResult && !a.busy {
			cmds = append(cmds, a.checkDaemon(), a.fetchPanel(a.view))
		}
		cmds = append(cmds, a.tickCmd())

	case resultMsg:
		a.busy = false
		a.message = msg.message
		if msg.body != "" {
			a.showResult(msg.body)
		}
		cmds = append(cmds, a.fetchPanel(a.lastPanel))

	case commandResultMsg:
		a.busy = false
		a.message = msg.message
		cmds = append(cmds, a.fetchPanel(a.view))

	case errMsg:
		a.busy = false
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("Switchboard") + "  " + daemonStatus
	if a.health != nil {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d workers]", a.health.Workers))
		header += "  " + helpStyle.Render("v"+a.health.Version)
	}
	header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render("agent: "+a.agent)
	b.WriteString(header + "\n")
	b.WriteString(a.renderTabs() + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	contentHeight := max(a.height-10, 5)
	switch a.view {
	case viewSetups:
		b.WriteString(a.renderSetups(contentHeight))
	case viewWorkers:
		b.WriteString(a.renderWorkers(contentHeight))
	case viewSnapshots:
		b.WriteString(a.renderSnapshots(contentHeight))
	case viewRegistry:
		b.WriteString(a.renderRegistry(contentHeight))
	case viewResult:
		b.WriteString(a.viewport.View())
	}

	if a.busy {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(warningColor).Render("Working..."))
	} else if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.view {
	case viewResult:
		status = " ↑↓:scroll | Esc:back | Ctrl+C:quit"
	default:
		status = fmt.Sprintf(" %s: %d | ↑↓:nav | Tab:panel | Enter:details | Ctrl+R:refresh | Ctrl+C:quit", a.view, a.panelLen())
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(status))

	return b.String()
}

func (a *App) renderTabs() string {
	tabs := make([]string, 0, len(panels))
	for _, p := range panels {
		if p == a.view || (a.view == viewResult && p == a.lastPanel) {
			tabs = append(tabs, activeTabStyle.Render(p.String()))
		} else {
			tabs = append(tabs, tabStyle.Render(p.String()))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) renderSetups(height int) string {
	if len(a.setups) == 0 {
		return "\n  No setups recorded yet. Type: setup <task description>\n"
	}
	lines := make([]string, 0, len(a.setups))
	for i, s := range a.setups {
		mark := onlineStyle.Render("●")
		plain := "●"
		if !s.Success {
			mark = offlineStyle.Render("✗")
			plain = "✗"
		}
		when := s.CreatedAt.Local().Format("01-02 15:04")
		text := fmt.Sprintf("%s  %-14s %s  %s", when, s.Agent, truncate(s.TaskDescription, 50), strings.Join(s.Selected, ","))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+plain+" "+text))
		} else {
			lines = append(lines, itemStyle.Render("  "+mark+" "+text))
		}
	}
	return window(lines, a.selectedIdx, height)
}

func (a *App) renderWorkers(height int) string {
	if len(a.workers) == 0 {
		return "\n  No worker processes running.\n" +
			"  " + helpStyle.Render("Workers start when a setup validates them.") + "\n"
	}
	lines := []string{"  " + headerStyle.Render(fmt.Sprintf("  %-26s %-8s %-8s %s", "NAME", "PID", "UPTIME", "COMMAND"))}
	for i, w := range a.workers {
		state := onlineStyle.Render("●")
		if !w.Running {
			state = offlineStyle.Render("○")
		}
		text := fmt.Sprintf("%-26s %-8d %-8s %s", w.Name, w.PID, formatDuration(time.Since(w.StartedAt)),
			truncate(strings.Join(append([]string{w.Command}, w.Args...), " "), 40))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+text))
		} else {
			lines = append(lines, itemStyle.Render(state+" "+text))
		}
	}
	return window(lines, a.selectedIdx+1, height) +
		"\n\n  " + helpStyle.Render("Commands: stop | restart (selected worker)") + "\n"
}

func (a *App) renderSnapshots(height int) string {
	if len(a.snapshots) == 0 {
		return fmt.Sprintf("\n  No snapshots for %s. They are taken before every config change.\n", a.agent)
	}
	lines := make([]string, 0, len(a.snapshots))
	for i, s := range a.snapshots {
		text := fmt.Sprintf("%s  %s  %d bytes", s.ID, s.Timestamp.Local().Format(time.DateTime), s.Size)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+text))
		} else {
			lines = append(lines, itemStyle.Render("  "+text))
		}
	}
	return window(lines, a.selectedIdx, height) +
		"\n\n  " + helpStyle.Render("Commands: rollback (selected snapshot) | agent <platform>") + "\n"
}

func (a *App) renderRegistry(height int) string {
	if len(a.registry) == 0 {
		return "\n  Registry is empty.\n"
	}
	lines := make([]string, 0, len(a.registry))
	for i, d := range a.registry {
		text := fmt.Sprintf("%-26s %-16s %s", d.Name, d.AuthKind, strings.Join(d.Capabilities, ", "))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+text))
		} else {
			lines = append(lines, itemStyle.Render("  "+text))
		}
	}
	return window(lines, a.selectedIdx, height)
}

// window keeps the selected line visible within height lines.
func window(lines []string, selected, height int) string {
	if len(lines) > height {
		start := selected - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (a *App) panelIndex() int {
	current := a.view
	if current == viewResult {
		current = a.lastPanel
	}
	for i, p := range panels {
		if p == current {
			return i
		}
	}
	return 0
}

func (a *App) panelLen() int {
	switch a.view {
	case viewSetups:
		return len(a.setups)
	case viewWorkers:
		return len(a.workers)
	case viewSnapshots:
		return len(a.snapshots)
	case viewRegistry:
		return len(a.registry)
	}
	return 0
}

func (a *App) switchPanel(v view) {
	a.view = v
	a.lastPanel = v
	a.selectedIdx = 0
}

func (a *App) clampSelection() {
	if n := a.panelLen(); a.selectedIdx >= n {
		a.selectedIdx = max(0, n-1)
	}
}

func (a *App) showResult(body string) {
	if a.view != viewResult {
		a.lastPanel = a.view
	}
	a.view = viewResult
	a.viewport.SetContent(body)
	a.viewport.GotoTop()
}

func (a *App) acceptSuggestion() {
	if selected := a.suggestions.Selected(); selected != nil {
		a.input.SetValue(selected.Completion())
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
}

func (a *App) refreshReferences() {
	names := make([]string, 0, len(a.registry))
	for _, d := range a.registry {
		names = append(names, d.Name)
	}
	ids := make([]string, 0, len(a.snapshots))
	for _, s := range a.snapshots {
		ids = append(ids, s.ID)
	}
	a.suggestions.SetReferences(names, ids)
}

func (a *App) selectedWorker() string {
	if a.view == viewWorkers && a.selectedIdx < len(a.workers) {
		return a.workers[a.selectedIdx].Name
	}
	return ""
}

func (a *App) selectedSnapshot() string {
	if a.view == viewSnapshots && a.selectedIdx < len(a.snapshots) {
		return a.snapshots[a.selectedIdx].ID
	}
	return ""
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		h, err := a.client.Health()
		if err != nil {
			return daemonStatusMsg{}
		}
		return daemonStatusMsg{health: h}
	}
}

func (a *App) fetchPanel(v view) tea.Cmd {
	client, agent := a.client, a.agent
	return func() tea.Msg {
		switch v {
		case viewSetups:
			setups, err := client.ListSetups(setupsLimit)
			if err != nil {
				return errMsg{err}
			}
			return setupsLoadedMsg{setups}
		case viewWorkers:
			workers, err := client.ListWorkers()
			if err != nil {
				return errMsg{err}
			}
			return workersLoadedMsg{workers}
		case viewSnapshots:
			snaps, err := client.ListSnapshots(agent)
			if err != nil {
				return errMsg{err}
			}
			return snapshotsLoadedMsg{snaps}
		case viewRegistry:
			reg, err := client.ListRegistry()
			if err != nil {
				return errMsg{err}
			}
			return registryLoadedMsg{reg}
		}
		return nil
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// executeCommand runs one command line. Commands may be typed with or
// without a leading "/".
func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]
	rest := strings.Join(args, " ")
	client, agent := a.client, a.agent

	switch cmd {
	case "q", "quit", "exit":
		return tea.Quit

	case "refresh":
		return tea.Batch(a.checkDaemon(), a.fetchPanel(a.view))

	case "agent":
		if len(args) != 1 {
			return message("Usage: agent <cursor|kiro|claude_desktop|claude_code|custom>")
		}
		p, err := agents.ParsePlatform(args[0])
		if err != nil {
			return message("Error: " + err.Error())
		}
		a.agent = string(p)
		a.switchPanel(viewSnapshots)
		return tea.Batch(message("✓ Agent set to "+a.agent), a.fetchPanel(viewSnapshots))

	case "setup", "preview":
		if rest == "" {
			return message("Usage: " + cmd + " <task description>")
		}
		a.busy = true
		dryRun := cmd == "preview"
		return func() tea.Msg {
			res, err := client.Setup(rest, agent, dryRun)
			if err != nil {
				return errMsg{err}
			}
			return resultMsg{message: setupSummary(res), body: renderSetupResult(res)}
		}

	case "analyze":
		if rest == "" {
			return message("Usage: analyze <task description>")
		}
		return func() tea.Msg {
			res, err := client.Analyze(rest)
			if err != nil {
				return errMsg{err}
			}
			return resultMsg{message: fmt.Sprintf("✓ %d servers selected", len(res.Selected)), body: renderAnalyzeResult(res)}
		}

	case "rollback":
		id := rest
		if id == "" {
			id = a.selectedSnapshot()
		}
		a.busy = true
		return func() tea.Msg {
			res, err := client.Rollback(agent, id)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Restored %s (undo: rollback %s)", res.RestoredSnapshotID, res.PreRestoreSnapshotID)}
		}

	case "stop", "restart":
		name := rest
		if name == "" {
			name = a.selectedWorker()
		}
		if name == "" {
			return message("Usage: " + cmd + " <worker> (or select one in Workers)")
		}
		a.busy = true
		return func() tea.Msg {
			if cmd == "stop" {
				if err := client.StopWorker(name); err != nil {
					return errMsg{err}
				}
				return commandResultMsg{"✓ Stopped " + name}
			}
			st, err := client.RestartWorker(name)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Restarted %s (pid %d)", st.Name, st.PID)}
		}
	}
	return message(fmt.Sprintf("Unknown: %s (try: setup, preview, analyze, rollback, stop, restart)", cmd))
}

func message(text string) tea.Cmd {
	return func() tea.Msg { return commandResultMsg{text} }
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "-"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

type commandResultMsg struct {
	message string
}

type resultMsg struct {
	message string
	body    string
}

type errMsg struct {
	err error
}

type daemonStatusMsg struct {
	health *controlplane.HealthResponse
}

type setupsLoadedMsg struct {
	setups []models.Setup
}

type workersLoadedMsg struct {
	workers []models.WorkerStatus
}

type snapshotsLoadedMsg struct {
	snapshots []models.SnapshotInfo
}

type registryLoadedMsg struct {
	registry []models.WorkerDescriptor
}

type tickMsg time.Time
