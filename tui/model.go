package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the watch timer.
type tickMsg time.Time

// state represents the current phase of a command.
type state int

const (
	stateInit       state = iota
	stateLoggingIn        // login request in flight
	stateFetching         // API request in flight
	stateRefreshing       // refresh in flight, requests queued
	stateWatching         // cross-session watcher running
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the essence TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	activity string

	// Watch mode
	watchSource  string
	watchSince   time.Time
	watchElapsed time.Duration

	// Success / error display
	title  string
	rows   []Row
	errMsg string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateWatching {
			return m, nil
		}
		m.watchElapsed = time.Time(msg).Sub(m.watchSince)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgSessionFound:
		m.addStatus(statusOK, "Found stored session")
		return m, nil

	case MsgNoSession:
		m.addStatus(statusWarn, "Not logged in")
		return m, nil

	case MsgLoggingIn:
		m.state = stateLoggingIn
		m.activity = "Logging in as " + msg.Email
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, "Logged in as "+msg.Name)
		return m, nil

	case MsgTokenSaved:
		m.addStatus(statusOK, "Session stored in "+msg.Location)
		return m, nil

	case MsgFetching:
		m.state = stateFetching
		m.activity = "Fetching " + msg.What
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Token refreshed successfully")
		if m.activity != "" {
			m.state = stateFetching
		}
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgRequestRetried:
		m.addStatus(statusInfo, fmt.Sprintf("Retrying %s %s", msg.Method, msg.URL))
		return m, nil

	case MsgSessionTerminated:
		m.addStatus(statusWarn, "Session ended, redirecting to "+msg.Location)
		return m, nil

	case MsgLoggedOut:
		if msg.All {
			m.addStatus(statusOK, "Logged out from all devices")
		} else {
			m.addStatus(statusOK, "Logged out")
		}
		return m, nil

	case MsgWatching:
		m.state = stateWatching
		m.watchSource = msg.Source
		m.watchSince = msg.Since
		return m, tickAfterSecond()

	case MsgLoginDetected:
		m.addStatus(statusOK, "Logged in from another session")
		return m, nil

	case MsgDone:
		m.title = msg.Title
		m.rows = msg.Rows
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while a command is in progress.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Essence  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateWatching:
		b.WriteString(m.spinner.View())
		b.WriteString(" Watching " + m.watchSource + " for sign-outs...  ")
		b.WriteString(styleDim.Render(formatDuration(m.watchElapsed) + " elapsed"))
		b.WriteString("\n")
		b.WriteString(styleDim.Render("Press Ctrl+C to stop"))
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateLoggingIn, stateFetching:
		b.WriteString(m.spinner.View())
		b.WriteString(" " + m.activity + "...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess renders the result table.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	title := m.title
	if title == "" {
		title = "Done"
	}
	b.WriteString(styleOK.Render("  ✓ " + title))
	b.WriteString("\n\n")

	width := 0
	for _, r := range m.rows {
		width = max(width, len(r.Label))
	}
	for _, r := range m.rows {
		b.WriteString(styleBold.Render(fmt.Sprintf("%-*s ", width+1, r.Label+":")))
		b.WriteString(r.Value + "\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Request failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
