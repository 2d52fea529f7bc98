// Package install renders a live firmware installation as a Bubble Tea
// program, fed by progress records republished through the pubsub broker.
package install

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/pubsub"
	"github.com/fwkit/rauctl/internal/ui/styles"
)

const (
	maxHistory   = 8  // Recent records kept on screen
	defaultWidth = 80 // Used until the first WindowSizeMsg arrives
)

// ResultMsg carries the terminal result code of the session. The command
// layer sends it with Program.Send from the completion callback.
type ResultMsg struct {
	Code int32
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Model is the install view state.
type Model struct {
	bundle   string
	spinner  spinner.Model
	progress progress.Model
	listener *pubsub.ContinuousListener[installer.Event]

	width     int
	operation string
	percent   int32
	lastError string
	history   []string

	result   int32
	finished bool
}

// New creates an install view for the given bundle. The listener must be
// subscribed to the broker the session's event callback publishes to.
func New(bundle string, listener *pubsub.ContinuousListener[installer.Event]) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(styles.AccentColor)

	return Model{
		bundle:    bundle,
		spinner:   sp,
		progress:  progress.New(progress.WithDefaultGradient()),
		listener:  listener,
		width:     defaultWidth,
		operation: "connecting",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.listener == nil {
		return m.spinner.Tick
	}
	return tea.Batch(m.spinner.Tick, m.listener.Listen())
}

// Update handles messages for the install view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			// The session keeps running on the device; we only stop
			// watching it.
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(msg.Width-4, 60)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pubsub.Event[installer.Event]:
		m.apply(msg.Payload)
		if m.listener == nil {
			return m, nil
		}
		return m, m.listener.Listen()

	case ResultMsg:
		m.result = msg.Code
		m.finished = true
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one progress record into the view state.
func (m *Model) apply(event installer.Event) {
	switch {
	case event.IsOperation():
		m.operation = event.Operation
	case event.IsProgress():
		m.percent = event.Percent
	case event.IsLastError():
		m.lastError = event.Error
	}

	line := strings.Repeat("  ", int(event.Depth)) + event.String()
	m.history = append(m.history, line)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// View renders the install view.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styles.TitleStyle.Render("Installing"))
	b.WriteString(" ")
	b.WriteString(lipgloss.NewStyle().Foreground(styles.TextSecondaryColor).Render(m.bundle))
	b.WriteString("\n\n")

	if m.finished {
		b.WriteString(m.statusLine())
	} else {
		phase := lipgloss.NewStyle().Foreground(styles.AccentColor).Render(m.operation)
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), phase))
		b.WriteString(m.progress.ViewAs(float64(m.percent) / 100))
	}
	b.WriteString("\n\n")

	for _, line := range m.history {
		b.WriteString(styles.MutedStyle.Render(line))
		b.WriteString("\n")
	}

	if m.lastError != "" {
		b.WriteString("\n")
		wrapped := wordwrap.String(m.lastError, max(m.width-4, 20))
		b.WriteString(lipgloss.NewStyle().Foreground(styles.StatusErrorColor).Render(wrapped))
		b.WriteString("\n")
	}

	if !m.finished {
		b.WriteString("\n")
		b.WriteString(styles.MutedStyle.Render("[q] Quit (install continues on device)"))
		b.WriteString("\n")
	}

	return b.String()
}

// statusLine renders the terminal outcome.
func (m Model) statusLine() string {
	switch m.result {
	case installer.ResultSuccess:
		style := lipgloss.NewStyle().Foreground(styles.StatusSuccessColor).Bold(true)
		return style.Render("✓ Install succeeded")
	case installer.ResultDisconnected:
		style := lipgloss.NewStyle().Foreground(styles.StatusWarningColor).Bold(true)
		return style.Render("! Lost connection to installer service")
	default:
		style := lipgloss.NewStyle().Foreground(styles.StatusErrorColor).Bold(true)
		return style.Render(fmt.Sprintf("✗ Install failed (code %d)", m.result))
	}
}

// Finished returns true once a terminal result was received.
func (m Model) Finished() bool { return m.finished }

// Result returns the terminal result code. Only meaningful when
// Finished() is true.
func (m Model) Result() int32 { return m.result }
