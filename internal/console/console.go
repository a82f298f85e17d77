// Package console is an interactive terminal front end for one session. It
// talks to the orchestrator in-process: lines starting with a command word
// (help, mode, state, reset, quit) control the session, anything else is
// sent as input to the current mode.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/session"
)

const (
	sparklineWidth  = 24
	sparklineHeight = 1
	latencyHistory  = 24
	transcriptSize  = 200
)

// Session is the slice of the orchestrator the console drives.
type Session interface {
	State(ctx context.Context, sessionID string) (*session.State, error)
	SwitchMode(ctx context.Context, sessionID, name string) (modes.Result, error)
	ProcessInput(ctx context.Context, sessionID string, in modes.Input) (modes.Result, error)
	Reset(ctx context.Context, sessionID string) error
}

// Model is the bubbletea model of the console.
type Model struct {
	sess      Session
	sessionID string
	timeout   time.Duration

	input    textinput.Model
	spinner  spinner.Model
	lines    []string
	mode     session.Mode
	turn     int
	busy     bool
	quitting bool

	latencies []float64
}

// Lipgloss styles, shared with the metrics dashboard palette.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	playerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a console for sessionID. Each call to the session is
// bounded by timeout.
func NewModel(sess Session, sessionID string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Placeholder = "say something, or type help"
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return Model{
		sess:      sess,
		sessionID: sessionID,
		timeout:   timeout,
		input:     ti,
		spinner:   sp,
		mode:      session.ModeMainMenu,
	}
}

// Message types
type stateMsg struct{ st *session.State }
type resultMsg struct {
	result  modes.Result
	elapsed time.Duration
}
type errMsg error

// Init loads the current session state.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadState())
}

func (m Model) loadState() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		st, err := m.sess.State(ctx, m.sessionID)
		if err != nil {
			return errMsg(err)
		}
		return stateMsg{st: st}
	}
}

func (m Model) call(fn func(ctx context.Context) (modes.Result, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		start := time.Now()
		res, err := fn(ctx)
		if err != nil {
			return errMsg(err)
		}
		return resultMsg{result: res, elapsed: time.Since(start)}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m.submit(line)
		}

	case stateMsg:
		m.mode, m.turn = msg.st.Mode, msg.st.TurnIndex
		return m, nil

	case resultMsg:
		m.busy = false
		m.latencies = appendToHistory(m.latencies, msg.elapsed.Seconds())
		m.addLine(narratorStyle.Render(RenderResult(msg.result)))
		return m, m.loadState()

	case errMsg:
		m.busy = false
		m.addLine(errorStyle.Render("error: " + error(msg).Error()))
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit interprets one line of input.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	case "help":
		m.addLine(systemStyle.Render(helpText))
		return m, nil
	case "state":
		return m, m.showState()
	case "reset":
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.call(func(ctx context.Context) (modes.Result, error) {
			if err := m.sess.Reset(ctx, m.sessionID); err != nil {
				return nil, err
			}
			return modes.Result{"message": "Session reset."}, nil
		}))
	case "mode":
		if rest == "" {
			m.addLine(systemStyle.Render("usage: mode <name>"))
			return m, nil
		}
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.call(func(ctx context.Context) (modes.Result, error) {
			return m.sess.SwitchMode(ctx, m.sessionID, rest)
		}))
	}

	m.addLine(playerStyle.Render("> " + line))
	m.busy = true
	in := InputFor(m.mode, line)
	return m, tea.Batch(m.spinner.Tick, m.call(func(ctx context.Context) (modes.Result, error) {
		return m.sess.ProcessInput(ctx, m.sessionID, in)
	}))
}

func (m Model) showState() tea.Cmd {
	return m.call(func(ctx context.Context) (modes.Result, error) {
		st, err := m.sess.State(ctx, m.sessionID)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return nil, err
		}
		return modes.Result{"message": string(data)}, nil
	})
}

func (m *Model) addLine(s string) {
	m.lines = append(m.lines, s)
	if over := len(m.lines) - transcriptSize; over > 0 {
		m.lines = m.lines[over:]
	}
}

// View renders the console
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("loremaster · %s · %s · turn %d", m.sessionID, m.mode, m.turn)))
	b.WriteString("\n\n")
	for _, l := range m.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.spinner.View() + " thinking...\n")
	} else {
		b.WriteString(m.input.View() + "\n")
	}
	b.WriteString(footerStyle.Render("[enter] send  [esc] quit  latency " + createSparkline(m.latencies) + " " + lastLatency(m.latencies)))
	return b.String()
}

const helpText = `commands:
  mode <name>   switch mode (main_menu, world_architect, dm_story, rules_explanation, tutorial, world_edit)
  state         show the session state
  reset         reset the session
  quit          leave the console
anything else is sent to the current mode`

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > latencyHistory {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return systemStyle.Render("no data")
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

func lastLatency(data []float64) string {
	if len(data) == 0 {
		return ""
	}
	return FormatLatency(data[len(data)-1])
}
