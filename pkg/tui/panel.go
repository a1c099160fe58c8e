// Package tui is a terminal stand-in for the side panel: it connects to the
// controller as a port, submits tasks, and renders the execution event
// stream.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"

	"webpilot/pkg/events"
)

// taskTimeout is the UI-side wall clock. The executor remains authoritative;
// the panel only surfaces a timeout message and re-enables input.
const taskTimeout = 5 * time.Minute

// heartbeatInterval keeps the port connection warm.
const heartbeatInterval = 25 * time.Second

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	actorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Italic(true)
)

// incomingMsg carries one decoded frame from the controller.
type incomingMsg map[string]any

// connLostMsg signals the read pump died.
type connLostMsg struct{ err error }

// tickMsg drives the wall-clock timeout check.
type tickMsg time.Time

// Model is the bubbletea model for the panel.
type Model struct {
	conn  *websocket.Conn
	tabID int

	input   textinput.Model
	spin    spinner.Model
	lines   []string
	width   int
	height  int
	running bool
	paused  bool
	started time.Time
	err     error
}

// NewModel builds the panel model over an established port connection.
func NewModel(conn *websocket.Conn, tabID int) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe a task for this tab..."
	ti.Focus()
	ti.CharLimit = 2000

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return Model{
		conn:  conn,
		tabID: tabID,
		input: ti,
		spin:  sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+x":
			if m.running {
				m.send(map[string]any{"type": "cancel_task", "tabId": m.tabID})
				m.appendLine(dimStyle.Render("cancellation requested"))
			}
			return m, nil
		case "ctrl+p":
			if m.running {
				if m.paused {
					m.send(map[string]any{"type": "resume_task", "tabId": m.tabID})
				} else {
					m.send(map[string]any{"type": "pause_task", "tabId": m.tabID})
				}
				m.paused = !m.paused
			}
			return m, nil
		case "enter":
			task := strings.TrimSpace(m.input.Value())
			if task == "" {
				return m, nil
			}
			msgType := "new_task"
			if m.running {
				msgType = "follow_up_task"
			}
			m.send(map[string]any{"type": msgType, "task": task, "tabId": m.tabID})
			m.appendLine(titleStyle.Render("you: ") + task)
			m.input.Reset()
			if !m.running {
				m.running = true
				m.started = time.Now()
			}
			return m, nil
		}

	case incomingMsg:
		m.handleFrame(msg)
		return m, nil

	case connLostMsg:
		m.err = msg.err
		m.running = false
		return m, nil

	case tickMsg:
		if m.running && time.Since(m.started) > taskTimeout {
			m.appendLine(failStyle.Render("Task timed out on the panel side; reconnect to check actual state."))
			m.running = false
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleFrame folds one controller frame into the transcript.
func (m *Model) handleFrame(frame incomingMsg) {
	frameType, _ := frame["type"].(string)
	switch frameType {
	case string(events.ExecutionEvent):
		m.handleEvent(frame)
	case "heartbeat_ack":
	case "warning":
		m.appendLine(dimStyle.Render("warning: " + str(frame["message"])))
	case "error":
		m.appendLine(failStyle.Render("error: " + str(frame["error"])))
		m.running = false
	case "executor_status":
		if running, ok := frame["isRunning"].(bool); ok {
			m.running = running
		}
	}
}

func (m *Model) handleEvent(frame incomingMsg) {
	state, _ := frame["state"].(string)
	actor, _ := frame["actor"].(string)
	data, _ := frame["data"].(map[string]any)
	details := str(data["details"])
	messageType := str(data["messageType"])

	label := actorStyle.Render(actor)
	switch events.State(state) {
	case events.TaskStart:
		m.appendLine(dimStyle.Render("task started"))
	case events.TaskOK:
		m.appendLine(label + " " + okStyle.Render(details))
		m.running = false
		m.paused = false
	case events.TaskFail:
		m.appendLine(label + " " + failStyle.Render(details))
		m.running = false
		m.paused = false
	case events.TaskCancel:
		m.appendLine(dimStyle.Render(details))
		m.running = false
		m.paused = false
	case events.ActFail, events.StepFail:
		m.appendLine(label + " " + failStyle.Render(details))
	default:
		if messageType == string(events.MessageTypeThinking) {
			m.appendLine(label + " " + thinkingStyle.Render(clipLine(details, 200)))
		} else if details != "" {
			m.appendLine(label + " " + details)
		}
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	const maxLines = 500
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m *Model) send(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = m.conn.WriteMessage(websocket.TextMessage, data)
}

// View implements tea.Model.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("webpilot — tab %d", m.tabID)))
	b.WriteString("\n\n")

	visible := m.lines
	maxVisible := m.height - 6
	if maxVisible > 0 && len(visible) > maxVisible {
		visible = visible[len(visible)-maxVisible:]
	}
	for _, line := range visible {
		b.WriteString(wordwrap.String(line, width-2))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	if m.err != nil {
		b.WriteString(failStyle.Render("connection lost: " + m.err.Error()))
	} else if m.paused {
		b.WriteString(dimStyle.Render("paused — ctrl+p to resume"))
	} else if m.running {
		b.WriteString(m.spin.View() + " working...")
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteByte('\n')
	b.WriteString(helpStyle.Render("enter: send · ctrl+x: cancel · ctrl+p: pause/resume · ctrl+c: quit"))
	return b.String()
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func clipLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// Run connects to the controller and runs the panel until quit.
func Run(serverAddr string, tabID int) error {
	url := fmt.Sprintf("ws://%s/?name=side-panel-connection-%d", serverAddr, tabID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer conn.Close()

	p := tea.NewProgram(NewModel(conn, tabID), tea.WithAltScreen())

	// Read pump: frames become bubbletea messages.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				p.Send(connLostMsg{err: err})
				return
			}
			var frame incomingMsg
			if json.Unmarshal(data, &frame) == nil {
				p.Send(frame)
			}
		}
	}()

	// Heartbeat keeps the connection health-checked.
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for range ticker.C {
			data, _ := json.Marshal(map[string]any{"type": "heartbeat"})
			if conn.WriteMessage(websocket.TextMessage, data) != nil {
				return
			}
		}
	}()

	_, err = p.Run()
	return err
}
