package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	watchTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#2C3E50")).
		Padding(0, 1)

	watchEventStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34ACE0"))
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	watchHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).MarginTop(1)
)

func newWatchCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream renderd's debug event feed in a live TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := toWebSocketURL(*addr)
			if err != nil {
				return err
			}
			p := tea.NewProgram(newWatchModel(wsURL), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

func toWebSocketURL(addr string) (string, error) {
	switch {
	case strings.HasPrefix(addr, "https://"):
		return "wss://" + strings.TrimPrefix(addr, "https://") + "/debug/ws", nil
	case strings.HasPrefix(addr, "http://"):
		return "ws://" + strings.TrimPrefix(addr, "http://") + "/debug/ws", nil
	default:
		return "", fmt.Errorf("addr must start with http:// or https://, got %q", addr)
	}
}

// watchEvent mirrors httpapi.DebugEvent for decoding, kept local to avoid
// an import dependency on the server package from the operator CLI.
type watchEvent struct {
	Timestamp int64       `json:"timestamp"`
	Kind      string      `json:"kind"`
	Detail    interface{} `json:"detail,omitempty"`
}

type wsConnectedMsg struct{ conn *websocket.Conn }
type wsEventMsg struct{ event watchEvent }
type wsErrMsg struct{ err error }

// watchModel is a small bubbletea model: a scrolling log of events received
// over the debug websocket. Grounded in shape on the process-tree TUI
// pattern (title/status/scrolling-body/help layout, lipgloss styling per
// event severity) without depending on the bubbles widget set, since this
// service's go.mod never pulled it in.
type watchModel struct {
	wsURL  string
	conn   *websocket.Conn
	events []watchEvent
	err    error
	width  int
	height int
}

func newWatchModel(wsURL string) watchModel {
	return watchModel{wsURL: wsURL}
}

func (m watchModel) Init() tea.Cmd {
	return connectCmd(m.wsURL)
}

func connectCmd(wsURL string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return wsErrMsg{err: err}
		}
		return wsConnectedMsg{conn: conn}
	}
}

func readCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		var evt watchEvent
		if err := conn.ReadJSON(&evt); err != nil {
			return wsErrMsg{err: err}
		}
		return wsEventMsg{event: evt}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit
		}
		return m, nil

	case wsConnectedMsg:
		m.conn = msg.conn
		m.err = nil
		return m, readCmd(m.conn)

	case wsEventMsg:
		m.events = append(m.events, msg.event)
		if len(m.events) > 200 {
			m.events = m.events[len(m.events)-200:]
		}
		return m, readCmd(m.conn)

	case wsErrMsg:
		m.err = msg.err
		m.conn = nil
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return connectCmd(m.wsURL)()
		})
	}
	return m, nil
}

func (m watchModel) View() string {
	var sb strings.Builder
	sb.WriteString(watchTitleStyle.Render("renderd debug feed") + "\n\n")

	if m.err != nil {
		sb.WriteString(watchErrStyle.Render(fmt.Sprintf("disconnected: %v (retrying)", m.err)) + "\n\n")
	} else if m.conn == nil {
		sb.WriteString("connecting...\n\n")
	}

	start := 0
	visible := m.height - 6
	if visible > 0 && len(m.events) > visible {
		start = len(m.events) - visible
	}
	for _, evt := range m.events[start:] {
		ts := time.UnixMilli(evt.Timestamp).Format("15:04:05.000")
		line := fmt.Sprintf("%s  %-16s %v", ts, evt.Kind, evt.Detail)
		sb.WriteString(watchEventStyle.Render(line) + "\n")
	}

	sb.WriteString(watchHelpStyle.Render("\nq to quit"))
	return sb.String()
}
