// Command fleetctl is an operator console for the fleet server: it lists
// devices with their effective connectivity and dispatches commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshEvery = 5 * time.Second

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	connectivityStyles = map[string]lipgloss.Style{
		"LIVE":  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"STALE": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"DEAD":  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type step int

const (
	stepBrowsing step = iota
	stepEnteringContentID
	stepEnteringVersion
	stepConfirmRetire
	stepSending
)

type model struct {
	client       *apiClient
	step         step
	devices      []deviceRow
	cursor       int
	currentInput string
	message      string
	loaded       bool
	quitting     bool
}

type devicesMsg []deviceRow
type refreshTickMsg struct{}
type commandDoneMsg struct{ res *commandResult }
type retiredMsg struct{ deviceID string }
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

func initialModel(client *apiClient) model {
	return model{client: client, step: stepBrowsing}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDevices(m.client), tickRefresh())
}

func tickRefresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func fetchDevices(c *apiClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		devices, err := c.devices(ctx)
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg(devices)
	}
}

func sendCommand(c *apiClient, deviceID, commandType string, params map[string]string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res, err := c.dispatch(ctx, deviceID, commandType, params)
		if err != nil {
			return errMsg{err}
		}
		return commandDoneMsg{res}
	}
}

func retireDevice(c *apiClient, deviceID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.retire(ctx, deviceID); err != nil {
			return errMsg{err}
		}
		return retiredMsg{deviceID}
	}
}

func (m model) selected() (deviceRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.devices) {
		return deviceRow{}, false
	}
	return m.devices[m.cursor], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.step == stepEnteringContentID || m.step == stepEnteringVersion {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)

	case devicesMsg:
		m.devices = []deviceRow(msg)
		m.loaded = true
		if m.cursor >= len(m.devices) {
			m.cursor = max(len(m.devices)-1, 0)
		}

	case refreshTickMsg:
		return m, tea.Batch(fetchDevices(m.client), tickRefresh())

	case commandDoneMsg:
		m.step = stepBrowsing
		prefix := "✓ "
		if msg.res.NoOp {
			prefix = "✓ (no change) "
		}
		m.message = successStyle.Render(prefix + msg.res.Acknowledgment)
		return m, fetchDevices(m.client)

	case retiredMsg:
		m.step = stepBrowsing
		m.message = successStyle.Render("✓ " + msg.deviceID + " retired")
		return m, fetchDevices(m.client)

	case errMsg:
		m.step = stepBrowsing
		m.message = errorStyle.Render("✗ " + msg.err.Error())
	}

	return m, nil
}

func (m model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.step == stepSending {
		return m, nil
	}
	if m.step == stepConfirmRetire {
		d, ok := m.selected()
		if msg.String() == "y" && ok {
			m.step = stepSending
			return m, retireDevice(m.client, d.DeviceID)
		}
		m.step = stepBrowsing
		m.message = ""
		return m, nil
	}

	d, ok := m.selected()
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.devices)-1 {
			m.cursor++
		}
	case "f":
		return m, fetchDevices(m.client)
	case "p":
		if ok {
			m.step = stepEnteringContentID
			m.currentInput = ""
		}
	case "u":
		if ok {
			m.step = stepEnteringVersion
			m.currentInput = ""
		}
	case "a", "s", "r":
		if ok {
			commandType := map[string]string{"a": "PAUSE", "s": "STOP", "r": "RESTART"}[msg.String()]
			m.step = stepSending
			m.message = fmt.Sprintf("Sending %s to %s...", commandType, d.DeviceID)
			return m, sendCommand(m.client, d.DeviceID, commandType, nil)
		}
	case "x":
		if ok {
			m.step = stepConfirmRetire
			m.message = promptStyle.Render(fmt.Sprintf("Retire %s? This is permanent. (y/n)", d.DeviceID))
		}
	}
	return m, nil
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.step = stepBrowsing
		m.currentInput = ""
	case "backspace":
		if len(m.currentInput) > 0 {
			m.currentInput = m.currentInput[:len(m.currentInput)-1]
		}
	case "enter":
		d, ok := m.selected()
		input := strings.TrimSpace(m.currentInput)
		if !ok || input == "" {
			return m, nil
		}
		m.currentInput = ""
		if m.step == stepEnteringContentID {
			m.step = stepSending
			return m, sendCommand(m.client, d.DeviceID, "PLAY", map[string]string{"content_id": input})
		}
		m.step = stepSending
		return m, sendCommand(m.client, d.DeviceID, "UPDATE_SOFTWARE", map[string]string{"target_version": input})
	default:
		if msg.Type == tea.KeyRunes {
			m.currentInput += msg.String()
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("Signage Fleet Console"))
	s.WriteString("\n")

	switch {
	case !m.loaded:
		s.WriteString("Loading devices...\n")
	case len(m.devices) == 0:
		s.WriteString("No devices registered.\n")
	default:
		s.WriteString(fmt.Sprintf("  %-20s %-11s %-7s %-9s %-10s %s\n", "DEVICE", "STATE", "LINK", "PLAYBACK", "VERSION", "LAST SEEN"))
		for i, d := range m.devices {
			cursor := " "
			if m.cursor == i {
				cursor = ">"
			}
			link := d.Connectivity
			if st, ok := connectivityStyles[link]; ok {
				link = st.Render(fmt.Sprintf("%-7s", link))
			}
			line := fmt.Sprintf("%-20s %-11s %s %-9s %-10s %s", d.DeviceID, d.DeclaredState, link, d.PlaybackState, d.SoftwareVersion, lastSeen(d.LastSeenAt))
			if m.cursor == i {
				line = selectedStyle.Render(line)
			}
			s.WriteString(cursor + " " + line + "\n")
		}
	}
	s.WriteString("\n")

	switch m.step {
	case stepEnteringContentID:
		s.WriteString(promptStyle.Render("Content id to play:") + "\n")
		s.WriteString(inputStyle.Render("> "+m.currentInput) + "\n")
		s.WriteString(helpStyle.Render("Enter to send, Esc to cancel") + "\n")
	case stepEnteringVersion:
		s.WriteString(promptStyle.Render("Target software version:") + "\n")
		s.WriteString(inputStyle.Render("> "+m.currentInput) + "\n")
		s.WriteString(helpStyle.Render("Enter to send, Esc to cancel") + "\n")
	default:
		if m.message != "" {
			s.WriteString(m.message + "\n\n")
		}
		s.WriteString(helpStyle.Render("↑/↓ select · p play · a pause · s stop · r restart · u update · x retire · f refresh · q quit") + "\n")
		s.WriteString(helpStyle.Render("Commands are applied by the device on its next poll.") + "\n")
	}

	return s.String()
}

func lastSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}

func main() {
	def := os.Getenv("FLEET_API")
	if def == "" {
		def = "http://localhost:3536"
	}
	api := flag.String("api", def, "fleet server base URL")
	flag.Parse()

	p := tea.NewProgram(initialModel(newAPIClient(*api)))
	if _, err := p.Run(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
