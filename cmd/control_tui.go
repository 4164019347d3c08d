// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
	"github.com/Thermoquad/overwave/pkg/wave"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const maxTrials = 100

// Focus states
const (
	focusWaveList = iota
	focusMessageInput
	focusTrialsInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// waveItem is a wave with a configured actuator
type waveItem struct {
	wave wave.Wave
	bit  time.Duration
}

// Implement list.Item interface
func (w waveItem) Title() string { return w.wave.String() }
func (w waveItem) Description() string {
	return fmt.Sprintf("%s, %v/bit", wave.ProfileFor(w.wave).Keying, w.bit)
}
func (w waveItem) FilterValue() string { return w.wave.String() }

// controlModel is the Bubble Tea model for the sender TUI
type controlModel struct {
	sessions *sessionManager
	connInfo string

	// Link
	state       link.State
	peerName    string
	connectedAt time.Time

	// Inputs
	waveList     list.Model
	messageInput textinput.Model
	trialsInput  textinput.Model
	focusedField int

	// Running session
	sending  bool
	current  handshake.Config
	trial    int
	percent  float64
	acked    int
	lost     int
	progress progress.Model

	eventLog      []logEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type sendProgressMsg struct {
	trial   int
	percent float64
}

type sendTrialMsg struct {
	trial int
	acked bool
}

type sendDoneMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(sessions *sessionManager, connInfo string, waves []wave.Wave) controlModel {
	mi := textinput.New()
	mi.Placeholder = "hello"
	mi.CharLimit = 64
	mi.Width = 30

	ti := textinput.New()
	ti.Placeholder = strconv.Itoa(cfg.Transmission.Trials)
	ti.CharLimit = 3
	ti.Width = 5

	items := make([]list.Item, len(waves))
	selected := 0
	for i, w := range waves {
		bit := cfg.Transmission.BitDuration
		if bit == 0 || w != cfg.Transmission.WaveKind() {
			bit = wave.ProfileFor(w).DefaultBitDuration
		}
		items[i] = waveItem{wave: w, bit: bit}
		if w == cfg.Transmission.WaveKind() {
			selected = i
		}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	waveList := list.New(items, delegate, 26, 10)
	waveList.Title = "Waves"
	waveList.SetShowStatusBar(false)
	waveList.SetShowHelp(false)
	waveList.SetFilteringEnabled(false)
	waveList.Select(selected)

	return controlModel{
		sessions:      sessions,
		connInfo:      connInfo,
		waveList:      waveList,
		messageInput:  mi,
		trialsInput:   ti,
		focusedField:  focusWaveList,
		progress:      progress.New(progress.WithDefaultGradient()),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(m.width-40, 10)

	case controlTickMsg:
		return m, controlTickCmd()

	case linkEventMsg:
		m.handleLinkEvent(link.Event(msg))

	case sendProgressMsg:
		m.trial = msg.trial
		m.percent = msg.percent

	case sendTrialMsg:
		if msg.acked {
			m.acked++
			m.addLogEntry(fmt.Sprintf("Trial %d/%d acknowledged", msg.trial, m.current.Trials), false)
		} else {
			m.lost++
			m.addLogEntry(fmt.Sprintf("Trial %d/%d lost: receiver was not armed", msg.trial, m.current.Trials), true)
		}

	case sendDoneMsg:
		m.sending = false
		m.percent = 0
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Session ended: %v", msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Session complete: %d acknowledged, %d lost", m.acked, m.lost), false)
		}
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusWaveList:
		m.waveList, cmd = m.waveList.Update(msg)
		cmds = append(cmds, cmd)
	case focusMessageInput:
		m.messageInput, cmd = m.messageInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusTrialsInput:
		m.trialsInput, cmd = m.trialsInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleLinkEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventStateChanged:
		m.state = ev.State
		if ev.State == link.StateConnected {
			m.connectedAt = time.Now()
		} else {
			m.peerName = ""
		}
	case link.EventDeviceName:
		m.peerName = ev.Name
		m.addLogEntry("Connected to "+ev.Name, false)
	case link.EventDisconnected:
		m.addLogEntry(fmt.Sprintf("Link lost - reconnecting: %v", ev.Err), true)
	}
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusWaveList || m.focusedField == focusButton {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "esc":
		if m.sending {
			m.sessions.cancel()
		}
		return m, nil

	case "enter":
		if m.focusedField != focusWaveList {
			return m.startSession()
		}
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusWaveList:
		m.waveList, cmd = m.waveList.Update(msg)
	case focusMessageInput:
		m.messageInput, cmd = m.messageInput.Update(msg)
	case focusTrialsInput:
		m.trialsInput, cmd = m.trialsInput.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	const n = focusButton + 1
	m.focusedField = (m.focusedField + delta + n) % n

	m.messageInput.Blur()
	m.trialsInput.Blur()
	switch m.focusedField {
	case focusMessageInput:
		m.messageInput.Focus()
	case focusTrialsInput:
		m.trialsInput.Focus()
	}
	return m
}

// sessionConfig builds the configuration to announce from the inputs.
func (m *controlModel) sessionConfig() (handshake.Config, error) {
	item, ok := m.waveList.SelectedItem().(waveItem)
	if !ok {
		return handshake.Config{}, fmt.Errorf("no wave selected")
	}
	trials := cfg.Transmission.Trials
	if s := strings.TrimSpace(m.trialsInput.Value()); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxTrials {
			return handshake.Config{}, fmt.Errorf("trials must be between 1 and %d", maxTrials)
		}
		trials = n
	}
	tc := handshake.Config{
		Wave:        item.wave,
		BitDuration: item.bit,
		Trials:      trials,
		Text:        m.messageInput.Value(),
	}
	return tc, tc.Validate()
}

func (m *controlModel) startSession() (tea.Model, tea.Cmd) {
	if m.sending {
		m.addLogEntry("A session is already running (Esc aborts it)", true)
		return m, nil
	}
	tc, err := m.sessionConfig()
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Cannot send: %v", err), true)
		return m, nil
	}
	if err := m.sessions.begin(tc); err != nil {
		m.addLogEntry(fmt.Sprintf("Cannot send: %v", err), true)
		return m, nil
	}

	m.sending = true
	m.current = tc
	m.trial, m.percent, m.acked, m.lost = 0, 0, 0, 0
	m.addLogEntry(fmt.Sprintf("Sending %q on %s, %d trial(s)", tc.Text, tc.Wave, tc.Trials), false)
	return m, nil
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("OVERWAVE CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Esc=abort", m.connInfo)))
	s.WriteString("\n")
	switch m.state {
	case link.StateConnected:
		s.WriteString(statsValueStyle.Render(" ✓ Connected to " + m.peerName))
		s.WriteString(headerStyle.Render(" (" + formatElapsed(time.Since(m.connectedAt)) + ")"))
	case link.StateConnecting:
		s.WriteString(warningStyle.Render(" ⏳ Connecting..."))
	default:
		s.WriteString(warningStyle.Render(" ⏳ Waiting for a receiver (" + m.state.String() + ")"))
	}
	s.WriteString("\n\n")

	// Layout: left panel (waves) | right panel (message)
	leftWidth := 26
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusWaveList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	wavePanel := listStyle.Render(m.waveList.View())

	var panel strings.Builder
	panel.WriteString(statsLabelStyle.Render("Message:"))
	panel.WriteString("\n")
	panel.WriteString(m.messageInput.View())
	panel.WriteString("\n\n")
	panel.WriteString(statsLabelStyle.Render("Trials:"))
	panel.WriteString(" ")
	panel.WriteString(m.trialsInput.View())
	panel.WriteString("\n\n")
	if m.focusedField == focusButton {
		panel.WriteString(focusedButtonStyle.Render("Send"))
	} else {
		panel.WriteString(buttonStyle.Render("Send"))
	}
	controlPanel := boxStyle.Width(rightWidth).Render(panel.String())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, wavePanel, " ", controlPanel))
	s.WriteString("\n\n")

	// Transmission
	if m.sending || m.acked+m.lost > 0 {
		var tx strings.Builder
		tx.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Trial:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", m.trial, m.current.Trials)),
			statsLabelStyle.Render("Acked:"), statsValueStyle.Render(strconv.Itoa(m.acked)),
			statsLabelStyle.Render("Lost:"), errorStyle.Render(strconv.Itoa(m.lost)),
		))
		tx.WriteString(m.progress.ViewAs(m.percent / 100))
		s.WriteString(boxStyle.Render(tx.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 22
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var logContent strings.Builder
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05"))
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
