// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// Receiver dashboard model
type model struct {
	connInfo      string
	state         link.State
	peerName      string
	connectedAt   time.Time
	stats         device.Statistics
	lastResult    *handshake.Result
	eventLog      []logEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type linkEventMsg link.Event
type resultMsg struct {
	result handshake.Result
	stats  device.Statistics
}
type sessionDoneMsg struct{}

// tuiLogOutput keeps file logging and silences terminal logging, which
// would tear the dashboard.
func tuiLogOutput() io.Writer {
	if cfg.Log.Output == "file" {
		return logger.Out
	}
	return io.Discard
}

// formatElapsed formats a duration as a short human-friendly string
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func initialModel(connInfo string) model {
	return model{
		connInfo:      connInfo,
		stats:         *device.NewStatistics(),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case linkEventMsg:
		m.handleLinkEvent(link.Event(msg))

	case resultMsg:
		res := msg.result
		m.lastResult = &res
		m.stats = msg.stats
		m.addLogEntry(describeResult(res), res.Err != nil || res.Text != res.Config.Text)

	case sessionDoneMsg:
		m.addLogEntry(fmt.Sprintf("Session complete: %d trials, %.1f%% exact", m.stats.Trials, m.stats.SuccessRate()), false)
	}

	return m, nil
}

func (m *model) handleLinkEvent(ev link.Event) {
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
		m.addLogEntry(fmt.Sprintf("Link lost: %v", ev.Err), true)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	var s strings.Builder
	s.WriteString(titleStyle.Render("OVERWAVE - RECEIVER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Press 'q' to quit", m.connInfo)))
	s.WriteString("\n\n")

	// Link status
	switch m.state {
	case link.StateConnected:
		s.WriteString(statsValueStyle.Render("✓ Connected"))
		if m.peerName != "" {
			s.WriteString(statsValueStyle.Render(" to " + m.peerName))
		}
		s.WriteString(headerStyle.Render(" (" + formatElapsed(time.Since(m.connectedAt)) + ")"))
	case link.StateConnecting:
		s.WriteString(warningStyle.Render("⏳ Connecting..."))
	default:
		s.WriteString(warningStyle.Render("⏳ Waiting for a sender (" + m.state.String() + ")"))
	}
	s.WriteString("\n\n")

	// Statistics
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Trials:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Trials)),
		statsLabelStyle.Render("Exact:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Matches, m.stats.SuccessRate())),
		statsLabelStyle.Render("Char accuracy:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", m.stats.CharAccuracy())),
	))
	if m.stats.NoData > 0 || m.stats.Corrupt > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("No data:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.NoData)),
			statsLabelStyle.Render("Corrupt:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Corrupt)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s",
		statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Samples)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Last result
	if m.lastResult != nil {
		res := m.lastResult
		s.WriteString(statsLabelStyle.Render("Last Message:"))
		s.WriteString("\n")
		content := strings.Builder{}
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Wave:"), statsValueStyle.Render(res.Config.Wave.String()),
			statsLabelStyle.Render("Bit:"), statsValueStyle.Render(res.Config.BitDuration.String()),
		))
		if res.Err != nil {
			content.WriteString(errorStyle.Render("nothing decoded"))
		} else if res.Text == res.Config.Text {
			content.WriteString(statsValueStyle.Render(res.Text))
		} else {
			content.WriteString(warningStyle.Render(res.Text))
			content.WriteString(headerStyle.Render(" (expected " + res.Config.Text + ")"))
		}
		s.WriteString(boxStyle.Render(content.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 16
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
