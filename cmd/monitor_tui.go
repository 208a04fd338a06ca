// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// motorState is the last speed commanded for one motor
type motorState struct {
	speed   int
	command uint8
	updated time.Time
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	stats         *sabertooth.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	motors        map[int]*motorState
	lastAddress   uint8
	linkErr       error
	linkClosed    bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type linkClosedMsg struct {
	err error
}

func initialModel(connInfo string, showAll bool) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         sabertooth.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		motors:        make(map[int]*motorState),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
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
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case linkClosedMsg:
		m.linkClosed = true
		m.linkErr = msg.err
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)

	case frameMsg:
		m.processFrame(msg)
	}

	return m, nil
}

func (m *model) processFrame(msg frameMsg) {
	if msg.decodeErr != nil {
		m.stats.Update(nil, msg.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("CHECKSUM ERROR: %v", msg.decodeErr), true)
		if m.stats.MismatchStreak == misalignmentStreak {
			m.addLogEntry(fmt.Sprintf("%d consecutive checksum errors, stream may be misaligned", misalignmentStreak), true)
		}
		return
	}

	m.stats.Update(&msg.frame, nil, msg.validationErrors)
	m.lastAddress = msg.frame.Address

	if motor, speed, ok := sabertooth.DecodeMotorCommand(msg.frame.Command, msg.frame.Value); ok {
		m.motors[motor] = &motorState{speed: speed, command: msg.frame.Command, updated: time.Now()}
	}

	name := sabertooth.FormatCommand(msg.frame.Command)
	if len(msg.validationErrors) > 0 {
		for _, err := range msg.validationErrors {
			m.addLogEntry(fmt.Sprintf("%s: %s", name, err.Message), true)
		}
	} else if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s value=%d (valid)", name, msg.frame.Value), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
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

// speedBar renders a signed speed as a bar centred on zero
func speedBar(speed, width int) string {
	half := width / 2
	filled := speed * half / sabertooth.MaxValue
	if filled > half {
		filled = half
	}
	if filled < -half {
		filled = -half
	}

	bar := []rune(strings.Repeat("·", half) + "|" + strings.Repeat("·", half))
	if filled > 0 {
		for i := half + 1; i <= half+filled; i++ {
			bar[i] = '█'
		}
	} else {
		for i := half - 1; i >= half+filled; i-- {
			bar[i] = '█'
		}
	}
	return string(bar)
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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("SABRELAY - FRAME MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | r=reset q=quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Link status
	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Connection lost: %v", m.linkErr)))
	case m.stats.MismatchStreak >= misalignmentStreak:
		s.WriteString(warningStyle.Render(fmt.Sprintf("⚠ %d consecutive checksum errors, stream may be misaligned", m.stats.MismatchStreak)))
	case m.stats.TotalFrames == 0:
		s.WriteString(warningStyle.Render("⏳ Waiting for frames..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Receiving"))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" (address %d)", m.lastAddress)))
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(m.stats.ErrorCount()) * 100.0 / float64(m.stats.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ErrorCount(), errorPercent)),
	))

	if m.stats.ChecksumErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
			statsLabelStyle.Render("Longest Run:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.MaxMismatchStreak)),
		))
	}

	if m.stats.Anomalies > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.Anomalies)),
			headerStyle.Render("unknown command"), m.stats.UnknownCommands,
			headerStyle.Render("value > 127"), m.stats.ValuesOutOfRange,
			headerStyle.Render("bad address"), m.stats.BadAddresses,
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Motors (only shown once a drive command was seen)
	if len(m.motors) > 0 {
		s.WriteString(statsLabelStyle.Render("Commanded Speed:"))
		s.WriteString("\n")

		motorContent := strings.Builder{}
		for _, motor := range []int{sabertooth.Motor1, sabertooth.Motor2} {
			state, ok := m.motors[motor]
			if !ok {
				continue
			}
			motorContent.WriteString(fmt.Sprintf("%s %s %s %s\n",
				statsLabelStyle.Render(fmt.Sprintf("Motor %d:", motor)),
				statsValueStyle.Render(fmt.Sprintf("%+4d", state.speed)),
				speedBar(state.speed, 32),
				headerStyle.Render(sabertooth.FormatCommand(state.command)),
			))
		}

		s.WriteString(boxStyle.Render(strings.TrimRight(motorContent.String(), "\n")))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
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
