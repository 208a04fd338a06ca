// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Focus states
const (
	focusMotorList = iota
	focusSpeedInput
	focusDriveButton
	focusStopButton
)

// motorItem is one entry of the motor list
type motorItem struct {
	motor int
	speed int
}

// Implement list.Item interface
func (i motorItem) Title() string       { return fmt.Sprintf("Motor %d", i.motor) }
func (i motorItem) Description() string { return fmt.Sprintf("speed %+d", i.speed) }
func (i motorItem) FilterValue() string { return strconv.Itoa(i.motor) }

type controlModel struct {
	connMgr        *controllerManager
	connInfo       string
	motorList      list.Model
	speeds         map[int]int
	speedInput     textinput.Model
	focusedField   int
	sent           int
	failed         int
	eventLog       []eventLogEntry
	maxLogEntries  int
	connectionLost bool
	width          int
	height         int
	quitting       bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controllerLineMsg struct {
	line string
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *controllerManager, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "0"
	ti.CharLimit = 4
	ti.Width = 6

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	motorList := list.New([]list.Item{
		motorItem{motor: sabertooth.Motor1},
		motorItem{motor: sabertooth.Motor2},
	}, delegate, 24, 8)
	motorList.Title = "Motors"
	motorList.SetShowStatusBar(false)
	motorList.SetShowHelp(false)
	motorList.SetFilteringEnabled(false)

	return controlModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		motorList:     motorList,
		speeds:        make(map[int]int),
		speedInput:    ti,
		focusedField:  focusMotorList,
		eventLog:      make([]eventLogEntry, 0),
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
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		return m, controlTickCmd()

	case controllerLineMsg:
		m.addLogEntry("controller: "+msg.line, false)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.speeds = make(map[int]int)
		m.updateMotorList()
		m.addLogEntry("Reconnected: "+msg.connInfo, false)
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusSpeedInput {
			m.quitting = true
			return m, tea.Quit
		}

	case " ":
		if m.focusedField != focusSpeedInput {
			m.emergencyStop()
			return m, nil
		}

	case "r":
		if m.focusedField != focusSpeedInput {
			m.resume()
			return m, nil
		}

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		m.handleEnter()
		return m, nil
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusSpeedInput:
		m.speedInput, cmd = m.speedInput.Update(msg)
	case focusMotorList:
		m.motorList, cmd = m.motorList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) cycleFocus(delta int) {
	const fields = focusStopButton + 1
	m.focusedField = (m.focusedField + delta + fields) % fields

	if m.focusedField == focusSpeedInput {
		m.speedInput.Focus()
	} else {
		m.speedInput.Blur()
	}
}

func (m *controlModel) handleEnter() {
	switch m.focusedField {
	case focusSpeedInput, focusDriveButton:
		m.driveSelected()
	case focusStopButton:
		m.emergencyStop()
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) selectedMotor() int {
	if item, ok := m.motorList.SelectedItem().(motorItem); ok {
		return item.motor
	}
	return sabertooth.Motor1
}

func (m *controlModel) driveSelected() {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return
	}

	speedStr := strings.TrimSpace(m.speedInput.Value())
	if speedStr == "" {
		speedStr = m.speedInput.Placeholder
	}
	speed, err := strconv.Atoi(speedStr)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid speed: %s", speedStr), true)
		return
	}
	if speed < -sabertooth.MaxValue || speed > sabertooth.MaxValue {
		m.addLogEntry(fmt.Sprintf("Speed must be between %d and %d", -sabertooth.MaxValue, sabertooth.MaxValue), true)
		return
	}

	driver := m.connMgr.getDriver()
	if driver.Stopped() && speed != 0 {
		m.addLogEntry("Emergency stop latched - press r to resume", true)
		return
	}

	motor := m.selectedMotor()
	if err := driver.Drive(motor, speed); err != nil {
		m.failed++
		m.addLogEntry(fmt.Sprintf("Failed to send command: %v", err), true)
		return
	}

	m.sent++
	m.speeds[motor] = speed
	m.updateMotorList()
	command, value := driver.MotorCommand(motor, speed)
	m.addLogEntry(fmt.Sprintf("Sent %s value=%d", sabertooth.FormatCommand(command), value), false)
}

func (m *controlModel) emergencyStop() {
	driver := m.connMgr.getDriver()
	if err := driver.EmergencyStop(); err != nil {
		m.failed++
		m.addLogEntry(fmt.Sprintf("EMERGENCY STOP FAILED: %v", err), true)
		return
	}
	m.sent += 2
	m.speeds = make(map[int]int)
	m.updateMotorList()
	m.addLogEntry("EMERGENCY STOP - press r to resume", true)
}

func (m *controlModel) resume() {
	driver := m.connMgr.getDriver()
	if !driver.Stopped() {
		return
	}
	driver.Resume()
	m.addLogEntry("Emergency stop cleared", false)
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) updateMotorList() {
	m.motorList.SetItems([]list.Item{
		motorItem{motor: sabertooth.Motor1, speed: m.speeds[sabertooth.Motor1]},
		motorItem{motor: sabertooth.Motor2, speed: m.speeds[sabertooth.Motor2]},
	})
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Stopping motors...\n"
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

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
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

	stopButtonStyle := buttonStyle.
		Background(lipgloss.Color("9"))

	// Header
	s.WriteString(titleStyle.Render("SABRELAY CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Tab=switch space=STOP r=resume q=quit", connStatus)))
	s.WriteString("\n\n")

	// Motor list | control panel
	listStyle := boxStyle.Width(26)
	if m.focusedField == focusMotorList {
		listStyle = focusedBoxStyle.Width(26)
	}
	motorPanel := listStyle.Render(m.motorList.View())

	var panel strings.Builder
	driver := m.connMgr.getDriver()
	drvCfg := driver.Config()
	panel.WriteString(fmt.Sprintf("%s Motor %d   %s %d\n",
		labelStyle.Render("Selected:"), m.selectedMotor(),
		labelStyle.Render("Address:"), drvCfg.Address))
	if drvCfg.NightMode {
		panel.WriteString(warningStyle.Render(fmt.Sprintf("Night mode: speed capped at %d", drvCfg.NightSpeed)))
		panel.WriteString("\n")
	}
	panel.WriteString("\n")

	panel.WriteString(labelStyle.Render("Speed: "))
	if m.focusedField == focusSpeedInput {
		panel.WriteString(m.speedInput.View())
	} else {
		val := m.speedInput.Value()
		if val == "" {
			val = m.speedInput.Placeholder
		}
		panel.WriteString(fmt.Sprintf("[%s]", val))
	}
	panel.WriteString("\n\n")

	if m.focusedField == focusDriveButton {
		panel.WriteString(focusedButtonStyle.Render("[ Drive ]"))
	} else {
		panel.WriteString(buttonStyle.Render("[ Drive ]"))
	}
	panel.WriteString("  ")
	if m.focusedField == focusStopButton {
		panel.WriteString(focusedButtonStyle.Render("[ STOP ]"))
	} else {
		panel.WriteString(stopButtonStyle.Render("[ STOP ]"))
	}
	panel.WriteString("\n\n")

	if driver.Stopped() {
		panel.WriteString(errorStyle.Render("EMERGENCY STOP LATCHED"))
	} else {
		panel.WriteString(valueStyle.Render("Ready"))
	}
	panel.WriteString(headerStyle.Render(fmt.Sprintf("   sent: %d  failed: %d", m.sent, m.failed)))

	controlPanel := boxStyle.Width(m.width - 26 - 6).Render(panel.String())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, motorPanel, " ", controlPanel))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var logContent strings.Builder
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			logContent.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
