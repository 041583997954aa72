// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/amplistat/internal/controller"
	"github.com/Thermoquad/amplistat/internal/publish"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// TUI model
type monitorModel struct {
	ctrl          *controller.Controller
	busInfo       string
	snap          *publish.Snapshot
	stats         r4850.Statistics
	lastRx        time.Time
	lastSet       string
	errorLog      []errorLogEntry
	maxLogEntries int
	setInput      textinput.Model
	editing       bool
	width         int
	height        int
	quitting      bool
	started       time.Time
}

// Messages
type tickMsg time.Time

type snapshotMsg struct {
	snap   publish.Snapshot
	stats  r4850.Statistics
	lastRx time.Time
}

type logEntryMsg struct {
	timestamp time.Time
	message   string
	isError   bool
}

type connectionLostMsg struct {
	err error
}

// formatDuration formats a duration as a short human-friendly string
func formatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 1 {
		return "just now"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

func initialMonitorModel(ctrl *controller.Controller, busInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "online_voltage 53.5"
	ti.CharLimit = 32
	ti.Width = 30
	ti.Prompt = "set> "

	return monitorModel{
		ctrl:          ctrl,
		busInfo:       busInfo,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		setInput:      ti,
		width:         80,
		height:        24,
		started:       time.Now(),
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case snapshotMsg:
		if m.snap != nil && m.snap.SetOutcome != msg.snap.SetOutcome && msg.snap.SetOutcome != r4850.OutcomeWait.String() {
			m.addLogEntry(fmt.Sprintf("%s: %s", m.lastSet, msg.snap.SetOutcome), msg.snap.SetOutcome != r4850.OutcomeOK.String())
		}
		snap := msg.snap
		m.snap = &snap
		m.stats = msg.stats
		m.lastRx = msg.lastRx

	case logEntryMsg:
		m.errorLog = append(m.errorLog, errorLogEntry(msg))
		m.trimLog()

	case connectionLostMsg:
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
	}

	return m, nil
}

func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.editing = false
			m.setInput.Blur()
			m.setInput.SetValue("")
			return m, nil
		case "enter":
			m.submitSet(m.setInput.Value())
			m.editing = false
			m.setInput.Blur()
			m.setInput.SetValue("")
			return m, nil
		}
		var cmd tea.Cmd
		m.setInput, cmd = m.setInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "s":
		m.editing = true
		return m, m.setInput.Focus()
	case "r":
		m.ctrl.Engine().ResetAll()
		m.addLogEntry("Peak hold and SWR smoothing reset", false)
	}
	return m, nil
}

// submitSet parses "<setting> <value>" and sends the set command
func (m *monitorModel) submitSet(line string) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		m.addLogEntry("usage: <setting> <value>", true)
		return
	}
	setting, err := r4850.ParseSetting(fields[0])
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return
	}
	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("invalid value %q", fields[1]), true)
		return
	}

	if err := m.ctrl.Set(setting, value); err != nil {
		if errors.Is(err, r4850.ErrBusy) {
			m.addLogEntry("a set command is still pending", true)
		} else {
			m.addLogEntry(err.Error(), true)
		}
		return
	}
	m.lastSet = fmt.Sprintf("%s %.2f %s", setting, value, setting.Unit())
	m.addLogEntry("Sent "+m.lastSet, false)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	m.trimLog()
}

// trimLog keeps only the last N entries
func (m *monitorModel) trimLog() {
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
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
	s.WriteString(titleStyle.Render("AMPLISTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | up %s | s: set  r: reset peaks  q: quit",
		m.busInfo, formatDuration(time.Since(m.started)))))
	s.WriteString("\n\n")

	if m.snap == nil {
		s.WriteString(warningStyle.Render("Waiting for first sample..."))
		s.WriteString("\n\n")
	} else {
		s.WriteString(m.renderReadings(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
		s.WriteString("\n")
		s.WriteString(m.renderPSU(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, boxStyle))
		s.WriteString("\n")
	}

	s.WriteString(m.renderStatistics(statsLabelStyle, statsValueStyle, errorStyle))
	s.WriteString("\n")

	if m.editing {
		s.WriteString(m.setInput.View())
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle))
	return s.String()
}

func (m monitorModel) renderReadings(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-8s %16s %10s %16s %6s %6s", "Point", "Forward", "Peak", "Reflected", "SWR", "Avg")))
	b.WriteString("\n")
	for _, p := range m.snap.Points {
		line := fmt.Sprintf("%-8s %7.1f W %5.1f dBm %8.1f W %7.1f W %5.1f dBm %6.2f %6.2f",
			p.Point, p.FwdWatts, p.FwdDBm, p.FwdPeakWatts, p.RevWatts, p.RevDBm, p.SWR, p.SmoothedSWR)
		if p.Tripped {
			b.WriteString(errorStyle.Render(line + "  TRIP"))
		} else {
			b.WriteString(valueStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m monitorModel) renderPSU(labelStyle, valueStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var b strings.Builder

	outcome := func(o string) string {
		switch o {
		case r4850.OutcomeOK.String():
			return valueStyle.Render(o)
		case r4850.OutcomeFail.String():
			return errorStyle.Render(o)
		default:
			return warningStyle.Render(o)
		}
	}

	heard := warningStyle.Render("never")
	if !m.lastRx.IsZero() {
		heard = valueStyle.Render(formatDuration(time.Since(m.lastRx)) + " ago")
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Status:"), outcome(m.snap.StatusOutcome),
		labelStyle.Render("Set:"), outcome(m.snap.SetOutcome),
		labelStyle.Render("Heard:"), heard,
	))

	psu := m.snap.PSU
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Out:"), valueStyle.Render(fmt.Sprintf("%.2f V %.2f A %.0f W", psu.OutputVoltage, psu.OutputCurrent, psu.OutputPower)),
		labelStyle.Render("Limit:"), valueStyle.Render(fmt.Sprintf("%.1f A", psu.OutputCurrentMax)),
		labelStyle.Render("Eff:"), valueStyle.Render(fmt.Sprintf("%.1f%%", psu.Efficiency*100)),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("In:"), valueStyle.Render(fmt.Sprintf("%.1f V %.2f A %.1f Hz %.0f W", psu.InputVoltage, psu.InputCurrent, psu.InputFrequency, psu.InputPower)),
		labelStyle.Render("Temp:"), valueStyle.Render(fmt.Sprintf("in %.0f°C out %.0f°C", psu.InputTemperature, psu.OutputTemperature)),
	))

	return boxStyle.Render(b.String())
}

func (m monitorModel) renderStatistics(labelStyle, valueStyle, errorStyle lipgloss.Style) string {
	errs := m.stats.Malformed + m.stats.Anomalies + m.stats.Timeouts + m.stats.SetRejects
	errText := valueStyle.Render(fmt.Sprintf("%d", errs))
	if errs > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", errs))
	}
	return fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f fr/s", m.stats.FrameRate)),
		labelStyle.Render("Polls:"), valueStyle.Render(fmt.Sprintf("%d ok / %d", m.stats.Successes, m.stats.StatusRequests)),
		labelStyle.Render("Errors:"), errText,
	)
}

func (m monitorModel) renderEventLog(labelStyle, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Reserve space for header, readings and status
	logHeight := m.height - 22
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
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
