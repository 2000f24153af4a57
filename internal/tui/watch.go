// Package tui renders a live view of one execution's normalized
// conversation, following the entries stream and reconnecting from its
// last batch cursor when the connection drops.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/avohra/agentrelay/internal/conv"
)

const reconnectDelay = time.Second

type (
	tickMsg      time.Time
	connectedMsg struct{ ch <-chan streamEvent }
	eventMsg     streamEvent
	streamEndMsg struct{}
	connErrMsg   struct{ err error }
)

// WatchModel is the Bubbletea model for the watch command.
type WatchModel struct {
	baseURL string
	execID  string

	conv      conv.Conversation
	events    <-chan streamEvent
	lastBatch int64
	session   string

	finished bool
	errText  string
	frame    int

	width        int
	height       int
	scrollOffset int
	follow       bool
}

// NewWatchModel creates a watch model for one execution.
func NewWatchModel(baseURL, execID string) WatchModel {
	return WatchModel{baseURL: baseURL, execID: execID, follow: true, height: 24, width: 80}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.connectCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m WatchModel) connectCmd() tea.Cmd {
	baseURL, execID, since := m.baseURL, m.execID, m.lastBatch
	return func() tea.Msg {
		ch, err := streamEntries(context.Background(), baseURL, execID, since)
		if err != nil {
			return connErrMsg{err: err}
		}
		return connectedMsg{ch: ch}
	}
}

func waitEventCmd(ch <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamEndMsg{}
		}
		return eventMsg(ev)
	}
}

func reconnectCmd(m WatchModel) tea.Cmd {
	connect := m.connectCmd()
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return connect()
	})
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			m.follow = false
			m.scrollOffset++
			m.clampScroll()
		case "k", "up":
			m.follow = false
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}
		case "g", "home":
			m.follow = false
			m.scrollOffset = 0
		case "G", "end":
			m.follow = true
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case connectedMsg:
		m.events = msg.ch
		m.errText = ""
		return m, waitEventCmd(m.events)

	case connErrMsg:
		m.errText = msg.err.Error()
		if m.finished {
			return m, nil
		}
		return m, reconnectCmd(m)

	case eventMsg:
		ev := streamEvent(msg)
		switch {
		case ev.err != nil:
			m.errText = ev.err.Error()
		case ev.batch != nil:
			m.applyBatch(*ev.batch)
		case ev.session != "":
			m.session = ev.session
		case ev.finished:
			m.finished = true
			return m, nil
		}
		return m, waitEventCmd(m.events)

	case streamEndMsg:
		if m.finished {
			return m, nil
		}
		// Stream dropped mid-run: resume from the last batch cursor.
		return m, reconnectCmd(m)

	case tickMsg:
		m.frame++
		if m.finished {
			return m, nil
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *WatchModel) applyBatch(b conv.Batch) {
	if err := m.conv.Apply(b.Patches); err != nil {
		m.errText = fmt.Sprintf("apply batch %d: %v", b.BatchID, err)
		return
	}
	if b.BatchID > m.lastBatch {
		m.lastBatch = b.BatchID
	}
}

// View implements tea.Model.
func (m WatchModel) View() string {
	var sb strings.Builder

	status := spinnerChars[m.frame%len(spinnerChars)] + " running"
	if m.finished {
		status = doneStyle.Render("✓ finished")
	}
	header := fmt.Sprintf("%s  %s", headerStyle.Render("watch "+m.execID), status)
	if m.session != "" {
		header += dimStyle.Render("  session " + m.session)
	}
	sb.WriteString(header + "\n\n")

	lines := m.entryLines()
	visible := m.height - 4
	if visible < 1 {
		visible = 1
	}
	offset := m.scrollOffset
	if m.follow && len(lines) > visible {
		offset = len(lines) - visible
	}
	if offset > len(lines) {
		offset = len(lines)
	}
	end := offset + visible
	if end > len(lines) {
		end = len(lines)
	}
	for _, line := range lines[offset:end] {
		sb.WriteString(line + "\n")
	}

	if m.errText != "" {
		sb.WriteString(errorStyle.Render("! "+m.errText) + "\n")
	}
	sb.WriteString(helpStyle.Render("j/k scroll · G follow · q quit"))
	return sb.String()
}

func (m WatchModel) entryLines() []string {
	var lines []string
	for _, e := range m.conv.Entries {
		lines = append(lines, strings.Split(renderEntry(e), "\n")...)
	}
	return lines
}

func (m *WatchModel) clampScroll() {
	max := len(m.entryLines())
	if m.scrollOffset > max {
		m.scrollOffset = max
	}
}

// renderEntry styles one conversation entry by type.
func renderEntry(e conv.Entry) string {
	switch e.Type {
	case conv.EntryUserMessage:
		return userStyle.Render("❯ ") + e.Content
	case conv.EntryToolUse:
		label := e.ToolName
		if label == "" {
			label = "tool"
		}
		return toolStyle.Render("⚙ "+label) + dimStyle.Render(" "+e.Content)
	case conv.EntryErrorMessage:
		return errorStyle.Render("✗ " + e.Content)
	case conv.EntryThinking:
		return thinkStyle.Render("… " + e.Content)
	case conv.EntrySystemMessage:
		return dimStyle.Render("· " + e.Content)
	default:
		return e.Content
	}
}
