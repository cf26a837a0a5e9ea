package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if !m.ready || m.sync.NeedsRender(time.Time(msg)) {
			m.refresh()
		}
		return m, tickCmd()

	case polledMsg:
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// refresh 拷贝最新快照；首次加载时光标停在当前选中的节点上。
func (m *Model) refresh() {
	m.snap = m.sync.Snapshot()
	m.sync.MarkRendered()
	if !m.ready {
		m.cursor = m.snap.Selected
		m.ready = true
	}
	m.clampCursor()
}

func (m *Model) clampCursor() {
	n := len(m.snap.Nodes)
	switch {
	case n == 0:
		m.cursor = 0
	case m.cursor >= n:
		m.cursor = n - 1
	case m.cursor < 0:
		m.cursor = 0
	}

	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	} else if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.cursor--
	case key.Matches(msg, m.keys.Down):
		m.cursor++
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = len(m.snap.Nodes) - 1
	case key.Matches(msg, m.keys.PageUp):
		m.cursor -= m.visibleRows()
	case key.Matches(msg, m.keys.PageDown):
		m.cursor += m.visibleRows()

	case key.Matches(msg, m.keys.Select):
		if len(m.snap.Nodes) > 0 {
			m.sync.Do("switching node", m.selectAction(m.cursor))
		}
	case key.Matches(msg, m.keys.Update):
		m.sync.Do("updating subscriptions", m.updateAction())
	case key.Matches(msg, m.keys.Restart):
		m.sync.Do("restarting service", m.restartAction())
	case key.Matches(msg, m.keys.Test):
		m.sync.Do("testing latency", m.testAction())
	case key.Matches(msg, m.keys.Auto):
		m.sync.Do("auto-selecting", m.autoSelectAction())
	case key.Matches(msg, m.keys.Ping):
		m.sync.Do("testing connectivity", m.pingAction())

	case key.Matches(msg, m.keys.Refresh):
		return m, m.pollCmd()
	default:
		return m, nil
	}

	m.clampCursor()
	return m, nil
}
