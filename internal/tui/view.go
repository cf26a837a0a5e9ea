package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

const (
	minWidth  = 40
	minHeight = 10
)

// View 实现 tea.Model
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.width < minWidth || m.height < minHeight {
		return "Terminal too small, please resize the window"
	}

	var b strings.Builder

	// 标题栏
	b.WriteString(styleHeader.Width(m.width).Render(" Xray Client TUI "))
	b.WriteString("\n")

	// 状态栏
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")
	b.WriteString(styleMuted().Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	// 节点列表
	b.WriteString(m.renderNodeList())

	// 底部：分隔线、帮助、消息
	b.WriteString(styleMuted().Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	b.WriteString("\n")
	b.WriteString(m.renderMessage(time.Now()))

	return b.String()
}

func (m Model) renderStatusLine() string {
	left := " " + styleBold.Render("Status: ") + StatusIcon(m.snap.Active)
	if m.snap.Tun {
		left += "  " + styleBusy.Render("TUN")
	}

	updated := "never"
	if !m.snap.UpdateTime.IsZero() {
		updated = m.snap.UpdateTime.Local().Format("2006-01-02 15:04:05")
	}
	info := fmt.Sprintf("Nodes: %d  Updated: %s ", len(m.snap.Nodes), updated)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(info)
	if gap < 2 {
		return left
	}
	return left + strings.Repeat(" ", gap) + info
}

func (m Model) renderNodeList() string {
	var b strings.Builder
	rows := m.visibleRows()

	if len(m.snap.Nodes) == 0 {
		b.WriteString(styleHelp.Render("  No nodes yet, press u to update subscriptions"))
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\n", rows))
		return b.String()
	}

	b.WriteString(styleTableHeader.Render(fmt.Sprintf("  %-5s%-13s%-35s%s", "#", "Type", "Name", "Server")))
	b.WriteString("\n")

	end := m.offset + rows
	if end > len(m.snap.Nodes) {
		end = len(m.snap.Nodes)
	}
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}
	if pad := rows - (end - m.offset); pad > 0 {
		b.WriteString(strings.Repeat("\n", pad))
	}
	return b.String()
}

func (m Model) renderRow(idx int) string {
	n := m.snap.Nodes[idx]
	isCursor := idx == m.cursor
	isSelected := idx == m.snap.Selected

	marker := "  "
	switch {
	case isSelected:
		marker = "★ "
	case isCursor:
		marker = "▸ "
	}

	name := truncate(n.Name, 32)
	server := truncate(n.Address(), 22)
	kind := fmt.Sprintf("%-13s", string(n.Kind()))

	switch {
	case isCursor:
		line := fmt.Sprintf("%s%-5d%s%-35s%s", marker, idx, kind, name, server)
		return styleRowCursor.Width(m.width).Render(line)
	case isSelected:
		return styleRowSelected.Render(fmt.Sprintf("%s%-5d", marker, idx)) +
			typeStyle(n.Kind()).Render(kind) +
			styleRowSelected.Render(fmt.Sprintf("%-35s%s", name, server))
	default:
		return fmt.Sprintf("%s%-5d", marker, idx) +
			typeStyle(n.Kind()).Render(kind) +
			fmt.Sprintf("%-35s%s", name, server)
	}
}

func (m Model) renderHelp() string {
	if m.snap.Busy {
		return "  " + m.spinner.View() + " " + styleBusy.Render(m.snap.BusyText+"...")
	}
	helps := []string{
		"↑↓:move",
		"Enter:select",
		"u:update",
		"r:restart",
		"t:latency",
		"a:auto",
		"p:ping",
		"l:refresh",
		"q:quit",
	}
	return styleHelp.Render(truncate("  "+strings.Join(helps, "  │  "), m.width))
}

func (m Model) renderMessage(now time.Time) string {
	if m.snap.Message == "" || now.Sub(m.snap.MessageAt) >= m.sync.MessageTTL() {
		return ""
	}
	style := styleMessageOK
	if m.snap.MessageIsError {
		style = styleMessageErr
	}
	return " " + style.Render(truncate(m.snap.Message, m.width-2))
}

// truncate 按字符截断，超长时以 ".." 结尾。
func truncate(s string, max int) string {
	if max <= 2 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-2]) + ".."
}
