package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/creamcroissant/xray-client/internal/node"
)

var (
	// Colors
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorDanger  = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
	colorInfo    = lipgloss.Color("#38BDF8")

	// Base styles
	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorPrimary).
			Align(lipgloss.Center)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleBusy = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	styleBold = lipgloss.NewStyle().Bold(true)

	// Status indicators
	styleOnline = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	styleOffline = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	// Table styles
	styleTableHeader = lipgloss.NewStyle().
				Bold(true).
				Underline(true)

	styleRowCursor = lipgloss.NewStyle().
			Background(lipgloss.Color("#1F2937")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	styleRowSelected = lipgloss.NewStyle().
				Foreground(colorSuccess).
				Bold(true)

	styleMessageOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	styleMessageErr = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)
)

// typeStyle 按协议类型着色。
func typeStyle(k node.Kind) lipgloss.Style {
	switch k {
	case node.KindVMess:
		return lipgloss.NewStyle().Foreground(colorPrimary)
	case node.KindVLESS:
		return lipgloss.NewStyle().Foreground(colorInfo)
	case node.KindShadowsocks:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	case node.KindTrojan:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return styleMuted()
	}
}

// StatusIcon returns a colored engine status indicator.
func StatusIcon(active bool) string {
	if active {
		return styleOnline.Render("● running")
	}
	return styleOffline.Render("○ stopped")
}

func styleMuted() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(colorMuted)
}
