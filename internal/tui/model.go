package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/creamcroissant/xray-client/internal/monitor"
	"github.com/creamcroissant/xray-client/internal/probe"
)

const renderInterval = 200 * time.Millisecond

// Synchronizer 是界面读取的状态源。
type Synchronizer interface {
	Snapshot() monitor.Snapshot
	NeedsRender(now time.Time) bool
	MarkRendered()
	MessageTTL() time.Duration
	Do(description string, fn monitor.Action) bool
	Poll(ctx context.Context)
}

// Actions 是按键触发的客户端操作。
type Actions interface {
	SelectAndApply(ctx context.Context, index int) error
	UpdateAndApply(ctx context.Context) error
	Restart(ctx context.Context) error
	Test(ctx context.Context) []probe.Result
	AutoSelect(ctx context.Context) (probe.Result, error)
	Ping(ctx context.Context) (probe.PingResult, error)
}

// Model 是主 TUI 模型
type Model struct {
	sync    Synchronizer
	actions Actions

	// 快照与光标
	snap   monitor.Snapshot
	cursor int
	offset int
	ready  bool

	// 终端尺寸
	width  int
	height int

	spinner spinner.Model
	keys    keyMap
}

// keyMap 定义全部按键绑定
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Top      key.Binding
	Bottom   key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Select   key.Binding
	Update   key.Binding
	Restart  key.Binding
	Test     key.Binding
	Auto     key.Binding
	Ping     key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Top: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "bottom"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "page down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Update: key.NewBinding(
			key.WithKeys("u", "U"),
			key.WithHelp("u", "update"),
		),
		Restart: key.NewBinding(
			key.WithKeys("r", "R"),
			key.WithHelp("r", "restart"),
		),
		Test: key.NewBinding(
			key.WithKeys("t", "T"),
			key.WithHelp("t", "latency"),
		),
		Auto: key.NewBinding(
			key.WithKeys("a", "A"),
			key.WithHelp("a", "auto"),
		),
		Ping: key.NewBinding(
			key.WithKeys("p", "P"),
			key.WithHelp("p", "ping"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("l", "L", "f5"),
			key.WithHelp("l", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "Q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// NewModel 创建新的 TUI 模型
func NewModel(sync Synchronizer, actions Actions) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleBusy
	return Model{
		sync:    sync,
		actions: actions,
		spinner: sp,
		keys:    defaultKeyMap(),
	}
}

// Init 实现 tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick)
}

// 消息类型

type tickMsg time.Time

type polledMsg struct{}

// 命令

func tickCmd() tea.Cmd {
	return tea.Tick(renderInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) pollCmd() tea.Cmd {
	return func() tea.Msg {
		m.sync.Poll(context.Background())
		return polledMsg{}
	}
}

// visibleRows 计算列表可显示的行数：标题、状态、分隔线、列头，以及底部三行。
func (m Model) visibleRows() int {
	rows := m.height - 7
	if rows < 1 {
		rows = 1
	}
	return rows
}
