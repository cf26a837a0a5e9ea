// 文件路径: internal/client/client.go
// 模块说明: 客户端命令层，组合配置、订阅、节点库、引擎控制、防火墙与 TUN 状态机，
// CLI、TUI 与 API 共享同一套操作。
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/creamcroissant/xray-client/internal/config"
	"github.com/creamcroissant/xray-client/internal/engine"
	"github.com/creamcroissant/xray-client/internal/firewall"
	"github.com/creamcroissant/xray-client/internal/initsys"
	"github.com/creamcroissant/xray-client/internal/metrics"
	"github.com/creamcroissant/xray-client/internal/probe"
	"github.com/creamcroissant/xray-client/internal/registry"
	"github.com/creamcroissant/xray-client/internal/settings"
	"github.com/creamcroissant/xray-client/internal/subscribe"
	"github.com/creamcroissant/xray-client/internal/sysproxy"
	"github.com/creamcroissant/xray-client/internal/tun"
)

var (
	// ErrNoSubscriptions 未配置任何订阅。
	ErrNoSubscriptions = errors.New("client: no subscription configured")
	// ErrUnknownSubscription 指定的订阅名称不存在。
	ErrUnknownSubscription = errors.New("client: unknown subscription")
	// ErrNoReachable 延迟测试中没有可达节点。
	ErrNoReachable = errors.New("client: no reachable node")
	// ErrBusy 另一个会改动引擎状态的操作正在执行。
	ErrBusy = errors.New("client: another action is running")
)

// Engine 是客户端需要的引擎控制能力。
type Engine interface {
	Service() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status(ctx context.Context) (bool, error)
	Reload(ctx context.Context, hot bool) error
	OwnerUID(ctx context.Context) (int, error)
}

// Firewall 是透明代理规则管理能力。
type Firewall interface {
	CheckAvailability(ctx context.Context) error
	Install(ctx context.Context, r firewall.Rules) error
	Remove(ctx context.Context) error
}

// Deps 允许替换外部协作者，为空时按配置构造默认实现。
type Deps struct {
	Source   subscribe.Source
	Engine   Engine
	Firewall Firewall
	Metrics  *metrics.Collectors
}

// Client 持有一次加载的配置与设置。
type Client struct {
	cfg      *config.Config
	settings *settings.File
	store    *registry.Store
	ingestor *subscribe.Ingestor
	engine   Engine
	firewall Firewall
	tester   *probe.Tester
	proxy    *sysproxy.Manager
	metrics  *metrics.Collectors
	logger   *slog.Logger

	mu      sync.Mutex
	current settings.Settings
	tun     *tun.Machine

	// gate 同一时刻只放行一个会改动引擎状态的操作。
	gate chan struct{}
}

// New builds a Client and reads the settings file once.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if deps.Source == nil {
		deps.Source = subscribe.NewFetcher(cfg.Fetch.Timeout, subscribe.WithUserAgent(cfg.Fetch.UserAgent))
	}
	if deps.Engine == nil {
		sys, err := initsys.New(cfg.Engine.InitSystem, logger)
		if err != nil {
			return nil, fmt.Errorf("client: init system: %w", err)
		}
		deps.Engine = engine.New(sys, engine.SystemProcesses{}, engine.Options{
			Service: cfg.Engine.Service,
			Process: cfg.Engine.Process,
			Wait:    engine.WaitConfig{MaxElapsed: cfg.Engine.WaitTimeout},
		}, logger)
	}
	if deps.Firewall == nil {
		deps.Firewall = firewall.NewManager(firewall.ExecRunner{Binary: cfg.Firewall.Binary}, cfg.Firewall.Chain, logger)
	}

	sf := settings.NewFile(cfg.Paths.Settings, logger)
	c := &Client{
		cfg:      cfg,
		settings: sf,
		store:    registry.NewStore(cfg.Paths.Registry, sf, logger),
		ingestor: subscribe.NewIngestor(deps.Source, logger),
		engine:   deps.Engine,
		firewall: deps.Firewall,
		tester: probe.NewTester(probe.TesterOptions{
			Timeout:  cfg.Probe.Timeout,
			Workers:  cfg.Probe.Workers,
			CacheTTL: cfg.Probe.CacheTTL,
		}, logger),
		proxy: sysproxy.New(sysproxy.Paths{
			Profile:     cfg.Paths.ProxyProfile,
			Environment: cfg.Paths.Environment,
			Functions:   cfg.Paths.ShellFunctions,
		}, logger),
		metrics: deps.Metrics,
		logger:  logger,
		gate:    make(chan struct{}, 1),
	}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// TryExclusive runs fn only if no other exclusive action is in flight and
// reports whether it ran.
func (c *Client) TryExclusive(fn func() error) (bool, error) {
	select {
	case c.gate <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-c.gate }()
	return true, fn()
}

// Exclusive waits for the gate, then runs fn.
func (c *Client) Exclusive(ctx context.Context, fn func() error) error {
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.gate }()
	return fn()
}

// Refresh 重新读取 INI 设置并重建 TUN 状态机。
func (c *Client) Refresh() error {
	s, err := c.settings.Load()
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	m := tun.NewMachine(tun.Deps{
		Config:   c,
		Firewall: c.firewall,
		Engine:   c.engine,
		Store:    c.settings,
	}, s.Tun.Port, c.logger, tun.WithInitialState(s.Tun.Enabled))

	c.mu.Lock()
	c.current = s
	c.tun = m
	c.mu.Unlock()
	c.metrics.Tun(s.Tun.Enabled)
	return nil
}

// Settings returns the settings read by the last Refresh.
func (c *Client) Settings() settings.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Config returns the application config.
func (c *Client) Config() *config.Config { return c.cfg }

// SettingsPath / RegistryPath 供监视器比较修改时间。
func (c *Client) SettingsPath() string { return c.settings.Path() }

func (c *Client) RegistryPath() string { return c.store.Path() }

// Registry loads the persisted node list. It never fails.
func (c *Client) Registry() *registry.Registry {
	return c.store.Load()
}

func (c *Client) machine() *tun.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tun
}
