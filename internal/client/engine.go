package client

import (
	"context"
	"fmt"
	"time"

	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/registry"
	"github.com/creamcroissant/xray-client/internal/settings"
	"github.com/creamcroissant/xray-client/internal/xrayconf"
)

// WriteConfig 根据当前选中节点重新生成引擎配置。
func (c *Client) WriteConfig(ctx context.Context, tunOn bool) error {
	s := c.Settings()
	reg := c.store.Load()
	if reg.Len() == 0 {
		return fmt.Errorf("client: %w", registry.ErrNoNodes)
	}
	idx := reg.Clamp(s.Selected)
	if idx != s.Selected {
		c.logger.Warn("stored selection out of range, clamped", "selected", s.Selected, "using", idx)
	}
	n, _ := reg.Node(idx)

	cfg, err := xrayconf.Synthesize(n,
		xrayconf.Local{SocksPort: s.Local.SocksPort, HTTPPort: s.Local.HTTPPort, UDP: s.Local.UDP},
		xrayconf.Tun{Enabled: tunOn, Port: s.Tun.Port},
	)
	if err != nil {
		return fmt.Errorf("client: node %d: %w", idx, err)
	}
	cfg = cfg.WithLog(xrayconf.Log{
		LogLevel: c.cfg.Engine.LogLevel,
		Access:   c.cfg.Engine.AccessLog,
		Error:    c.cfg.Engine.ErrorLog,
	})

	if err := xrayconf.WriteFile(c.cfg.Paths.EngineConfig, cfg); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	c.logger.Info("engine config written", "path", c.cfg.Paths.EngineConfig, "node", n.Name, "tun", tunOn)
	return nil
}

// Apply regenerates the config for the selected node and restarts the engine.
func (c *Client) Apply(ctx context.Context) error {
	return c.metrics.ObserveAction("apply", func() error {
		if err := c.WriteConfig(ctx, c.Settings().Tun.Enabled); err != nil {
			return err
		}
		if err := c.engine.Restart(ctx); err != nil {
			return fmt.Errorf("client: restart: %w", err)
		}
		return nil
	})
}

// Restart 等同于 Apply。
func (c *Client) Restart(ctx context.Context) error {
	return c.Apply(ctx)
}

// Start writes the config and starts the engine.
func (c *Client) Start(ctx context.Context) error {
	if err := c.WriteConfig(ctx, c.Settings().Tun.Enabled); err != nil {
		return err
	}
	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("client: start: %w", err)
	}
	return nil
}

// Stop stops the engine. TUN rules are left in place; use TunOff first.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.engine.Stop(ctx); err != nil {
		return fmt.Errorf("client: stop: %w", err)
	}
	return nil
}

// Reload 重新读取设置并生成配置，然后按 hot_reload 选择热重载或重启。
// serve 模式的 SIGHUP 与启动时共用此路径。
func (c *Client) Reload(ctx context.Context) error {
	return c.metrics.ObserveAction("reload", func() error {
		if err := c.Refresh(); err != nil {
			return err
		}
		s := c.Settings()
		if err := c.WriteConfig(ctx, s.Tun.Enabled); err != nil {
			return err
		}
		if err := c.engine.Reload(ctx, s.Local.HotReload); err != nil {
			return fmt.Errorf("client: reload: %w", err)
		}
		return nil
	})
}

// Status 汇总引擎、节点与开关状态。
type Status struct {
	Service    string
	Active     bool
	Node       *node.Node
	Selected   int
	NodeCount  int
	UpdateTime time.Time
	Tun        settings.Tun
	TunState   string
	Proxy      bool
}

// Active reports whether the engine service is running.
func (c *Client) Active(ctx context.Context) (bool, error) {
	active, err := c.engine.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("client: status: %w", err)
	}
	c.metrics.EngineActive(active)
	return active, nil
}

// Status collects the current state. An engine status failure is returned
// together with the rest of the snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	list := c.List()
	s := c.Settings()
	st := Status{
		Service:    c.engine.Service(),
		Selected:   list.Selected,
		NodeCount:  list.Registry.Len(),
		UpdateTime: list.Registry.UpdateTime,
		Tun:        s.Tun,
		TunState:   c.machine().State().String(),
		Proxy:      c.proxy.Enabled(),
	}
	if n, ok := list.Current(); ok {
		st.Node = &n
	}
	active, err := c.Active(ctx)
	st.Active = active
	return st, err
}
