package client

import (
	"context"
	"fmt"

	"github.com/creamcroissant/xray-client/internal/probe"
	"github.com/creamcroissant/xray-client/internal/sysproxy"
	"github.com/creamcroissant/xray-client/internal/tun"
)

// Test measures TCP latency of every node, in registry order.
func (c *Client) Test(ctx context.Context) []probe.Result {
	reg := c.store.Load()
	if reg.Len() == 0 {
		return nil
	}
	var results []probe.Result
	_ = c.metrics.ObserveAction("test", func() error {
		results = c.tester.Test(ctx, reg.Nodes)
		return nil
	})
	return results
}

// AutoSelect 测速后选择延迟最低的节点并重启引擎。
func (c *Client) AutoSelect(ctx context.Context) (probe.Result, error) {
	results := c.Test(ctx)
	best, ok := probe.Fastest(results)
	if !ok {
		return probe.Result{}, ErrNoReachable
	}
	c.logger.Info("fastest node", "index", best.Index, "name", best.Node.Name, "latency", best.Latency)
	if err := c.SelectAndApply(ctx, best.Index); err != nil {
		return best, err
	}
	return best, nil
}

// Ping fetches the configured URL through the local SOCKS inbound.
func (c *Client) Ping(ctx context.Context) (probe.PingResult, error) {
	res, err := probe.Ping(ctx, c.Settings().Local.SocksPort, c.cfg.Probe.PingURL, c.cfg.Probe.PingTimeout)
	if err != nil {
		return res, fmt.Errorf("client: ping: %w", err)
	}
	return res, nil
}

// ProxyOn exports the local listeners as the system-wide proxy environment.
func (c *Client) ProxyOn() (sysproxy.Endpoints, error) {
	s := c.Settings()
	ep := sysproxy.Endpoints{HTTPPort: s.Local.HTTPPort, SocksPort: s.Local.SocksPort, NoProxy: s.Local.NoProxy}
	if err := c.proxy.Enable(ep); err != nil {
		return ep, err
	}
	return ep, nil
}

// ProxyOff removes the proxy environment and reports whether it was set.
func (c *Client) ProxyOff() (bool, error) {
	return c.proxy.Disable()
}

// ProxyPaths 返回系统代理相关文件位置，供命令输出提示。
func (c *Client) ProxyPaths() sysproxy.Paths { return c.proxy.Paths() }

// TunOn checks the firewall tool and enables transparent proxying.
func (c *Client) TunOn(ctx context.Context) error {
	if err := c.firewall.CheckAvailability(ctx); err != nil {
		return fmt.Errorf("client: tun: %w", err)
	}
	err := c.metrics.ObserveAction("tun_on", func() error {
		return c.machine().Enable(ctx)
	})
	c.afterTun()
	return err
}

// TunOff disables transparent proxying. The persisted state is disabled even
// when a step fails.
func (c *Client) TunOff(ctx context.Context) error {
	err := c.metrics.ObserveAction("tun_off", func() error {
		return c.machine().Disable(ctx)
	})
	c.afterTun()
	return err
}

// TunState returns the state machine's current state.
func (c *Client) TunState() tun.State {
	return c.machine().State()
}

// afterTun syncs the cached settings with what the machine persisted.
func (c *Client) afterTun() {
	enabled := c.machine().State() == tun.Enabled
	c.mu.Lock()
	c.current.Tun.Enabled = enabled
	c.mu.Unlock()
	c.metrics.Tun(enabled)
}
