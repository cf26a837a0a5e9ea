package client

import (
	"context"
	"fmt"

	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/registry"
	"github.com/creamcroissant/xray-client/internal/subscribe"
)

// UpdateReport summarizes one subscription update.
type UpdateReport struct {
	Outcomes []subscribe.Outcome
	Registry *registry.Registry
}

// Failed counts subscriptions whose download failed.
func (r UpdateReport) Failed() int {
	n := 0
	for _, out := range r.Outcomes {
		if out.Err != nil {
			n++
		}
	}
	return n
}

// Update 下载并合并订阅。name 为空时更新全部订阅；指定名称时其余订阅保留原节点。
func (c *Client) Update(ctx context.Context, name string) (UpdateReport, error) {
	s := c.Settings()
	if len(s.Subscriptions) == 0 {
		return UpdateReport{}, ErrNoSubscriptions
	}

	subs := s.Subscriptions
	if name != "" {
		sub, ok := s.Subscription(name)
		if !ok {
			return UpdateReport{}, fmt.Errorf("%w: %s", ErrUnknownSubscription, name)
		}
		subs = []subscribe.Subscription{sub}
	}

	var report UpdateReport
	err := c.metrics.ObserveAction("update", func() error {
		report.Outcomes = c.ingestor.Ingest(ctx, subs)
		for _, out := range report.Outcomes {
			c.metrics.FeedResult(out.Subscription.Name,
				len(out.Result.Nodes), len(out.Result.Errors), out.Result.Unsupported, out.Err)
		}
		reg, err := c.store.MergeAndPersist(report.Outcomes, s.SubscriptionNames())
		if err != nil {
			return err
		}
		report.Registry = reg
		c.metrics.Registry(reg.Len(), reg.UpdateTime)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("client: update: %w", err)
	}
	return report, nil
}

// UpdateAndApply updates every subscription and restarts the engine on the
// selected node. It backs the periodic update job.
func (c *Client) UpdateAndApply(ctx context.Context) error {
	if _, err := c.Update(ctx, ""); err != nil {
		return err
	}
	return c.Apply(ctx)
}

// Listing is the node list with the effective selection.
type Listing struct {
	Registry *registry.Registry
	Selected int
}

// Current returns the selected node.
func (l Listing) Current() (node.Node, bool) {
	return l.Registry.Node(l.Selected)
}

// List returns the persisted nodes and the clamped selection.
func (c *Client) List() Listing {
	reg := c.store.Load()
	return Listing{Registry: reg, Selected: reg.Clamp(c.Settings().Selected)}
}

// Select 校验并保存节点选择，不重启引擎。
func (c *Client) Select(index int) error {
	if err := c.store.Select(index); err != nil {
		return err
	}
	c.mu.Lock()
	c.current.Selected = index
	c.mu.Unlock()
	c.logger.Info("node selected", "index", index)
	return nil
}

// SelectAndApply selects a node and restarts the engine with it.
func (c *Client) SelectAndApply(ctx context.Context, index int) error {
	if err := c.Select(index); err != nil {
		return err
	}
	return c.Apply(ctx)
}
