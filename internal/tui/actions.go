package tui

import (
	"context"
	"fmt"

	"github.com/creamcroissant/xray-client/internal/monitor"
	"github.com/creamcroissant/xray-client/internal/probe"
)

func (m Model) selectAction(index int) monitor.Action {
	return func(ctx context.Context, report monitor.Report) error {
		report(fmt.Sprintf("switching to node [%d]...", index), false)
		if err := m.actions.SelectAndApply(ctx, index); err != nil {
			return err
		}
		report(fmt.Sprintf("switched to node [%d]", index), false)
		return nil
	}
}

func (m Model) updateAction() monitor.Action {
	return func(ctx context.Context, report monitor.Report) error {
		report("updating subscriptions...", false)
		if err := m.actions.UpdateAndApply(ctx); err != nil {
			return err
		}
		report("subscriptions updated", false)
		return nil
	}
}

func (m Model) restartAction() monitor.Action {
	return func(ctx context.Context, report monitor.Report) error {
		report("restarting service...", false)
		if err := m.actions.Restart(ctx); err != nil {
			return err
		}
		report("service restarted", false)
		return nil
	}
}

func (m Model) testAction() monitor.Action {
	return func(ctx context.Context, report monitor.Report) error {
		report("testing node latency...", false)
		results := m.actions.Test(ctx)
		report(summarize(results), false)
		return nil
	}
}

func (m Model) autoSelectAction() monitor.Action {
	return func(ctx context.Context, report monitor.Report) error {
		report("selecting the fastest node...", false)
		best, err := m.actions.AutoSelect(ctx)
		if err != nil {
			return err
		}
		report(fmt.Sprintf("selected [%d] %s (%d ms)", best.Index, best.Node.Name, best.Latency.Milliseconds()), false)
		return nil
	}
}

func (m Model) pingAction() monitor.Action {
	return func(ctx context.Context, report monitor.Report) error {
		report("testing proxy connectivity...", false)
		res, err := m.actions.Ping(ctx)
		if err != nil {
			return err
		}
		if !res.OK() {
			report(fmt.Sprintf("ping %s: HTTP %d (%d ms)", res.URL, res.StatusCode, res.Elapsed.Milliseconds()), true)
			return nil
		}
		report(fmt.Sprintf("ping %s: OK (%d ms)", res.URL, res.Elapsed.Milliseconds()), false)
		return nil
	}
}

func summarize(results []probe.Result) string {
	if len(results) == 0 {
		return "no nodes to test"
	}
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	best, found := probe.Fastest(results)
	if !found {
		return fmt.Sprintf("latency test: 0/%d reachable", len(results))
	}
	return fmt.Sprintf("latency test: %d/%d reachable, fastest [%d] %s (%d ms)",
		ok, len(results), best.Index, best.Node.Name, best.Latency.Milliseconds())
}
