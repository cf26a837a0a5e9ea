package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitConfig 控制重启后等待服务就绪的退避策略。
type WaitConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultWaitConfig 返回默认等待配置。
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsed:      5 * time.Second,
	}
}

// normalize 填补缺省值。
func (w WaitConfig) normalize() WaitConfig {
	def := DefaultWaitConfig()
	if w.InitialInterval <= 0 {
		w.InitialInterval = def.InitialInterval
	}
	if w.MaxInterval <= 0 {
		w.MaxInterval = def.MaxInterval
	}
	if w.MaxElapsed <= 0 {
		w.MaxElapsed = def.MaxElapsed
	}
	return w
}

// WaitActive polls the service status with exponential backoff until it is
// active or the wait budget runs out.
func (c *Controller) WaitActive(ctx context.Context) error {
	cfg := c.opts.Wait.normalize()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsed

	var lastErr error
	op := func() error {
		running, err := c.sys.Status(ctx, c.opts.Service)
		if err != nil {
			lastErr = err
			return err
		}
		if !running {
			lastErr = nil
			return ErrNotActive
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrNotActive, c.opts.Service, lastErr)
		}
		return fmt.Errorf("%w: %s", ErrNotActive, c.opts.Service)
	}
	return nil
}
