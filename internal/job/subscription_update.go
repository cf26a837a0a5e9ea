package job

import (
	"context"
	"log/slog"
)

// Updater refreshes every subscription and applies the result. TryExclusive
// reports false when another action holds the shared gate.
type Updater interface {
	UpdateAndApply(ctx context.Context) error
	TryExclusive(fn func() error) (bool, error)
}

// SubscriptionUpdateJob 定期拉取订阅并重新生成引擎配置。
type SubscriptionUpdateJob struct {
	updater Updater
	logger  *slog.Logger
}

// NewSubscriptionUpdateJob 构造订阅更新任务。
func NewSubscriptionUpdateJob(updater Updater, logger *slog.Logger) *SubscriptionUpdateJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionUpdateJob{updater: updater, logger: logger}
}

// Name 返回任务标识。
func (j *SubscriptionUpdateJob) Name() string {
	return "subscription-update"
}

// Run 执行一次更新。
func (j *SubscriptionUpdateJob) Run(ctx context.Context) error {
	j.logger.Debug("running scheduled subscription update")
	ran, err := j.updater.TryExclusive(func() error {
		return j.updater.UpdateAndApply(ctx)
	})
	if !ran {
		j.logger.Info("subscription update skipped, another action is running")
		return nil
	}
	return err
}
