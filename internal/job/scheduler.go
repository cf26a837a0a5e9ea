// Package job runs periodic client tasks on a cron schedule.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runnable 表示由调度器触发的后台任务。
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler 封装 cron，并提供日志、超时与优雅停机。
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	mu      sync.Mutex
	started bool
}

const defaultJobTimeout = 5 * time.Minute

// NewScheduler 构建支持秒与 @every 描述的调度器。timeout <= 0 使用默认值。
func NewScheduler(timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	// 上一轮未结束时跳过本轮，避免同一任务并发执行。
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{cron: c, logger: logger, timeout: timeout}
}

// Register 绑定 cron 表达式与任务。
func (s *Scheduler) Register(spec string, runnable Runnable) (cron.EntryID, error) {
	if runnable == nil {
		return 0, fmt.Errorf("scheduler: runnable is required")
	}
	if spec == "" {
		return 0, fmt.Errorf("scheduler: spec is required")
	}
	entryID, err := s.cron.AddFunc(spec, s.wrap(runnable))
	if err != nil {
		return 0, err
	}
	s.logger.Info("job registered", "job", runnable.Name(), "spec", spec)
	return entryID, nil
}

// Every registers runnable at a fixed interval.
func (s *Scheduler) Every(interval time.Duration, runnable Runnable) (cron.EntryID, error) {
	if interval < time.Second {
		return 0, fmt.Errorf("scheduler: interval %s too short", interval)
	}
	return s.Register("@every "+interval.String(), runnable)
}

// Reschedule 以新的间隔重新注册任务，成功后移除旧条目。
func (s *Scheduler) Reschedule(id cron.EntryID, interval time.Duration, runnable Runnable) (cron.EntryID, error) {
	newID, err := s.Every(interval, runnable)
	if err != nil {
		return id, err
	}
	s.cron.Remove(id)
	return newID, nil
}

// Next returns the next activation of an entry.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start 启动调度器并执行任务。
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop 停止调度器，返回的 ctx 在执行中的任务结束后关闭。
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.started = false
	return s.cron.Stop()
}

// wrap 包装任务，提供超时与统一日志。
func (s *Scheduler) wrap(runnable Runnable) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := runnable.Run(ctx); err != nil {
			s.logger.Error("job failed", "job", runnable.Name(), "error", err, "elapsed", time.Since(start))
			return
		}
		s.logger.Info("job completed", "job", runnable.Name(), "elapsed", time.Since(start))
	}
}
