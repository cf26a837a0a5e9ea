// Package engine controls the xray process through the service manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"strconv"

	"github.com/creamcroissant/xray-client/internal/initsys"
)

var (
	// ErrNotActive 重启后服务在等待时间内未进入 active 状态。
	ErrNotActive = errors.New("engine: service not active")
	// ErrUIDUnknown 无法确定引擎运行用户。
	ErrUIDUnknown = errors.New("engine: run-as uid unknown")
)

// Process is one running engine instance.
type Process interface {
	PID() int32
	UID(ctx context.Context) (int, error)
	Reload(ctx context.Context) error
}

// ProcessFinder looks up running engine processes by executable name.
type ProcessFinder interface {
	Find(ctx context.Context, name string) ([]Process, error)
}

// Options configures a Controller.
type Options struct {
	Service string
	Process string
	Wait    WaitConfig
}

// Controller 通过 initsys 启停引擎，并在需要时直接向进程发信号。
type Controller struct {
	sys    initsys.InitSystem
	procs  ProcessFinder
	opts   Options
	logger *slog.Logger
	lookup func(name string) (*user.User, error)
}

// New constructs a Controller.
func New(sys initsys.InitSystem, procs ProcessFinder, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = "xray"
	}
	if opts.Process == "" {
		opts.Process = opts.Service
	}
	return &Controller{
		sys:    sys,
		procs:  procs,
		opts:   opts,
		logger: logger,
		lookup: user.Lookup,
	}
}

// Service returns the managed service name.
func (c *Controller) Service() string { return c.opts.Service }

func (c *Controller) Start(ctx context.Context) error {
	if err := c.sys.Start(ctx, c.opts.Service); err != nil {
		return fmt.Errorf("engine: start %s: %w", c.opts.Service, err)
	}
	return c.WaitActive(ctx)
}

func (c *Controller) Stop(ctx context.Context) error {
	if err := c.sys.Stop(ctx, c.opts.Service); err != nil {
		return fmt.Errorf("engine: stop %s: %w", c.opts.Service, err)
	}
	return nil
}

// Restart restarts the service and waits until it reports active.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.sys.Restart(ctx, c.opts.Service); err != nil {
		return fmt.Errorf("engine: restart %s: %w", c.opts.Service, err)
	}
	return c.WaitActive(ctx)
}

// Status reports whether the service is active.
func (c *Controller) Status(ctx context.Context) (bool, error) {
	running, err := c.sys.Status(ctx, c.opts.Service)
	if err != nil {
		return false, fmt.Errorf("engine: status %s: %w", c.opts.Service, err)
	}
	return running, nil
}

// Reload asks the running engine to re-read its config. Without hot reload,
// or when no process accepts the signal, it restarts the service instead.
func (c *Controller) Reload(ctx context.Context, hot bool) error {
	if !hot {
		return c.Restart(ctx)
	}

	procs, err := c.procs.Find(ctx, c.opts.Process)
	if err != nil || len(procs) == 0 {
		c.logger.Info("no engine process to signal, restarting", "process", c.opts.Process, "error", err)
		return c.Restart(ctx)
	}

	for _, p := range procs {
		if err := p.Reload(ctx); err != nil {
			c.logger.Warn("hot reload failed, restarting", "pid", p.PID(), "error", err)
			return c.Restart(ctx)
		}
	}
	c.logger.Info("engine reloaded", "processes", len(procs))
	return nil
}

// OwnerUID resolves the uid the engine runs as: the service manager's
// configured user first, then the live process table.
func (c *Controller) OwnerUID(ctx context.Context) (int, error) {
	name, err := c.sys.User(ctx, c.opts.Service)
	if err != nil {
		c.logger.Debug("service user query failed", "service", c.opts.Service, "error", err)
	}
	if name != "" {
		if u, err := c.lookup(name); err == nil {
			if uid, err := strconv.Atoi(u.Uid); err == nil {
				return uid, nil
			}
		} else {
			c.logger.Debug("user lookup failed", "user", name, "error", err)
		}
	}

	procs, err := c.procs.Find(ctx, c.opts.Process)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUIDUnknown, err)
	}
	for _, p := range procs {
		if uid, err := p.UID(ctx); err == nil {
			return uid, nil
		}
	}
	return 0, ErrUIDUnknown
}
