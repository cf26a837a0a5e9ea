// Package tun drives transparent proxying: engine config, redirect chain,
// engine restart and the persisted toggle, with rollback on failure.
package tun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/creamcroissant/xray-client/internal/firewall"
)

// State of the machine.
type State int

const (
	Disabled State = iota
	Enabling
	Enabled
	Disabling
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Disabling:
		return "disabling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConfigWriter regenerates the engine config with or without the
// transparent inbound.
type ConfigWriter interface {
	WriteConfig(ctx context.Context, tun bool) error
}

type Firewall interface {
	Install(ctx context.Context, r firewall.Rules) error
	Remove(ctx context.Context) error
}

type Engine interface {
	Restart(ctx context.Context) error
	OwnerUID(ctx context.Context) (int, error)
}

type StateStore interface {
	SaveTun(enabled bool, port int) error
}

// Deps groups the collaborators.
type Deps struct {
	Config   ConfigWriter
	Firewall Firewall
	Engine   Engine
	Store    StateStore
}

// Machine serializes enable/disable transitions.
type Machine struct {
	deps   Deps
	port   int
	exempt []string
	logger *slog.Logger

	op    sync.Mutex
	mu    sync.Mutex
	state State
}

// Option configures a Machine.
type Option func(*Machine)

// WithInitialState seeds the state from the persisted toggle.
func WithInitialState(enabled bool) Option {
	return func(m *Machine) {
		if enabled {
			m.state = Enabled
		}
	}
}

// WithExempt overrides the destinations excluded from redirection.
func WithExempt(cidrs []string) Option {
	return func(m *Machine) { m.exempt = cidrs }
}

// NewMachine creates a Machine redirecting to port.
func NewMachine(deps Deps, port int, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{deps: deps, port: port, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Enable turns transparent proxying on. On failure every side effect is
// undone; a previously persisted enabled flag is cleared so the stored state
// never claims rules that are not installed.
func (m *Machine) Enable(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	prev := m.State()
	wasEnabled := prev == Enabled
	m.set(Enabling)

	if err := m.deps.Config.WriteConfig(ctx, true); err != nil {
		m.set(prev)
		return fmt.Errorf("tun: generate config: %w", err)
	}

	rules := firewall.Rules{Port: m.port, Exempt: m.exempt}
	if uid, err := m.deps.Engine.OwnerUID(ctx); err != nil {
		m.logger.Warn("engine uid unknown, its own traffic may loop through the redirect", "error", err)
	} else {
		rules.OwnerUID = &uid
	}

	if err := m.deps.Firewall.Install(ctx, rules); err != nil {
		m.rollback(ctx, wasEnabled)
		return fmt.Errorf("tun: install rules: %w", err)
	}

	if err := m.deps.Engine.Restart(ctx); err != nil {
		m.rollback(ctx, wasEnabled)
		return fmt.Errorf("tun: restart engine, rolled back: %w", err)
	}

	if err := m.deps.Store.SaveTun(true, m.port); err != nil {
		m.rollback(ctx, wasEnabled)
		// 引擎已按透明入站启动，回滚后需再重启一次
		if rerr := m.deps.Engine.Restart(ctx); rerr != nil {
			m.logger.Warn("rollback: restart engine", "error", rerr)
		}
		return fmt.Errorf("tun: persist state, rolled back: %w", err)
	}
	m.set(Enabled)
	m.logger.Info("tun enabled", "port", m.port)
	return nil
}

// rollback removes the rules and regenerates the config without the
// transparent inbound. persisted clears a stored enabled flag.
func (m *Machine) rollback(ctx context.Context, persisted bool) {
	if err := m.deps.Firewall.Remove(ctx); err != nil {
		m.logger.Warn("rollback: remove rules", "error", err)
	}
	if err := m.deps.Config.WriteConfig(ctx, false); err != nil {
		m.logger.Warn("rollback: regenerate config", "error", err)
	}
	if persisted {
		if err := m.deps.Store.SaveTun(false, 0); err != nil {
			m.logger.Error("rollback: persist disabled state, stored tun_mode may be stale", "error", err)
		}
	}
	m.set(Disabled)
}

// Disable turns transparent proxying off. The persisted state is always
// disabled afterwards; step failures are joined into the returned error.
func (m *Machine) Disable(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.set(Disabling)
	defer m.set(Disabled)

	var errs []error
	if err := m.deps.Firewall.Remove(ctx); err != nil {
		errs = append(errs, fmt.Errorf("remove rules: %w", err))
	}
	if err := m.deps.Store.SaveTun(false, 0); err != nil {
		errs = append(errs, fmt.Errorf("persist state: %w", err))
	}
	if err := m.deps.Config.WriteConfig(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("generate config: %w", err))
	} else if err := m.deps.Engine.Restart(ctx); err != nil {
		errs = append(errs, fmt.Errorf("restart engine: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tun: disable: %w", err)
	}
	m.logger.Info("tun disabled")
	return nil
}
