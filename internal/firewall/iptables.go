// Package firewall manages the NAT chain that redirects outbound TCP into
// the engine's transparent inbound.
package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	defaultBinary = "iptables"
	defaultChain  = "XRAY"
	natTable      = "nat"
	hookChain     = "OUTPUT"
)

var (
	// ErrPrivilege 需要 root 权限才能修改 nat 表。
	ErrPrivilege = errors.New("firewall: root privileges required")
	// ErrUnavailable iptables 不存在或不可执行。
	ErrUnavailable = errors.New("firewall: iptables not available")
)

// DefaultExempt lists the destinations that never get redirected.
func DefaultExempt() []string {
	return []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"224.0.0.0/4",
		"240.0.0.0/4",
	}
}

// Rules describes the chain content.
type Rules struct {
	// Port is the transparent inbound port traffic is redirected to.
	Port int
	// OwnerUID, when set, exempts the engine's own traffic from redirection.
	OwnerUID *int
	// Exempt defaults to DefaultExempt when nil.
	Exempt []string
}

// Runner executes one iptables invocation.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// ExecRunner runs the iptables binary and folds stderr into the error.
type ExecRunner struct {
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, args ...string) error {
	bin := r.Binary
	if strings.TrimSpace(bin) == "" {
		bin = defaultBinary
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return err
	}
	return nil
}

// Manager installs and removes the redirect chain.
type Manager struct {
	run     Runner
	chain   string
	logger  *slog.Logger
	geteuid func() int
}

// NewManager creates a Manager. An empty chain name uses "XRAY".
func NewManager(run Runner, chain string, logger *slog.Logger) *Manager {
	if strings.TrimSpace(chain) == "" {
		chain = defaultChain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{run: run, chain: chain, logger: logger, geteuid: unix.Geteuid}
}

// Chain returns the managed chain name.
func (m *Manager) Chain() string { return m.chain }

// CheckAvailability 检查 iptables 是否可用。
func (m *Manager) CheckAvailability(ctx context.Context) error {
	if err := m.run.Run(ctx, "--version"); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Install (re)builds the chain and hooks it into OUTPUT exactly once.
func (m *Manager) Install(ctx context.Context, r Rules) error {
	if err := m.requireRoot(); err != nil {
		return err
	}
	if err := m.nat(ctx, "-N", m.chain); err != nil && !isAlreadyExists(err) {
		return m.wrap("create chain", err)
	}
	if err := m.nat(ctx, "-F", m.chain); err != nil {
		return m.wrap("flush chain", err)
	}

	if r.OwnerUID != nil {
		if err := m.nat(ctx, "-A", m.chain, "-m", "owner", "--uid-owner", strconv.Itoa(*r.OwnerUID), "-j", "RETURN"); err != nil {
			return m.wrap("owner exemption", err)
		}
	}

	exempt := r.Exempt
	if exempt == nil {
		exempt = DefaultExempt()
	}
	for _, cidr := range exempt {
		if err := m.nat(ctx, "-A", m.chain, "-d", cidr, "-j", "RETURN"); err != nil {
			return m.wrap("exempt "+cidr, err)
		}
	}

	if err := m.nat(ctx, "-A", m.chain, "-p", "tcp", "-j", "REDIRECT", "--to-ports", strconv.Itoa(r.Port)); err != nil {
		return m.wrap("redirect", err)
	}

	if err := m.nat(ctx, m.hookArgs("-C")...); err == nil {
		m.logger.Debug("output hook already present", "chain", m.chain)
		return nil
	}
	if err := m.nat(ctx, m.hookArgs("-A")...); err != nil {
		return m.wrap("hook output", err)
	}
	m.logger.Info("redirect chain installed", "chain", m.chain, "port", r.Port, "owner_exempt", r.OwnerUID != nil)
	return nil
}

// Remove unhooks, flushes and deletes the chain. Every step runs; a missing
// chain or hook is not an error.
func (m *Manager) Remove(ctx context.Context) error {
	if err := m.requireRoot(); err != nil {
		return err
	}

	var errs []error
	steps := []struct {
		what string
		args []string
	}{
		{"unhook output", m.hookArgs("-D")},
		{"flush chain", []string{"-F", m.chain}},
		{"delete chain", []string{"-X", m.chain}},
	}
	for _, step := range steps {
		if err := m.nat(ctx, step.args...); err != nil && !isAbsent(err) {
			errs = append(errs, m.wrap(step.what, err))
		}
	}
	if len(errs) == 0 {
		m.logger.Info("redirect chain removed", "chain", m.chain)
	}
	return errors.Join(errs...)
}

func (m *Manager) hookArgs(op string) []string {
	return []string{op, hookChain, "-p", "tcp", "-j", m.chain}
}

func (m *Manager) nat(ctx context.Context, args ...string) error {
	return m.run.Run(ctx, append([]string{"-t", natTable}, args...)...)
}

func (m *Manager) requireRoot() error {
	if m.geteuid() != 0 {
		return ErrPrivilege
	}
	return nil
}

func (m *Manager) wrap(what string, err error) error {
	if isPermissionDenied(err) {
		return fmt.Errorf("%w: %s: %v", ErrPrivilege, what, err)
	}
	return fmt.Errorf("firewall: %s: %w", what, err)
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func isAbsent(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no chain") ||
		strings.Contains(msg, "bad rule") ||
		strings.Contains(msg, "does a matching rule exist") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "couldn't load target")
}

func isPermissionDenied(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "permission denied")
}
