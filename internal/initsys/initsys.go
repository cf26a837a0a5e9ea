// Package initsys provides an abstraction layer over the service managers
// (systemd, OpenRC, runit or user supplied commands) that run the engine.
package initsys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrToolMissing is returned when the service manager binary is not installed.
var ErrToolMissing = errors.New("initsys: tool not found")

// CommandError is a service manager invocation that ran and failed.
type CommandError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// InitSystem defines the interface for service management across different init systems.
type InitSystem interface {
	// Type returns the init system type identifier
	Type() string

	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error

	// Status reports whether the service is active.
	Status(ctx context.Context, service string) (running bool, err error)

	// User returns the account the service runs as, "" when unknown.
	User(ctx context.Context, service string) (string, error)

}

// Config holds the configuration for init system detection and custom commands.
type Config struct {
	// Type specifies the init system type: auto, systemd, openrc, runit, custom
	Type string `mapstructure:"type"`

	// Custom commands for when Type is "custom"
	Custom CustomCommands `mapstructure:"custom"`
}

// CustomCommands defines custom shell commands for service control.
// "{{service}}" is replaced with the service name.
type CustomCommands struct {
	Start   string `mapstructure:"start"`
	Stop    string `mapstructure:"stop"`
	Restart string `mapstructure:"restart"`
	Status  string `mapstructure:"status"`
}

// Runner executes one command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// New creates an InitSystem based on the provided configuration.
// If cfg.Type is "auto", it will detect the init system automatically.
func New(cfg Config, logger *slog.Logger) (InitSystem, error) {
	if logger == nil {
		logger = slog.Default()
	}
	run := ExecRunner(logger)

	switch strings.ToLower(cfg.Type) {
	case "systemd":
		return &Systemd{run: run}, nil
	case "openrc":
		return &OpenRC{run: run}, nil
	case "runit":
		return &Runit{run: run}, nil
	case "custom":
		if cfg.Custom.Start == "" || cfg.Custom.Stop == "" {
			return nil, fmt.Errorf("custom init system requires at least start and stop commands")
		}
		return &Custom{commands: cfg.Custom, run: run}, nil
	case "auto", "":
		return Detect(run), nil
	default:
		return nil, fmt.Errorf("unknown init system type: %s", cfg.Type)
	}
}

// Detect automatically detects the init system based on the environment.
func Detect(run Runner) InitSystem {
	if _, err := os.Stat("/run/systemd/system"); err == nil {
		return &Systemd{run: run}
	}

	// OpenRC (Alpine, Gentoo)
	for _, p := range []string{"/sbin/rc-service", "/sbin/openrc"} {
		if _, err := os.Stat(p); err == nil {
			return &OpenRC{run: run}
		}
	}

	if _, err := os.Stat("/run/runit"); err == nil {
		return &Runit{run: run}
	}

	// systemctl is the common case on hosts we can't identify.
	return &Systemd{run: run}
}

// ExecRunner runs commands with a 30 second ceiling and classifies failures.
func ExecRunner(logger *slog.Logger) Runner {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
		logger.Debug("exec", "cmd", cmdline)

		output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrToolMissing, name)
			}
			logger.Debug("exec failed", "cmd", cmdline, "error", err, "output", strings.TrimSpace(string(output)))
			return string(output), &CommandError{Cmd: cmdline, Output: string(output), Err: err}
		}
		return string(output), nil
	}
}

func (r Runner) exec(ctx context.Context, name string, args ...string) error {
	_, err := r(ctx, name, args...)
	return err
}

// runShell splits a user supplied command line and runs it.
func (r Runner) runShell(ctx context.Context, command string) (string, error) {
	name, args, err := splitCommand(command)
	if err != nil {
		return "", err
	}
	return r(ctx, name, args...)
}

func splitCommand(command string) (string, []string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", nil, fmt.Errorf("command is required")
	}

	parts := make([]string, 0, 4)
	var buf strings.Builder
	inSingle := false
	inDouble := false
	escaped := false

	for _, r := range trimmed {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble && (r == ' ' || r == '\t' || r == '\n'):
			if buf.Len() > 0 {
				parts = append(parts, buf.String())
				buf.Reset()
			}
		default:
			buf.WriteRune(r)
		}
	}

	if escaped || inSingle || inDouble {
		return "", nil, fmt.Errorf("invalid command: unclosed quote or escape")
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("command is required")
	}
	return parts[0], parts[1:], nil
}

// exitedNonZero reports whether err is a tool that ran and returned non-zero,
// which status queries treat as "not running" rather than a failure.
func exitedNonZero(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	var exitErr *exec.ExitError
	return errors.As(cmdErr.Err, &exitErr)
}
