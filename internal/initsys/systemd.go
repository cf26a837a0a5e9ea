package initsys

import (
	"context"
	"strings"
)

// Systemd implements InitSystem for systemd-based systems.
type Systemd struct {
	run Runner
}

func (s *Systemd) Type() string {
	return "systemd"
}

func (s *Systemd) Start(ctx context.Context, service string) error {
	return s.run.exec(ctx, "systemctl", "start", service)
}

func (s *Systemd) Stop(ctx context.Context, service string) error {
	return s.run.exec(ctx, "systemctl", "stop", service)
}

func (s *Systemd) Restart(ctx context.Context, service string) error {
	return s.run.exec(ctx, "systemctl", "restart", service)
}

func (s *Systemd) Status(ctx context.Context, service string) (bool, error) {
	output, err := s.run(ctx, "systemctl", "is-active", service)
	if err != nil {
		// is-active returns non-zero if not active
		if exitedNonZero(err) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(output) == "active", nil
}

func (s *Systemd) User(ctx context.Context, service string) (string, error) {
	output, err := s.run(ctx, "systemctl", "show", service, "--property=User", "--value")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}
