package initsys

import (
	"context"
	"strings"
)

// OpenRC implements InitSystem for OpenRC-based systems (Alpine, Gentoo).
type OpenRC struct {
	run Runner
}

func (o *OpenRC) Type() string {
	return "openrc"
}

func (o *OpenRC) Start(ctx context.Context, service string) error {
	return o.run.exec(ctx, "rc-service", service, "start")
}

func (o *OpenRC) Stop(ctx context.Context, service string) error {
	return o.run.exec(ctx, "rc-service", service, "stop")
}

func (o *OpenRC) Restart(ctx context.Context, service string) error {
	return o.run.exec(ctx, "rc-service", service, "restart")
}

func (o *OpenRC) Status(ctx context.Context, service string) (bool, error) {
	output, err := o.run(ctx, "rc-service", service, "status")
	if err != nil {
		if exitedNonZero(err) {
			return false, nil
		}
		return false, err
	}
	// OpenRC status output contains "started" when running
	return strings.Contains(strings.ToLower(output), "started"), nil
}

// User is not exposed by rc-service; callers fall back to the process table.
func (o *OpenRC) User(ctx context.Context, service string) (string, error) {
	return "", nil
}
