package initsys

import (
	"context"
	"strings"
)

// Runit implements InitSystem for runit-based systems (Void Linux, some containers).
type Runit struct {
	run Runner
}

func (r *Runit) Type() string {
	return "runit"
}

func (r *Runit) Start(ctx context.Context, service string) error {
	return r.run.exec(ctx, "sv", "start", service)
}

func (r *Runit) Stop(ctx context.Context, service string) error {
	return r.run.exec(ctx, "sv", "stop", service)
}

func (r *Runit) Restart(ctx context.Context, service string) error {
	return r.run.exec(ctx, "sv", "restart", service)
}

func (r *Runit) Status(ctx context.Context, service string) (bool, error) {
	output, err := r.run(ctx, "sv", "status", service)
	if err != nil {
		if exitedNonZero(err) {
			return false, nil
		}
		return false, err
	}
	// runit status starts with "run:" when running
	return strings.HasPrefix(output, "run:"), nil
}

func (r *Runit) User(ctx context.Context, service string) (string, error) {
	return "", nil
}
