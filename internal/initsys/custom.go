package initsys

import (
	"context"
	"strings"
)

// Custom implements InitSystem using user-defined shell commands.
type Custom struct {
	commands CustomCommands
	run      Runner
}

func (c *Custom) Type() string {
	return "custom"
}

func (c *Custom) expand(tmpl, service string) string {
	cmd := strings.ReplaceAll(tmpl, "{{service}}", service)
	// Also try {service} for backward compatibility
	return strings.ReplaceAll(cmd, "{service}", service)
}

func (c *Custom) Start(ctx context.Context, service string) error {
	_, err := c.run.runShell(ctx, c.expand(c.commands.Start, service))
	return err
}

func (c *Custom) Stop(ctx context.Context, service string) error {
	_, err := c.run.runShell(ctx, c.expand(c.commands.Stop, service))
	return err
}

func (c *Custom) Restart(ctx context.Context, service string) error {
	if c.commands.Restart != "" {
		_, err := c.run.runShell(ctx, c.expand(c.commands.Restart, service))
		return err
	}
	// stop errors are ignored, the service may not be running
	_ = c.Stop(ctx, service)
	return c.Start(ctx, service)
}

func (c *Custom) Status(ctx context.Context, service string) (bool, error) {
	if c.commands.Status == "" {
		return false, nil
	}
	_, err := c.run.runShell(ctx, c.expand(c.commands.Status, service))
	// Status command returns 0 if running
	if err != nil {
		if exitedNonZero(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Custom) User(ctx context.Context, service string) (string, error) {
	return "", nil
}
