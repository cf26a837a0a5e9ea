package engine

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// SystemProcesses finds engine processes through gopsutil.
type SystemProcesses struct{}

func (SystemProcesses) Find(ctx context.Context, name string) ([]Process, error) {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var found []Process
	for _, p := range all {
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname != name {
			continue
		}
		found = append(found, systemProcess{p: p})
	}
	return found, nil
}

type systemProcess struct {
	p *process.Process
}

func (s systemProcess) PID() int32 { return s.p.Pid }

// UID returns the effective uid.
func (s systemProcess) UID(ctx context.Context) (int, error) {
	uids, err := s.p.UidsWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("pid %d: no uids", s.p.Pid)
	}
	if len(uids) > 1 {
		return int(uids[1]), nil
	}
	return int(uids[0]), nil
}

// Reload sends SIGUSR1, which xray handles by reopening its config.
func (s systemProcess) Reload(ctx context.Context) error {
	return s.p.SendSignalWithContext(ctx, unix.SIGUSR1)
}
