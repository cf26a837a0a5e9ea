package initsys

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	output map[string]string
	errs   map[string]error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	return f.output[key], f.errs[key]
}

func (f *fakeRunner) lines() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.TrimSpace(c.name+" "+strings.Join(c.args, " ")))
	}
	return out
}

// exitError produces a genuine non-zero exit through the exec runner.
func exitError(t *testing.T) error {
	t.Helper()
	_, err := ExecRunner(slog.Default())(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	return err
}

func TestExecRunnerClassifiesFailures(t *testing.T) {
	run := ExecRunner(slog.Default())

	_, err := run(context.Background(), "xray-client-no-such-tool")
	assert.ErrorIs(t, err, ErrToolMissing)

	err = exitError(t)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Output, "boom")
	assert.Contains(t, cmdErr.Error(), "sh -c")
	assert.True(t, exitedNonZero(err))
	assert.False(t, exitedNonZero(ErrToolMissing))

	out, err := run(context.Background(), "sh", "-c", "echo active")
	require.NoError(t, err)
	assert.Equal(t, "active\n", out)
}

func TestSystemdCommands(t *testing.T) {
	f := &fakeRunner{output: map[string]string{
		"systemctl is-active xray":                   "active\n",
		"systemctl show xray --property=User --value": "nobody\n",
	}}
	s := &Systemd{run: f.run}
	ctx := context.Background()

	require.NoError(t, s.Restart(ctx, "xray"))
	running, err := s.Status(ctx, "xray")
	require.NoError(t, err)
	assert.True(t, running)
	user, err := s.User(ctx, "xray")
	require.NoError(t, err)
	assert.Equal(t, "nobody", user)

	assert.Equal(t, []string{
		"systemctl restart xray",
		"systemctl is-active xray",
		"systemctl show xray --property=User --value",
	}, f.lines())
}

func TestStatusInactiveVersusBroken(t *testing.T) {
	inactive := &fakeRunner{errs: map[string]error{"systemctl is-active xray": exitError(t)}}
	running, err := (&Systemd{run: inactive.run}).Status(context.Background(), "xray")
	require.NoError(t, err)
	assert.False(t, running)

	missing := &fakeRunner{errs: map[string]error{"rc-service xray status": ErrToolMissing}}
	_, err = (&OpenRC{run: missing.run}).Status(context.Background(), "xray")
	assert.ErrorIs(t, err, ErrToolMissing)
}

func TestOpenRCAndRunitStatusParsing(t *testing.T) {
	f := &fakeRunner{output: map[string]string{
		"rc-service xray status": " * status: started\n",
		"sv status xray":         "run: xray: (pid 12) 30s\n",
	}}
	ctx := context.Background()

	running, err := (&OpenRC{run: f.run}).Status(ctx, "xray")
	require.NoError(t, err)
	assert.True(t, running)

	running, err = (&Runit{run: f.run}).Status(ctx, "xray")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestCustomExpandsServiceAndFallsBack(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{"pkill -f xray.json": errors.New("no process")}}
	c := &Custom{
		commands: CustomCommands{Start: "/usr/bin/xray run -c '/etc/{{service}}.json'", Stop: "pkill -f {service}.json"},
		run:      f.run,
	}

	require.NoError(t, c.Restart(context.Background(), "xray"))
	require.Len(t, f.calls, 2)
	assert.Equal(t, "pkill", f.calls[0].name)
	assert.Equal(t, "/usr/bin/xray", f.calls[1].name)
	assert.Equal(t, []string{"run", "-c", "/etc/xray.json"}, f.calls[1].args)

	running, err := c.Status(context.Background(), "xray")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestSplitCommand(t *testing.T) {
	name, args, err := splitCommand(`sh -c "echo 'a b'" x\ y`)
	require.NoError(t, err)
	assert.Equal(t, "sh", name)
	assert.Equal(t, []string{"-c", "echo 'a b'", "x y"}, args)

	_, _, err = splitCommand(`echo "open`)
	assert.Error(t, err)
	_, _, err = splitCommand("   ")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	sys, err := New(Config{Type: "openrc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openrc", sys.Type())

	_, err = New(Config{Type: "custom"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Type: "upstart"}, nil)
	assert.Error(t, err)

	sys, err = New(Config{Type: "auto"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sys.Type())
}
