package engine

import (
	"context"
	"errors"
	"os/user"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSys struct {
	restarts   int
	restartErr error
	statuses   []bool
	statusErr  error
	user       string
}

func (f *fakeSys) Type() string { return "fake" }

func (f *fakeSys) Start(ctx context.Context, s string) error { return nil }

func (f *fakeSys) Stop(ctx context.Context, s string) error { return nil }

func (f *fakeSys) Restart(ctx context.Context, s string) error {
	f.restarts++
	return f.restartErr
}

func (f *fakeSys) Status(ctx context.Context, s string) (bool, error) {
	if f.statusErr != nil {
		return false, f.statusErr
	}
	if len(f.statuses) == 0 {
		return true, nil
	}
	v := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return v, nil
}

func (f *fakeSys) User(ctx context.Context, s string) (string, error) { return f.user, nil }

type fakeProc struct {
	uid       int
	uidErr    error
	reloadErr error
	reloads   int
}

func (p *fakeProc) PID() int32 { return 42 }
func (p *fakeProc) UID(ctx context.Context) (int, error) {
	return p.uid, p.uidErr
}
func (p *fakeProc) Reload(ctx context.Context) error {
	p.reloads++
	return p.reloadErr
}

type fakeFinder struct {
	procs []Process
	err   error
}

func (f fakeFinder) Find(ctx context.Context, name string) ([]Process, error) {
	return f.procs, f.err
}

var fastWait = WaitConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: 50 * time.Millisecond}

func newController(sys *fakeSys, finder ProcessFinder) *Controller {
	return New(sys, finder, Options{Service: "xray", Wait: fastWait}, nil)
}

func TestRestartWaitsForActive(t *testing.T) {
	sys := &fakeSys{statuses: []bool{false, false, true}}
	require.NoError(t, newController(sys, fakeFinder{}).Restart(context.Background()))
	assert.Equal(t, 1, sys.restarts)
}

func TestRestartNeverActive(t *testing.T) {
	sys := &fakeSys{statuses: []bool{false}}
	err := newController(sys, fakeFinder{}).Restart(context.Background())
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestRestartCommandFailure(t *testing.T) {
	sys := &fakeSys{restartErr: errors.New("unit failed")}
	err := newController(sys, fakeFinder{}).Restart(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotActive)
}

func TestReloadSignalsProcesses(t *testing.T) {
	sys := &fakeSys{}
	p := &fakeProc{}
	require.NoError(t, newController(sys, fakeFinder{procs: []Process{p}}).Reload(context.Background(), true))
	assert.Equal(t, 1, p.reloads)
	assert.Zero(t, sys.restarts)
}

func TestReloadFallsBackToRestart(t *testing.T) {
	cases := map[string]struct {
		hot    bool
		finder fakeFinder
	}{
		"hot reload disabled": {hot: false, finder: fakeFinder{procs: []Process{&fakeProc{}}}},
		"no process":          {hot: true, finder: fakeFinder{}},
		"lookup failed":       {hot: true, finder: fakeFinder{err: errors.New("proc unreadable")}},
		"signal failed":       {hot: true, finder: fakeFinder{procs: []Process{&fakeProc{reloadErr: errors.New("eperm")}}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sys := &fakeSys{}
			require.NoError(t, newController(sys, tc.finder).Reload(context.Background(), tc.hot))
			assert.Equal(t, 1, sys.restarts)
		})
	}
}

func TestOwnerUID(t *testing.T) {
	c := newController(&fakeSys{user: "xray"}, fakeFinder{})
	c.lookup = func(name string) (*user.User, error) { return &user.User{Username: name, Uid: "995"}, nil }
	uid, err := c.OwnerUID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 995, uid)

	c = newController(&fakeSys{user: "ghost"}, fakeFinder{procs: []Process{&fakeProc{uidErr: errors.New("gone")}, &fakeProc{uid: 65534}}})
	c.lookup = func(name string) (*user.User, error) { return nil, user.UnknownUserError(name) }
	uid, err = c.OwnerUID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 65534, uid)

	c = newController(&fakeSys{}, fakeFinder{})
	_, err = c.OwnerUID(context.Background())
	assert.ErrorIs(t, err, ErrUIDUnknown)
}
