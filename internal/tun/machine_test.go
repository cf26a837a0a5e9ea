package tun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/xray-client/internal/firewall"
)

type fakeConfig struct {
	written []bool
	err     error
}

func (f *fakeConfig) WriteConfig(ctx context.Context, tun bool) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, tun)
	return nil
}

func (f *fakeConfig) last() bool { return f.written[len(f.written)-1] }

type fakeFirewall struct {
	present    bool
	rules      firewall.Rules
	installErr error
	removeErr  error
}

func (f *fakeFirewall) Install(ctx context.Context, r firewall.Rules) error {
	f.present = true
	f.rules = r
	return f.installErr
}

func (f *fakeFirewall) Remove(ctx context.Context) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.present = false
	return nil
}

type fakeEngine struct {
	restarts   int
	restartErr error
	uid        int
	uidErr     error
}

func (f *fakeEngine) Restart(ctx context.Context) error {
	f.restarts++
	return f.restartErr
}

func (f *fakeEngine) OwnerUID(ctx context.Context) (int, error) { return f.uid, f.uidErr }

type fakeStore struct {
	enabled bool
	port    int
	saves   int
	err     error
}

func (f *fakeStore) SaveTun(enabled bool, port int) error {
	f.saves++
	if f.err != nil && enabled {
		return f.err
	}
	f.enabled = enabled
	if port > 0 {
		f.port = port
	}
	return nil
}

type fixture struct {
	cfg   *fakeConfig
	fw    *fakeFirewall
	eng   *fakeEngine
	store *fakeStore
}

func newFixture() *fixture {
	return &fixture{cfg: &fakeConfig{}, fw: &fakeFirewall{}, eng: &fakeEngine{uid: 995}, store: &fakeStore{}}
}

func (f *fixture) machine(opts ...Option) *Machine {
	return NewMachine(Deps{Config: f.cfg, Firewall: f.fw, Engine: f.eng, Store: f.store}, 12345, nil, opts...)
}

func TestEnableHappyPath(t *testing.T) {
	f := newFixture()
	m := f.machine()

	require.NoError(t, m.Enable(context.Background()))
	assert.Equal(t, Enabled, m.State())
	assert.True(t, f.fw.present)
	require.NotNil(t, f.fw.rules.OwnerUID)
	assert.Equal(t, 995, *f.fw.rules.OwnerUID)
	assert.Equal(t, 12345, f.fw.rules.Port)
	assert.True(t, f.store.enabled)
	assert.Equal(t, 12345, f.store.port)
	assert.True(t, f.cfg.last())
}

func TestEnableUnknownUIDStillInstalls(t *testing.T) {
	f := newFixture()
	f.eng.uidErr = errors.New("no such user")

	require.NoError(t, f.machine().Enable(context.Background()))
	assert.Nil(t, f.fw.rules.OwnerUID)
	assert.True(t, f.fw.present)
}

func TestEnableWithoutNodeHasNoSideEffects(t *testing.T) {
	f := newFixture()
	f.cfg.err = errors.New("registry empty")
	m := f.machine()

	require.Error(t, m.Enable(context.Background()))
	assert.Equal(t, Disabled, m.State())
	assert.False(t, f.fw.present)
	assert.Zero(t, f.eng.restarts)
	assert.Zero(t, f.store.saves)
}

func TestEnableRestartFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.eng.restartErr = errors.New("unit failed")
	m := f.machine()

	err := m.Enable(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.eng.restartErr)
	assert.Equal(t, Disabled, m.State())
	assert.False(t, f.fw.present)
	assert.False(t, f.store.enabled)
	assert.Zero(t, f.store.saves)
	assert.False(t, f.cfg.last())
}

func TestReenableFailureClearsPersistedState(t *testing.T) {
	f := newFixture()
	f.store.enabled = true
	f.fw.present = true
	f.eng.restartErr = errors.New("unit failed")
	m := f.machine(WithInitialState(true))

	err := m.Enable(context.Background())
	assert.ErrorIs(t, err, f.eng.restartErr)
	assert.Equal(t, Disabled, m.State())
	assert.False(t, f.fw.present)
	assert.False(t, f.store.enabled, "stored flag must not claim rules that were removed")
	assert.False(t, f.cfg.last())
}

func TestReenableInstallFailureClearsPersistedState(t *testing.T) {
	f := newFixture()
	f.store.enabled = true
	f.fw.present = true
	f.fw.installErr = errors.New("iptables: resource busy")
	m := f.machine(WithInitialState(true))

	require.Error(t, m.Enable(context.Background()))
	assert.Equal(t, Disabled, m.State())
	assert.False(t, f.fw.present)
	assert.False(t, f.store.enabled)
}

func TestEnablePersistFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("read-only file system")
	m := f.machine()

	err := m.Enable(context.Background())
	assert.ErrorIs(t, err, f.store.err)
	assert.Equal(t, Disabled, m.State())
	assert.False(t, f.fw.present)
	assert.False(t, f.store.enabled)
	assert.False(t, f.cfg.last())
	assert.Equal(t, 2, f.eng.restarts)
}

func TestEnableInstallFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.fw.installErr = firewall.ErrPrivilege

	err := f.machine().Enable(context.Background())
	assert.ErrorIs(t, err, firewall.ErrPrivilege)
	assert.False(t, f.fw.present)
	assert.Zero(t, f.eng.restarts)
	assert.False(t, f.cfg.last())
}

func TestDisableAlwaysEndsDisabled(t *testing.T) {
	f := newFixture()
	f.store.enabled = true
	f.fw.present = true
	f.eng.restartErr = errors.New("unit failed")
	m := f.machine(WithInitialState(true))
	assert.Equal(t, Enabled, m.State())

	err := m.Disable(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.eng.restartErr)
	assert.Equal(t, Disabled, m.State())
	assert.False(t, f.fw.present)
	assert.False(t, f.store.enabled)
	assert.False(t, f.cfg.last())
}

func TestDisableJoinsErrors(t *testing.T) {
	f := newFixture()
	f.fw.removeErr = errors.New("chain busy")
	f.cfg.err = errors.New("registry empty")

	err := f.machine(WithInitialState(true)).Disable(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.fw.removeErr)
	assert.ErrorIs(t, err, f.cfg.err)
	assert.False(t, f.store.enabled)
	assert.Zero(t, f.eng.restarts)
}

func TestEnableThenDisableBackToBack(t *testing.T) {
	for _, restartFails := range []bool{false, true} {
		f := newFixture()
		if restartFails {
			f.eng.restartErr = errors.New("unit failed")
		}
		m := f.machine()

		_ = m.Enable(context.Background())
		_ = m.Disable(context.Background())

		assert.False(t, f.fw.present)
		assert.False(t, f.store.enabled)
		assert.Equal(t, Disabled, m.State())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "enabling", Enabling.String())
	assert.Equal(t, "state(9)", State(9).String())
}
