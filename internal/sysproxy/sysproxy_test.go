package sysproxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) Paths {
	dir := t.TempDir()
	return Paths{
		Profile:     filepath.Join(dir, "profile.d", "xray-proxy.sh"),
		Environment: filepath.Join(dir, "environment"),
		Functions:   filepath.Join(dir, "profile.d", "xray-client-functions.sh"),
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestEnableDisable(t *testing.T) {
	p := testPaths(t)
	require.NoError(t, os.WriteFile(p.Environment, []byte("PATH=/usr/bin\nhttp_proxy=http://old:1\nLANG=C"), 0o644))
	m := New(p, nil)
	ep := Endpoints{HTTPPort: 10809, SocksPort: 10808, NoProxy: "localhost,127.0.0.1,::1"}

	require.NoError(t, m.Enable(ep))
	assert.True(t, m.Enabled())

	profile := read(t, p.Profile)
	assert.Contains(t, profile, "export https_proxy=http://127.0.0.1:10809\n")
	assert.Contains(t, profile, "export all_proxy=socks5://127.0.0.1:10808\n")
	assert.Contains(t, profile, "export NO_PROXY=localhost,127.0.0.1,::1\n")

	env := read(t, p.Environment)
	assert.Equal(t, "PATH=/usr/bin\nLANG=C\n"+
		"http_proxy=http://127.0.0.1:10809\n"+
		"https_proxy=http://127.0.0.1:10809\n"+
		"HTTP_PROXY=http://127.0.0.1:10809\n"+
		"HTTPS_PROXY=http://127.0.0.1:10809\n"+
		"all_proxy=socks5://127.0.0.1:10808\n"+
		"no_proxy=localhost,127.0.0.1,::1\n"+
		"NO_PROXY=localhost,127.0.0.1,::1\n", env)

	assert.Contains(t, read(t, p.Functions), ". "+p.Profile)

	// enabling twice does not duplicate entries
	require.NoError(t, m.Enable(ep))
	assert.Equal(t, env, read(t, p.Environment))

	existed, err := m.Disable()
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, m.Enabled())
	assert.Equal(t, "PATH=/usr/bin\nLANG=C\n", read(t, p.Environment))
}

func TestDisableCleansLeftoversWithoutProfile(t *testing.T) {
	p := testPaths(t)
	require.NoError(t, os.WriteFile(p.Environment, []byte("all_proxy=socks5://x:1\nEDITOR=vi\n"), 0o644))

	existed, err := New(p, nil).Disable()
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "EDITOR=vi\n", read(t, p.Environment))
}
