package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/settings"
	"github.com/creamcroissant/xray-client/internal/subscribe"
)

type memSelection struct {
	saved []int
	err   error
}

func (m *memSelection) SaveSelected(i int) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, i)
	return nil
}

func trojan(name string, port int) node.Node {
	return node.Node{Name: name, Server: "t.example", Port: port, Proto: node.Trojan{Password: "pw"}}
}

func outcome(name string, nodes ...node.Node) subscribe.Outcome {
	return subscribe.Outcome{Subscription: subscribe.Subscription{Name: name}, Result: subscribe.Result{Nodes: nodes}}
}

func newStore(t *testing.T, sel SelectionStore) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "subscription", "nodes.json"), sel, nil)
	s.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return s
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	s := newStore(t, &memSelection{})
	reg := s.Load()
	assert.Zero(t, reg.Len())
	assert.True(t, reg.UpdateTime.IsZero())

	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	reg = s.Load()
	assert.Zero(t, reg.Len())
}

func TestLoadLegacyFileSkipsBadEntries(t *testing.T) {
	s := newStore(t, &memSelection{})
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	legacy := `{
  "update_time": "2024-01-02T03:04:05.123456",
  "node_count": 2,
  "subscriptions": ["default"],
  "nodes": [
    {"type": "shadowsocks", "name": "hk", "server": "1.1.1.1", "port": 8388, "method": "aes-256-gcm", "password": "pw", "subscription": "default"},
    {"type": "mystery", "name": "x", "server": "h", "port": 1}
  ]
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

	reg := s.Load()
	require.Equal(t, 1, reg.Len())
	assert.Equal(t, "hk", reg.Nodes[0].Name)
	assert.Equal(t, 2024, reg.UpdateTime.Year())
	assert.Equal(t, []string{"default"}, reg.Subscriptions)
}

func TestMergePreservesCountOrderAndOrigin(t *testing.T) {
	s := newStore(t, &memSelection{})
	failed := subscribe.Outcome{Subscription: subscribe.Subscription{Name: "b"}, Err: errors.New("timeout")}

	reg, err := s.MergeAndPersist([]subscribe.Outcome{
		outcome("a", trojan("a1", 1), trojan("a2", 2)),
		failed,
		outcome("c", trojan("c1", 3)),
	}, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	loaded := s.Load()
	require.Equal(t, 3, loaded.Len())
	assert.Equal(t, []string{"a1", "a2", "c1"}, names(loaded))
	assert.Equal(t, []string{"a", "a", "c"}, origins(loaded))
	assert.Equal(t, []string{"a", "b", "c"}, loaded.Subscriptions)
	assert.Equal(t, s.now().Unix(), loaded.UpdateTime.Unix())
}

func TestMergeAllFailedLeavesFileUntouched(t *testing.T) {
	s := newStore(t, &memSelection{})
	_, err := s.MergeAndPersist([]subscribe.Outcome{outcome("a", trojan("a1", 1))}, []string{"a"})
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	_, err = s.MergeAndPersist([]subscribe.Outcome{
		{Subscription: subscribe.Subscription{Name: "a"}, Err: errors.New("boom")},
	}, []string{"a"})
	assert.ErrorIs(t, err, ErrNoNodes)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMergeSingleSubscriptionKeepsOthers(t *testing.T) {
	s := newStore(t, &memSelection{})
	_, err := s.MergeAndPersist([]subscribe.Outcome{
		outcome("a", trojan("a1", 1)),
		outcome("b", trojan("b1", 2)),
	}, []string{"a", "b"})
	require.NoError(t, err)

	reg, err := s.MergeAndPersist([]subscribe.Outcome{outcome("a", trojan("a9", 9), trojan("a10", 10))}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a9", "a10", "b1"}, names(reg))
}

func TestSelectOutOfRangeLeavesSelectionUntouched(t *testing.T) {
	dir := t.TempDir()
	sel := settings.NewFile(filepath.Join(dir, "config.ini"), nil)
	require.NoError(t, sel.SaveSelected(1))

	s := NewStore(filepath.Join(dir, "nodes.json"), sel, nil)
	_, err := s.MergeAndPersist([]subscribe.Outcome{outcome("a", trojan("n0", 1), trojan("n1", 2))}, []string{"a"})
	require.NoError(t, err)

	err = s.Select(2)
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 2, ierr.Index)
	assert.Equal(t, 2, ierr.Len)

	assert.Error(t, s.Select(-1))

	loaded, err := sel.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Selected)

	require.NoError(t, s.Select(0))
	loaded, err = sel.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Selected)
}

func TestSelectOnEmptyRegistry(t *testing.T) {
	sel := &memSelection{}
	s := newStore(t, sel)
	var ierr *IndexError
	require.ErrorAs(t, s.Select(0), &ierr)
	assert.Empty(t, sel.saved)
}

func TestClamp(t *testing.T) {
	reg := &Registry{Nodes: []node.Node{trojan("a", 1), trojan("b", 2)}}
	assert.Equal(t, 0, reg.Clamp(-3))
	assert.Equal(t, 1, reg.Clamp(1))
	assert.Equal(t, 1, reg.Clamp(9))
	assert.Equal(t, 0, (&Registry{}).Clamp(4))

	var nilReg *Registry
	assert.Equal(t, 0, nilReg.Len())
}

func names(r *Registry) []string {
	out := make([]string, 0, r.Len())
	for _, n := range r.Nodes {
		out = append(out, n.Name)
	}
	return out
}

func origins(r *Registry) []string {
	out := make([]string, 0, r.Len())
	for _, n := range r.Nodes {
		out = append(out, n.Origin)
	}
	return out
}
