// Package registry persists the merged node list and validates selection.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/subscribe"
	"github.com/creamcroissant/xray-client/internal/support/fsutil"
)

// ErrNoNodes is returned when an update produced no node at all. The
// registry file is left untouched in that case.
var ErrNoNodes = errors.New("registry: no nodes decoded from any subscription")

// IndexError rejects a selection outside the current node list.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	if e.Len == 0 {
		return fmt.Sprintf("registry: index %d out of range (no nodes)", e.Index)
	}
	return fmt.Sprintf("registry: index %d out of range (0-%d)", e.Index, e.Len-1)
}

// SelectionStore persists the selected index outside the registry file.
type SelectionStore interface {
	SaveSelected(index int) error
}

// Registry is the merged node list. A zero UpdateTime means "never updated".
type Registry struct {
	UpdateTime    time.Time
	Subscriptions []string
	Nodes         []node.Node
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Nodes)
}

// Clamp maps a stored selection into range. Callers use it instead of
// trusting the persisted index, which may be stale after a shrink.
func (r *Registry) Clamp(index int) int {
	n := r.Len()
	switch {
	case n == 0 || index < 0:
		return 0
	case index >= n:
		return n - 1
	default:
		return index
	}
}

// Node returns the node at index.
func (r *Registry) Node(index int) (node.Node, bool) {
	if index < 0 || index >= r.Len() {
		return node.Node{}, false
	}
	return r.Nodes[index], true
}

// Store reads and writes the registry file.
type Store struct {
	path      string
	selection SelectionStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a registry store.
func NewStore(path string, selection SelectionStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, selection: selection, logger: logger, now: time.Now}
}

// Path returns the registry file location.
func (s *Store) Path() string { return s.path }

// ModTime reports the file's last modification time, zero if absent.
func (s *Store) ModTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Load returns the persisted registry. A missing or unreadable file yields
// an empty registry; it never fails.
func (s *Store) Load() *Registry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("registry unreadable, treating as empty", "path", s.path, "error", err)
		}
		return &Registry{}
	}
	reg, skipped, err := decode(data)
	if err != nil {
		s.logger.Warn("registry corrupt, treating as empty", "path", s.path, "error", err)
		return &Registry{}
	}
	if skipped > 0 {
		s.logger.Warn("registry entries skipped", "path", s.path, "skipped", skipped)
	}
	return reg
}

// MergeAndPersist concatenates the decoded nodes in subscription
// declaration order and writes the result atomically.
//
// declared lists every configured subscription name. A declared name with
// no outcome (not part of this run) keeps its previously stored nodes; a
// name whose fetch failed contributes nothing.
func (s *Store) MergeAndPersist(outcomes []subscribe.Outcome, declared []string) (*Registry, error) {
	byName := make(map[string]subscribe.Outcome, len(outcomes))
	for _, out := range outcomes {
		byName[out.Subscription.Name] = out
	}

	var previous *Registry
	reg := &Registry{UpdateTime: s.now(), Subscriptions: append([]string(nil), declared...)}
	seen := make(map[string]bool, len(declared))

	for _, name := range declared {
		seen[name] = true
		out, ok := byName[name]
		if ok {
			reg.Nodes = append(reg.Nodes, tagged(out, name)...)
			continue
		}
		if previous == nil {
			previous = s.Load()
		}
		for _, n := range previous.Nodes {
			if n.Origin == name {
				reg.Nodes = append(reg.Nodes, n)
			}
		}
	}
	for _, out := range outcomes {
		if !seen[out.Subscription.Name] {
			reg.Nodes = append(reg.Nodes, tagged(out, out.Subscription.Name)...)
		}
	}

	if len(reg.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if err := s.write(reg); err != nil {
		return nil, err
	}
	s.logger.Info("registry updated", "nodes", len(reg.Nodes), "subscriptions", len(declared))
	return reg, nil
}

func tagged(out subscribe.Outcome, name string) []node.Node {
	if out.Err != nil {
		return nil
	}
	nodes := make([]node.Node, 0, len(out.Result.Nodes))
	for _, n := range out.Result.Nodes {
		nodes = append(nodes, n.WithOrigin(name))
	}
	return nodes
}

// Select validates index against the current registry file and persists it.
func (s *Store) Select(index int) error {
	reg := s.Load()
	if index < 0 || index >= reg.Len() {
		return &IndexError{Index: index, Len: reg.Len()}
	}
	if err := s.selection.SaveSelected(index); err != nil {
		return fmt.Errorf("registry: persist selection: %w", err)
	}
	return nil
}

func (s *Store) write(reg *Registry) error {
	data, err := encode(reg)
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write: %w", err)
	}
	return nil
}
