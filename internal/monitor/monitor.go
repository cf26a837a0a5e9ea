// Package monitor keeps a render-ready snapshot of the client state for the
// interactive front end. One poll goroutine refreshes it, at most one action
// goroutine mutates the system, and readers copy it under a single mutex.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/registry"
	"github.com/creamcroissant/xray-client/internal/settings"
)

const (
	defaultInterval      = time.Second
	defaultActionTimeout = 5 * time.Minute
	defaultMessageTTL    = 5 * time.Second
	statusTimeout        = 3 * time.Second
)

// Source 是监视器读取的客户端状态。
type Source interface {
	SettingsPath() string
	RegistryPath() string
	Refresh() error
	Settings() settings.Settings
	Registry() *registry.Registry
	Active(ctx context.Context) (bool, error)
}

// Snapshot is a copy of the displayed state.
type Snapshot struct {
	Nodes          []node.Node
	UpdateTime     time.Time
	Active         bool
	Selected       int
	Tun            bool
	Message        string
	MessageIsError bool
	MessageAt      time.Time
	Busy           bool
	BusyText       string
	Dirty          bool
}

// Report publishes a progress or result message from an action.
type Report func(msg string, isErr bool)

// Action is a long-running operation started from the UI.
type Action func(ctx context.Context, report Report) error

// Options 监视器参数，零值使用默认值。
type Options struct {
	Interval      time.Duration
	ActionTimeout time.Duration
	MessageTTL    time.Duration
}

// Synchronizer owns the snapshot.
type Synchronizer struct {
	src    Source
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	wake   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	snap     Snapshot
	base     context.Context
	regMod   time.Time
	setMod   time.Time
	loaded   bool
	force    bool
	selected int
}

// New creates a Synchronizer. Nothing is read until Run or Poll.
func New(src Source, opts Options, logger *slog.Logger) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}
	if opts.MessageTTL <= 0 {
		opts.MessageTTL = defaultMessageTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		src:    src,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		base:   context.Background(),
	}
}

// Run polls until ctx is done. File system events on the registry and
// settings directories trigger an early poll.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watcher unavailable, polling only", "error", err)
	} else {
		defer watcher.Close()
		for _, dir := range s.watchDirs() {
			if err := watcher.Add(dir); err != nil {
				s.logger.Debug("watch directory", "dir", dir, "error", err)
			}
		}
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.Poll(ctx)
		case <-s.wake:
			s.Poll(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.relevant(ev.Name) {
				s.Poll(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Debug("file watcher error", "error", err)
		}
	}
}

func (s *Synchronizer) watchDirs() []string {
	dirs := []string{filepath.Dir(s.src.RegistryPath())}
	if d := filepath.Dir(s.src.SettingsPath()); d != dirs[0] {
		dirs = append(dirs, d)
	}
	return dirs
}

func (s *Synchronizer) relevant(name string) bool {
	name = filepath.Clean(name)
	return name == filepath.Clean(s.src.RegistryPath()) || name == filepath.Clean(s.src.SettingsPath())
}

// Poll runs one refresh. Changed artifacts are reloaded outside the lock and
// swapped in under it; engine status is skipped while an action runs.
func (s *Synchronizer) Poll(ctx context.Context) {
	regMod := modTime(s.src.RegistryPath())
	setMod := modTime(s.src.SettingsPath())

	s.mu.Lock()
	first := !s.loaded
	force := s.force
	regChanged := first || force || !regMod.Equal(s.regMod)
	setChanged := first || force || !setMod.Equal(s.setMod)
	busy := s.snap.Busy
	s.mu.Unlock()

	var (
		set    settings.Settings
		setOK  bool
		reg    *registry.Registry
		active bool
		actOK  bool
	)
	if setChanged {
		if err := s.src.Refresh(); err != nil {
			s.logger.Warn("reload settings", "error", err)
		} else {
			set, setOK = s.src.Settings(), true
		}
	}
	if regChanged {
		reg = s.src.Registry()
	}
	if !busy {
		sctx, cancel := context.WithTimeout(ctx, statusTimeout)
		a, err := s.src.Active(sctx)
		cancel()
		if err != nil {
			s.logger.Debug("engine status", "error", err)
		}
		active, actOK = a, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.force = false
	s.regMod, s.setMod = regMod, setMod
	if setOK {
		if set.Selected != s.selected || set.Tun.Enabled != s.snap.Tun {
			s.snap.Dirty = true
		}
		s.selected = set.Selected
		s.snap.Tun = set.Tun.Enabled
	}
	if reg != nil {
		s.snap.Nodes = reg.Nodes
		s.snap.UpdateTime = reg.UpdateTime
		s.snap.Dirty = true
	}
	if setOK || reg != nil {
		s.snap.Selected = (&registry.Registry{Nodes: s.snap.Nodes}).Clamp(s.selected)
	}
	if actOK && active != s.snap.Active {
		s.snap.Active = active
		s.snap.Dirty = true
	}
}

// Do starts fn on its own goroutine unless another action is running, in
// which case it returns false and does nothing.
func (s *Synchronizer) Do(description string, fn Action) bool {
	s.mu.Lock()
	if s.snap.Busy {
		s.mu.Unlock()
		return false
	}
	s.snap.Busy = true
	s.snap.BusyText = description
	s.snap.Dirty = true
	base := s.base
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(base, description, fn)
	return true
}

func (s *Synchronizer) run(base context.Context, description string, fn Action) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("action panicked", "action", description, "panic", r)
			s.report(fmt.Sprintf("%s: internal error: %v", description, r), true)
		}
		s.mu.Lock()
		s.snap.Busy = false
		s.snap.BusyText = ""
		s.snap.Dirty = true
		s.force = true
		s.mu.Unlock()
		s.poke()
	}()

	ctx, cancel := context.WithTimeout(base, s.opts.ActionTimeout)
	defer cancel()

	if err := fn(ctx, s.report); err != nil {
		s.logger.Warn("action failed", "action", description, "error", err)
		s.report(fmt.Sprintf("%s failed: %v", description, err), true)
	}
}

func (s *Synchronizer) report(msg string, isErr bool) {
	s.mu.Lock()
	s.snap.Message = msg
	s.snap.MessageIsError = isErr
	s.snap.MessageAt = s.now()
	s.snap.Dirty = true
	s.mu.Unlock()
}

func (s *Synchronizer) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the running action, if any, has finished.
func (s *Synchronizer) Wait() { s.wg.Wait() }

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Nodes = append([]node.Node(nil), s.snap.Nodes...)
	return snap
}

// NeedsRender 在状态变化、正在执行操作或消息未过期时返回 true。
func (s *Synchronizer) NeedsRender(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Dirty || s.snap.Busy {
		return true
	}
	return s.snap.Message != "" && now.Sub(s.snap.MessageAt) < s.opts.MessageTTL
}

// MarkRendered clears the dirty flag.
func (s *Synchronizer) MarkRendered() {
	s.mu.Lock()
	s.snap.Dirty = false
	s.mu.Unlock()
}

// MessageTTL returns how long a message stays visible.
func (s *Synchronizer) MessageTTL() time.Duration { return s.opts.MessageTTL }

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
