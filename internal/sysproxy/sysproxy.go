// Package sysproxy exports the local listeners as proxy environment
// variables for login shells and PAM sessions.
package sysproxy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/creamcroissant/xray-client/internal/support/fsutil"
)

// EnvKeys are the variables written to the environment file.
var EnvKeys = []string{
	"http_proxy", "https_proxy", "HTTP_PROXY", "HTTPS_PROXY",
	"all_proxy", "no_proxy", "NO_PROXY",
}

// Paths 系统代理相关文件位置。
type Paths struct {
	Profile     string
	Environment string
	Functions   string
}

// DefaultPaths returns the standard locations.
func DefaultPaths() Paths {
	return Paths{
		Profile:     "/etc/profile.d/xray-proxy.sh",
		Environment: "/etc/environment",
		Functions:   "/etc/profile.d/xray-client-functions.sh",
	}
}

// Endpoints are the values exported.
type Endpoints struct {
	HTTPPort  int
	SocksPort int
	NoProxy   string
}

func (e Endpoints) httpURL() string  { return fmt.Sprintf("http://127.0.0.1:%d", e.HTTPPort) }
func (e Endpoints) socksURL() string { return fmt.Sprintf("socks5://127.0.0.1:%d", e.SocksPort) }

func (e Endpoints) values() [][2]string {
	return [][2]string{
		{"http_proxy", e.httpURL()},
		{"https_proxy", e.httpURL()},
		{"HTTP_PROXY", e.httpURL()},
		{"HTTPS_PROXY", e.httpURL()},
		{"all_proxy", e.socksURL()},
		{"no_proxy", e.NoProxy},
		{"NO_PROXY", e.NoProxy},
	}
}

// Manager writes and removes the proxy files.
type Manager struct {
	paths  Paths
	logger *slog.Logger
}

// New creates a Manager.
func New(paths Paths, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{paths: paths, logger: logger}
}

// Paths returns the managed file locations.
func (m *Manager) Paths() Paths { return m.paths }

// Enabled reports whether the profile script exists.
func (m *Manager) Enabled() bool {
	_, err := os.Stat(m.paths.Profile)
	return err == nil
}

// Enable writes the profile script, the environment entries and the shell
// helper functions.
func (m *Manager) Enable(ep Endpoints) error {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by xray-client proxy-on - DO NOT EDIT MANUALLY\n")
	for _, kv := range ep.values() {
		fmt.Fprintf(&b, "export %s=%s\n", kv[0], kv[1])
	}
	if err := fsutil.WriteFileAtomic(m.paths.Profile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("sysproxy: write profile: %w", err)
	}
	if err := m.updateEnvironment(&ep); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(m.paths.Functions, []byte(m.functions()), 0o644); err != nil {
		return fmt.Errorf("sysproxy: write shell functions: %w", err)
	}
	m.logger.Info("system proxy enabled", "http", ep.httpURL(), "socks", ep.socksURL())
	return nil
}

// Disable removes the profile script and the environment entries. It
// reports whether the profile existed.
func (m *Manager) Disable() (bool, error) {
	existed := true
	if err := os.Remove(m.paths.Profile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("sysproxy: remove profile: %w", err)
		}
		existed = false
	}
	// 即使 profile 已被手动删除，也要清理 environment 里残留的条目。
	if err := m.updateEnvironment(nil); err != nil {
		return existed, err
	}
	m.logger.Info("system proxy disabled", "was_enabled", existed)
	return existed, nil
}

// updateEnvironment drops every managed key and, when ep is set, appends
// fresh values. Other lines are kept in order.
func (m *Manager) updateEnvironment(ep *Endpoints) error {
	data, err := os.ReadFile(m.paths.Environment)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sysproxy: read environment: %w", err)
	}

	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if isManaged(line) {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("sysproxy: scan environment: %w", err)
	}

	if ep != nil {
		for _, kv := range ep.values() {
			fmt.Fprintf(&out, "%s=%s\n", kv[0], kv[1])
		}
	}
	if err := fsutil.WriteFileAtomic(m.paths.Environment, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("sysproxy: write environment: %w", err)
	}
	return nil
}

func isManaged(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, k := range EnvKeys {
		if strings.HasPrefix(trimmed, k+"=") {
			return true
		}
	}
	return false
}

func (m *Manager) functions() string {
	return "# xray-client shell convenience functions\n" +
		"proxy-on() {\n" +
		"    sudo xray-client proxy-on \"$@\" && . " + m.paths.Profile + "\n" +
		"}\n" +
		"proxy-off() {\n" +
		"    sudo xray-client proxy-off \"$@\" && \\\n" +
		"        unset " + strings.Join(EnvKeys, " ") + "\n" +
		"}\n"
}
