// Package settings reads and writes the user-editable INI file holding the
// subscriptions, local listener options, TUN toggle and node selection.
package settings

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/ini.v1"

	"github.com/creamcroissant/xray-client/internal/subscribe"
	"github.com/creamcroissant/xray-client/internal/support/fsutil"
)

const (
	sectionSubscription = "subscription"
	sectionLocal        = "local"
	sectionNode         = "node"

	legacyURLKey = "url"
	legacyName   = "default"
)

// Defaults for every key.
const (
	DefaultSocksPort = 10808
	DefaultHTTPPort  = 10809
	DefaultTunPort   = 12345
	DefaultNoProxy   = "localhost,127.0.0.1,::1"
	DefaultInterval  = time.Hour
)

// Local holds the local listener options.
type Local struct {
	SocksPort int
	HTTPPort  int
	UDP       bool
	HotReload bool
	NoProxy   string
}

// Tun is the persisted transparent proxy state.
type Tun struct {
	Enabled bool
	Port    int
}

// Settings is the parsed INI file.
type Settings struct {
	Subscriptions []subscribe.Subscription
	Interval      time.Duration
	Local         Local
	Tun           Tun
	Selected      int
}

// Defaults returns the settings used when the file is absent.
func Defaults() Settings {
	return Settings{
		Interval: DefaultInterval,
		Local: Local{
			SocksPort: DefaultSocksPort,
			HTTPPort:  DefaultHTTPPort,
			UDP:       true,
			HotReload: true,
			NoProxy:   DefaultNoProxy,
		},
		Tun: Tun{Port: DefaultTunPort},
	}
}

// Subscription looks up a subscription by name.
func (s Settings) Subscription(name string) (subscribe.Subscription, bool) {
	for _, sub := range s.Subscriptions {
		if sub.Name == name {
			return sub, true
		}
	}
	return subscribe.Subscription{}, false
}

// SubscriptionNames lists the configured names in declaration order.
func (s Settings) SubscriptionNames() []string {
	names := make([]string, 0, len(s.Subscriptions))
	for _, sub := range s.Subscriptions {
		names = append(names, sub.Name)
	}
	return names
}

// File is the INI file on disk. Writes keep unrelated keys and comments.
type File struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFile binds a settings file path.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load parses the file. A missing file yields Defaults().
func (f *File) Load() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, err := f.open()
	if err != nil {
		return Defaults(), err
	}
	return f.parse(cfg), nil
}

func (f *File) open() (*ini.File, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, Loose: true, IgnoreInlineComment: true}, f.path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", f.path, err)
	}
	return cfg, nil
}

func (f *File) parse(cfg *ini.File) Settings {
	s := Defaults()

	sub := cfg.Section(sectionSubscription)
	s.Subscriptions = parseSubscriptions(sub)
	if secs := sub.Key("interval").MustInt(int(DefaultInterval / time.Second)); secs > 0 {
		s.Interval = time.Duration(secs) * time.Second
	}

	local := cfg.Section(sectionLocal)
	s.Local.SocksPort = local.Key("socks_port").MustInt(DefaultSocksPort)
	s.Local.HTTPPort = local.Key("http_port").MustInt(DefaultHTTPPort)
	s.Local.UDP = local.Key("udp").MustBool(true)
	s.Local.HotReload = local.Key("hot_reload").MustBool(true)
	s.Local.NoProxy = local.Key("no_proxy").MustString(DefaultNoProxy)
	s.Tun.Enabled = local.Key("tun_mode").MustBool(false)
	tunPort := local.Key("tun_port").MustInt(DefaultTunPort)
	if tunPort >= 1 && tunPort <= 65535 {
		s.Tun.Port = tunPort
	} else {
		f.logger.Warn("tun_port out of range, using default", "tun_port", tunPort, "default", DefaultTunPort)
	}

	s.Selected = cfg.Section(sectionNode).Key("selected").MustInt(0)
	return s
}

// parseSubscriptions accepts the legacy single "url" key (named "default")
// or any number of url<NAME> keys.
func parseSubscriptions(sec *ini.Section) []subscribe.Subscription {
	if legacy := strings.TrimSpace(sec.Key(legacyURLKey).String()); legacy != "" {
		return []subscribe.Subscription{{Name: legacyName, URL: legacy}}
	}

	var subs []subscribe.Subscription
	for _, key := range sec.Keys() {
		name := key.Name()
		if !strings.HasPrefix(name, legacyURLKey) || name == legacyURLKey {
			continue
		}
		url := strings.TrimSpace(key.String())
		if url == "" {
			continue
		}
		name = strings.TrimLeft(strings.TrimPrefix(name, legacyURLKey), "_.-")
		if name == "" {
			name = legacyName
		}
		subs = append(subs, subscribe.Subscription{Name: name, URL: url})
	}
	return subs
}

// SaveSelected persists the selected node index.
func (f *File) SaveSelected(index int) error {
	return f.update(func(cfg *ini.File) {
		cfg.Section(sectionNode).Key("selected").SetValue(strconv.Itoa(index))
	})
}

// SaveTun persists the TUN flag and port.
func (f *File) SaveTun(enabled bool, port int) error {
	return f.update(func(cfg *ini.File) {
		sec := cfg.Section(sectionLocal)
		sec.Key("tun_mode").SetValue(strconv.FormatBool(enabled))
		if port > 0 {
			sec.Key("tun_port").SetValue(strconv.Itoa(port))
		}
	})
}

// ModTime reports the file's last modification time, zero if absent.
func (f *File) ModTime() time.Time {
	info, err := os.Stat(f.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (f *File) update(mutate func(cfg *ini.File)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, err := f.open()
	if err != nil {
		return err
	}
	mutate(cfg)

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := fsutil.WriteFileAtomic(f.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
