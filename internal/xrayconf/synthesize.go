package xrayconf

import (
	"fmt"

	"github.com/creamcroissant/xray-client/internal/node"
)

// Outbound and inbound tags.
const (
	TagProxy       = "proxy"
	TagDirect      = "direct"
	TagBlock       = "block"
	TagSocks       = "socks"
	TagHTTP        = "http"
	TagTransparent = "transparent"

	listenLoopback     = "127.0.0.1"
	defaultFingerprint = "chrome"
)

// Local 本地监听端口。
type Local struct {
	SocksPort int
	HTTPPort  int
	UDP       bool
}

// Tun 透明代理入站开关。
type Tun struct {
	Enabled bool
	Port    int
}

// DefaultLog returns the log block used when no override is configured.
func DefaultLog() Log {
	return Log{
		LogLevel: "warning",
		Access:   "/var/log/xray/access.log",
		Error:    "/var/log/xray/error.log",
	}
}

var dnsServers = []string{
	"https+local://1.1.1.1/dns-query",
	"https+local://8.8.8.8/dns-query",
	"localhost",
}

// Synthesize builds the engine configuration that routes through n.
// The result depends only on its arguments.
func Synthesize(n node.Node, local Local, tun Tun) (Config, error) {
	proxy, err := ProxyOutbound(n)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Log:      DefaultLog(),
		Inbounds: inbounds(local, tun),
		Outbounds: []Outbound{
			proxy,
			{Tag: TagDirect, Protocol: "freedom", Settings: emptySettings{}},
			{Tag: TagBlock, Protocol: "blackhole", Settings: emptySettings{}},
		},
		Routing: routing(),
		DNS:     DNS{Servers: append([]string(nil), dnsServers...)},
	}, nil
}

// WithLog overrides the non-empty fields of the log block.
func (c Config) WithLog(l Log) Config {
	if l.LogLevel != "" {
		c.Log.LogLevel = l.LogLevel
	}
	if l.Access != "" {
		c.Log.Access = l.Access
	}
	if l.Error != "" {
		c.Log.Error = l.Error
	}
	return c
}

func sniffing() *Sniffing {
	return &Sniffing{Enabled: true, DestOverride: []string{"http", "tls", "quic"}}
}

func inbounds(local Local, tun Tun) []Inbound {
	list := make([]Inbound, 0, 3)
	// 透明入站放在最前面，REDIRECT 进来的连接优先匹配。
	if tun.Enabled {
		list = append(list, Inbound{
			Tag:      TagTransparent,
			Port:     tun.Port,
			Listen:   listenLoopback,
			Protocol: "dokodemo-door",
			Settings: transparentInbound{Network: "tcp", FollowRedirect: true},
			Sniffing: sniffing(),
		})
	}
	list = append(list,
		Inbound{
			Tag:      TagSocks,
			Port:     local.SocksPort,
			Listen:   listenLoopback,
			Protocol: "socks",
			Settings: socksInbound{Auth: "noauth", UDP: local.UDP, IP: listenLoopback},
			Sniffing: sniffing(),
		},
		Inbound{
			Tag:      TagHTTP,
			Port:     local.HTTPPort,
			Listen:   listenLoopback,
			Protocol: "http",
			Settings: httpInbound{},
			Sniffing: sniffing(),
		},
	)
	return list
}

func routing() Routing {
	return Routing{
		DomainStrategy: "IPIfNonMatch",
		Rules: []Rule{
			{Type: "field", IP: []string{"geoip:private"}, OutboundTag: TagDirect},
			{Type: "field", Domain: []string{"geosite:cn"}, OutboundTag: TagDirect},
			{Type: "field", IP: []string{"geoip:cn"}, OutboundTag: TagDirect},
			{Type: "field", Network: "tcp,udp", OutboundTag: TagProxy},
		},
	}
}

// ProxyOutbound converts a node into the "proxy" outbound.
func ProxyOutbound(n node.Node) (Outbound, error) {
	if err := n.Validate(); err != nil {
		return Outbound{}, fmt.Errorf("xrayconf: %w", err)
	}

	out := Outbound{
		Tag: TagProxy,
		Mux: &Mux{Enabled: false, Concurrency: -1},
	}

	switch p := n.Proto.(type) {
	case node.VMess:
		out.Protocol = "vmess"
		out.Settings = vnextSettings{Vnext: []vnextServer{{
			Address: n.Server,
			Port:    n.Port,
			Users:   []any{vmessUser{ID: p.UUID, AlterID: p.AlterID, Security: p.Security}},
		}}}
		out.StreamSettings = vmessStream(n.Server, p)
	case node.VLESS:
		out.Protocol = "vless"
		out.Settings = vnextSettings{Vnext: []vnextServer{{
			Address: n.Server,
			Port:    n.Port,
			Users:   []any{vlessUser{ID: p.UUID, Encryption: p.Encryption, Flow: p.Flow}},
		}}}
		out.StreamSettings = vlessStream(n.Server, p)
	case node.Shadowsocks:
		out.Protocol = "shadowsocks"
		out.Settings = serverSettings{Servers: []any{shadowsocksServer{
			Address:  n.Server,
			Port:     n.Port,
			Method:   p.Method,
			Password: p.Password,
		}}}
	case node.Trojan:
		out.Protocol = "trojan"
		out.Settings = serverSettings{Servers: []any{trojanServer{
			Address:  n.Server,
			Port:     n.Port,
			Password: p.Password,
		}}}
		stream := &StreamSettings{Network: "tcp"}
		if p.SNI != "" {
			stream.Security = "tls"
			stream.TLSSettings = &TLSSettings{ServerName: p.SNI}
		}
		out.StreamSettings = stream
	default:
		return Outbound{}, fmt.Errorf("xrayconf: unsupported protocol %T", n.Proto)
	}
	return out, nil
}

func vmessStream(server string, p node.VMess) *StreamSettings {
	stream := &StreamSettings{Network: orDefault(p.Network, "tcp")}
	if p.TLS != "" {
		stream.Security = p.TLS
		if p.TLS == "tls" {
			stream.TLSSettings = &TLSSettings{ServerName: orDefault(p.SNI, server)}
		}
	}
	if stream.Network == "ws" {
		stream.WSSettings = wsSettings(server, p.Host, p.Path)
	}
	return stream
}

func vlessStream(server string, p node.VLESS) *StreamSettings {
	stream := &StreamSettings{Network: orDefault(p.Network, "tcp")}

	switch p.Security {
	case "tls":
		stream.Security = "tls"
		stream.TLSSettings = &TLSSettings{ServerName: orDefault(p.SNI, server)}
	case "reality":
		stream.Security = "reality"
		stream.RealitySettings = &RealitySettings{
			ServerName:  p.SNI,
			Fingerprint: orDefault(p.Fingerprint, defaultFingerprint),
			PublicKey:   p.PublicKey,
			ShortID:     p.ShortID,
			SpiderX:     p.SpiderX,
		}
	}

	switch stream.Network {
	case "ws":
		stream.WSSettings = wsSettings(server, p.Host, p.Path)
	case "grpc":
		stream.GRPCSettings = &GRPCSettings{ServiceName: p.Path}
	case "xhttp":
		stream.XHTTPSettings = &XHTTPSettings{Path: orDefault(p.Path, "/"), Host: p.Host}
	}
	return stream
}

func wsSettings(server, host, path string) *WSSettings {
	return &WSSettings{
		Path:    orDefault(path, "/"),
		Headers: WSHostHeaders{Host: orDefault(host, server)},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
