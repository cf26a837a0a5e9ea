// Package xrayconf builds the xray engine configuration for one node.
package xrayconf

// Config is the whole engine file. Field order is the emitted key order.
type Config struct {
	Log       Log        `json:"log"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
	Routing   Routing    `json:"routing"`
	DNS       DNS        `json:"dns"`
}

// Log 引擎日志设置。
type Log struct {
	LogLevel string `json:"loglevel"`
	Access   string `json:"access"`
	Error    string `json:"error"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

type Inbound struct {
	Tag      string    `json:"tag"`
	Port     int       `json:"port"`
	Listen   string    `json:"listen"`
	Protocol string    `json:"protocol"`
	Settings any       `json:"settings"`
	Sniffing *Sniffing `json:"sniffing,omitempty"`
}

type socksInbound struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
	IP   string `json:"ip"`
}

type httpInbound struct{}

type transparentInbound struct {
	Network        string `json:"network"`
	FollowRedirect bool   `json:"followRedirect"`
}

type Outbound struct {
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Settings       any             `json:"settings"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
	Mux            *Mux            `json:"mux,omitempty"`
}

type Mux struct {
	Enabled     bool `json:"enabled"`
	Concurrency int  `json:"concurrency"`
}

type vnextSettings struct {
	Vnext []vnextServer `json:"vnext"`
}

type vnextServer struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Users   []any  `json:"users"`
}

type vmessUser struct {
	ID       string `json:"id"`
	AlterID  int    `json:"alterId"`
	Security string `json:"security"`
	Level    int    `json:"level"`
}

type vlessUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow"`
	Level      int    `json:"level"`
}

type serverSettings struct {
	Servers []any `json:"servers"`
}

type shadowsocksServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Method   string `json:"method"`
	Password string `json:"password"`
	Level    int    `json:"level"`
}

type trojanServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Level    int    `json:"level"`
}

type emptySettings struct{}

// StreamSettings 传输层设置，仅输出与 network/security 相关的子项。
type StreamSettings struct {
	Network         string           `json:"network"`
	Security        string           `json:"security,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	XHTTPSettings   *XHTTPSettings   `json:"xhttpSettings,omitempty"`
}

type TLSSettings struct {
	ServerName    string `json:"serverName"`
	AllowInsecure bool   `json:"allowInsecure"`
}

type RealitySettings struct {
	ServerName  string `json:"serverName"`
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"publicKey"`
	ShortID     string `json:"shortId"`
	SpiderX     string `json:"spiderX"`
}

type WSSettings struct {
	Path    string        `json:"path"`
	Headers WSHostHeaders `json:"headers"`
}

type WSHostHeaders struct {
	Host string `json:"Host"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
}

type XHTTPSettings struct {
	Path string `json:"path"`
	Host string `json:"host,omitempty"`
}

type Routing struct {
	DomainStrategy string `json:"domainStrategy"`
	Rules          []Rule `json:"rules"`
}

type Rule struct {
	Type        string   `json:"type"`
	IP          []string `json:"ip,omitempty"`
	Domain      []string `json:"domain,omitempty"`
	Network     string   `json:"network,omitempty"`
	OutboundTag string   `json:"outboundTag"`
}

type DNS struct {
	Servers []string `json:"servers"`
}
