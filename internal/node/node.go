// Package node defines the canonical descriptor of one remote proxy endpoint.
package node

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the protocol of a node.
type Kind string

const (
	KindVMess       Kind = "vmess"
	KindVLESS       Kind = "vless"
	KindShadowsocks Kind = "shadowsocks"
	KindTrojan      Kind = "trojan"
)

// DefaultName is used when a feed carries no display label.
const DefaultName = "unnamed"

// Protocol is the kind-specific part of a node. Only the four variants in
// this package implement it.
type Protocol interface {
	Kind() Kind
	secret() string
}

// VMess carries the vmess-specific fields.
type VMess struct {
	UUID     string
	AlterID  int
	Security string // cipher, "auto" by default
	Network  string // tcp, ws ...
	TLS      string // "" or "tls"
	SNI      string
	Host     string
	Path     string
}

// VLESS carries the vless-specific fields.
type VLESS struct {
	UUID        string
	Encryption  string // usually "none"
	Flow        string
	Security    string // "", "tls" or "reality"
	SNI         string
	Fingerprint string
	PublicKey   string
	ShortID     string
	SpiderX     string
	Network     string // tcp, ws, grpc, xhttp
	Host        string
	Path        string // path or grpc service name
}

// Shadowsocks carries the cipher and pre-shared secret.
type Shadowsocks struct {
	Method   string
	Password string
}

// Trojan carries the password and optional SNI. A non-empty SNI enables TLS.
type Trojan struct {
	Password string
	SNI      string
}

func (VMess) Kind() Kind       { return KindVMess }
func (VLESS) Kind() Kind       { return KindVLESS }
func (Shadowsocks) Kind() Kind { return KindShadowsocks }
func (Trojan) Kind() Kind      { return KindTrojan }

func (p VMess) secret() string       { return p.UUID }
func (p VLESS) secret() string       { return p.UUID }
func (p Shadowsocks) secret() string { return p.Method + ":" + p.Password }
func (p Trojan) secret() string      { return p.Password }

// Node is an immutable descriptor. Copy it by value.
type Node struct {
	Name   string
	Server string
	Port   int
	Origin string
	Proto  Protocol
}

var (
	ErrNoProtocol  = errors.New("node: protocol is required")
	ErrEmptyServer = errors.New("node: server is required")
)

// Kind returns the protocol kind, or "" for an incomplete node.
func (n Node) Kind() Kind {
	if n.Proto == nil {
		return ""
	}
	return n.Proto.Kind()
}

// Validate checks the invariants every decoded node must satisfy.
func (n Node) Validate() error {
	if n.Proto == nil {
		return ErrNoProtocol
	}
	if strings.TrimSpace(n.Server) == "" {
		return ErrEmptyServer
	}
	if err := ValidatePort(n.Port); err != nil {
		return err
	}
	return nil
}

// ValidatePort reports whether p is a usable TCP/UDP port.
func ValidatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("node: port %d out of range", p)
	}
	return nil
}

// Address returns host:port suitable for dialing.
func (n Node) Address() string {
	return net.JoinHostPort(n.Server, strconv.Itoa(n.Port))
}

// WithOrigin returns a copy tagged with the given subscription name.
func (n Node) WithOrigin(origin string) Node {
	n.Origin = origin
	return n
}

// ID derives a stable identifier from the endpoint identity, so the same
// node keeps its ID across feed refreshes even if its index changes.
func (n Node) ID() string {
	if n.Proto == nil {
		return ""
	}
	key := strings.Join([]string{string(n.Kind()), n.Server, strconv.Itoa(n.Port), n.Proto.secret(), n.Name}, "|")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}
