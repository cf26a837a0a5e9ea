package subscribe

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/creamcroissant/xray-client/internal/node"
)

// clashDocument is the part of a Clash/Mihomo profile we care about.
type clashDocument struct {
	Proxies []map[string]any `yaml:"proxies"`
}

// parseClash decodes a structured feed. A document that is not valid YAML
// yields a single ParseError and no nodes.
func parseClash(content string) Result {
	var doc clashDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return Result{Format: FormatClash, Errors: []error{parseErr("clash", "invalid yaml", err)}}
	}

	res := Result{Format: FormatClash}
	for _, rec := range doc.Proxies {
		n, err := DecodeRecord(rec)
		res.add(n, err)
	}
	return res
}

// DecodeRecord converts one entry of a Clash "proxies" list.
func DecodeRecord(rec map[string]any) (node.Node, error) {
	proxyType := strings.ToLower(recString(rec, "type"))
	port, err := recInt(rec, "port")
	if err != nil {
		return node.Node{}, parseErr("clash", "port", err)
	}

	n := node.Node{
		Name:   cleanName(recString(rec, "name")),
		Server: strings.TrimSpace(recString(rec, "server")),
		Port:   port,
	}

	switch proxyType {
	case "ss":
		n.Proto = node.Shadowsocks{
			Method:   defaultString(recString(rec, "cipher"), "aes-256-gcm"),
			Password: recString(rec, "password"),
		}
	case "vmess":
		alterID, err := recInt(rec, "alterId")
		if err != nil {
			return node.Node{}, parseErr("clash", "alterId", err)
		}
		n.Proto = node.VMess{
			UUID:     recString(rec, "uuid"),
			AlterID:  alterID,
			Security: defaultString(recString(rec, "cipher"), "auto"),
			Network:  defaultString(recString(rec, "network"), "tcp"),
			TLS:      tlsMode(rec),
			SNI:      recString(rec, "servername"),
			Host:     wsHost(rec),
			Path:     wsPath(rec),
		}
	case "trojan":
		n.Proto = node.Trojan{
			Password: recString(rec, "password"),
			SNI:      recString(rec, "sni"),
		}
	case "vless":
		v := node.VLESS{
			UUID:        recString(rec, "uuid"),
			Encryption:  defaultString(recString(rec, "cipher"), "none"),
			Flow:        recString(rec, "flow"),
			Security:    tlsMode(rec),
			SNI:         recString(rec, "servername"),
			Fingerprint: recString(rec, "client-fingerprint"),
			Network:     defaultString(recString(rec, "network"), "tcp"),
			Path:        recString(recMap(rec, "ws-opts"), "path"),
		}
		if reality := recMap(rec, "reality-opts"); len(reality) > 0 {
			v.Security = "reality"
			v.PublicKey = recString(reality, "public-key")
			v.ShortID = recString(reality, "short-id")
		}
		if v.Network == "grpc" && v.Path == "" {
			v.Path = recString(recMap(rec, "grpc-opts"), "grpc-service-name")
		}
		if v.Network == "ws" {
			v.Host = wsHost(rec)
		}
		n.Proto = v
	default:
		return node.Node{}, fmt.Errorf("%w: %s", ErrUnsupported, proxyType)
	}

	if err := n.Validate(); err != nil {
		return node.Node{}, parseErr("clash", "invalid node", err)
	}
	return n, nil
}

func tlsMode(rec map[string]any) string {
	if recBool(rec, "tls") {
		return "tls"
	}
	return ""
}

// wsHost prefers the legacy ws-headers key over ws-opts.headers.
func wsHost(rec map[string]any) string {
	if headers := recMap(rec, "ws-headers"); len(headers) > 0 {
		return recString(headers, "Host")
	}
	return recString(recMap(recMap(rec, "ws-opts"), "headers"), "Host")
}

func wsPath(rec map[string]any) string {
	if _, ok := rec["ws-path"]; ok {
		return recString(rec, "ws-path")
	}
	return recString(recMap(rec, "ws-opts"), "path")
}

func recString(rec map[string]any, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func recInt(rec map[string]any, key string) (int, error) {
	switch v := rec[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	default:
		return 0, fmt.Errorf("unexpected %T for %s", v, key)
	}
}

func recBool(rec map[string]any, key string) bool {
	switch v := rec[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func recMap(rec map[string]any, key string) map[string]any {
	if rec == nil {
		return nil
	}
	m, _ := rec[key].(map[string]any)
	return m
}
