package subscribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/creamcroissant/xray-client/internal/node"
)

// DecodeURI decodes one share link (vmess://, vless://, ss://, trojan://).
func DecodeURI(line string) (node.Node, error) {
	line = strings.TrimSpace(line)
	scheme, rest, ok := strings.Cut(line, "://")
	if !ok {
		return node.Node{}, parseErr("uri", "missing scheme", nil)
	}

	switch strings.ToLower(scheme) {
	case "vmess":
		return decodeVMess(rest)
	case "vless":
		return decodeVLESS(rest)
	case "ss":
		return decodeShadowsocks(rest)
	case "trojan":
		return decodeTrojan(rest)
	default:
		return node.Node{}, fmt.Errorf("%w: %s", ErrUnsupported, scheme)
	}
}

// decodeVMess parses the v2rayN style base64 JSON payload.
func decodeVMess(payload string) (node.Node, error) {
	raw, err := decodeBase64(payload)
	if err != nil {
		return node.Node{}, parseErr("vmess", "invalid base64", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return node.Node{}, parseErr("vmess", "invalid json", err)
	}

	port, err := intField(fields, "port", 0)
	if err != nil {
		return node.Node{}, parseErr("vmess", "port", err)
	}
	alterID, err := intField(fields, "aid", 0)
	if err != nil {
		return node.Node{}, parseErr("vmess", "aid", err)
	}

	n := node.Node{
		Name:   cleanName(strField(fields, "ps")),
		Server: strings.TrimSpace(strField(fields, "add")),
		Port:   port,
		Proto: node.VMess{
			UUID:     strField(fields, "id"),
			AlterID:  alterID,
			Security: defaultString(strField(fields, "scy"), "auto"),
			Network:  defaultString(strField(fields, "net"), "tcp"),
			TLS:      strField(fields, "tls"),
			SNI:      strField(fields, "sni"),
			Host:     strField(fields, "host"),
			Path:     strField(fields, "path"),
		},
	}
	if err := n.Validate(); err != nil {
		return node.Node{}, parseErr("vmess", "invalid node", err)
	}
	return n, nil
}

// endpoint is the common <secret>@<host>:<port>?query#name layout.
type endpoint struct {
	secret string
	host   string
	port   int
	query  url.Values
	name   string
}

func splitEndpoint(scheme, body string) (endpoint, error) {
	var ep endpoint

	body, fragment, hasName := cutLast(body, "#")
	if hasName {
		ep.name = unescape(fragment)
	}

	main, rawQuery, _ := strings.Cut(body, "?")
	// ParseQuery still returns the well-formed pairs on error.
	ep.query, _ = url.ParseQuery(rawQuery)

	secret, hostPort, ok := cutLast(main, "@")
	if !ok || secret == "" {
		return ep, parseErr(scheme, "missing credentials", nil)
	}
	ep.secret = unescape(secret)

	host, portStr, err := splitHostPort(strings.TrimSuffix(hostPort, "/"))
	if err != nil {
		return ep, parseErr(scheme, "invalid address", err)
	}
	ep.host = host
	ep.port, err = parsePort(portStr)
	if err != nil {
		return ep, parseErr(scheme, "invalid port", err)
	}
	return ep, nil
}

func decodeVLESS(body string) (node.Node, error) {
	ep, err := splitEndpoint("vless", body)
	if err != nil {
		return node.Node{}, err
	}

	network := firstValue(ep.query, "type", "tcp")
	path := firstValue(ep.query, "path", "")
	if network == "grpc" && path == "" {
		path = firstValue(ep.query, "serviceName", "")
	}

	n := node.Node{
		Name:   cleanName(ep.name),
		Server: ep.host,
		Port:   ep.port,
		Proto: node.VLESS{
			UUID:        ep.secret,
			Encryption:  firstValue(ep.query, "encryption", "none"),
			Flow:        firstValue(ep.query, "flow", ""),
			Security:    firstValue(ep.query, "security", ""),
			SNI:         firstValue(ep.query, "sni", ""),
			Fingerprint: firstValue(ep.query, "fp", ""),
			PublicKey:   firstValue(ep.query, "pbk", ""),
			ShortID:     firstValue(ep.query, "sid", ""),
			SpiderX:     firstValue(ep.query, "spx", ""),
			Network:     network,
			Host:        firstValue(ep.query, "host", ""),
			Path:        path,
		},
	}
	if err := n.Validate(); err != nil {
		return node.Node{}, parseErr("vless", "invalid node", err)
	}
	return n, nil
}

func decodeTrojan(body string) (node.Node, error) {
	ep, err := splitEndpoint("trojan", body)
	if err != nil {
		return node.Node{}, err
	}

	sni := firstValue(ep.query, "sni", "")
	if sni == "" {
		sni = firstValue(ep.query, "peer", "")
	}

	n := node.Node{
		Name:   cleanName(ep.name),
		Server: ep.host,
		Port:   ep.port,
		Proto:  node.Trojan{Password: ep.secret, SNI: sni},
	}
	if err := n.Validate(); err != nil {
		return node.Node{}, parseErr("trojan", "invalid node", err)
	}
	return n, nil
}

// decodeShadowsocks handles both the legacy fully encoded form
// ss://base64(method:password@host:port)#name and SIP002
// ss://base64(method:password)@host:port#name.
func decodeShadowsocks(body string) (node.Node, error) {
	body, fragment, hasName := cutLast(body, "#")
	name := ""
	if hasName {
		name = unescape(fragment)
	}
	body, _, _ = strings.Cut(body, "?")
	body = strings.TrimSuffix(body, "/")

	if !strings.Contains(body, "@") {
		decoded, err := decodeBase64(body)
		if err != nil {
			return node.Node{}, parseErr("ss", "invalid base64", err)
		}
		body = string(decoded)
	}

	userInfo, hostPort, ok := cutLast(body, "@")
	if !ok {
		return node.Node{}, parseErr("ss", "missing server", nil)
	}
	userInfo = unescape(userInfo)
	if !strings.Contains(userInfo, ":") {
		decoded, err := decodeBase64(userInfo)
		if err != nil {
			return node.Node{}, parseErr("ss", "invalid user info", err)
		}
		userInfo = string(decoded)
	}
	method, password, ok := strings.Cut(userInfo, ":")
	if !ok || method == "" {
		return node.Node{}, parseErr("ss", "missing method", nil)
	}

	host, portStr, err := splitHostPort(hostPort)
	if err != nil {
		return node.Node{}, parseErr("ss", "invalid address", err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return node.Node{}, parseErr("ss", "invalid port", err)
	}

	n := node.Node{
		Name:   cleanName(name),
		Server: host,
		Port:   port,
		Proto:  node.Shadowsocks{Method: method, Password: password},
	}
	if err := n.Validate(); err != nil {
		return node.Node{}, parseErr("ss", "invalid node", err)
	}
	return n, nil
}

// splitHostPort splits on the last colon and unwraps a bracketed IPv6 host.
func splitHostPort(hostPort string) (string, string, error) {
	host, port, ok := cutLast(strings.TrimSpace(hostPort), ":")
	if !ok {
		return "", "", errors.New("missing port")
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return "", "", errors.New("missing host")
	}
	return host, port, nil
}

// parsePort accepts decimal digits only, so signs and spaces are rejected.
func parsePort(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty port")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("port %q is not numeric", s)
		}
	}
	return strconv.Atoi(s)
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func unescape(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

// firstValue returns the first non-empty value of key, or def.
func firstValue(q url.Values, key, def string) string {
	if vs := q[key]; len(vs) > 0 && vs[0] != "" {
		return vs[0]
	}
	return def
}

func cleanName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return node.DefaultName
	}
	return name
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func strField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func intField(m map[string]any, key string, def int) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return def, nil
		}
		return parsePort(s)
	default:
		return 0, fmt.Errorf("unexpected %T for %s", v, key)
	}
}
