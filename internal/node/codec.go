package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// wireNode is the flat object stored in the registry file. Keys match the
// files written by earlier releases of the client.
type wireNode struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Server       string   `json:"server"`
	Port         looseInt `json:"port"`
	Subscription string   `json:"subscription,omitempty"`
	UUID         string   `json:"uuid,omitempty"`
	AlterID      looseInt `json:"alterId,omitempty"`
	Encryption   string   `json:"encryption,omitempty"`
	Flow         string   `json:"flow,omitempty"`
	Security     string   `json:"security,omitempty"`
	Network      string   `json:"network,omitempty"`
	NetType      string   `json:"net_type,omitempty"`
	TLS          string   `json:"tls,omitempty"`
	SNI          string   `json:"sni,omitempty"`
	Fingerprint  string   `json:"fp,omitempty"`
	PublicKey    string   `json:"pbk,omitempty"`
	ShortID      string   `json:"sid,omitempty"`
	SpiderX      string   `json:"spx,omitempty"`
	Host         string   `json:"host,omitempty"`
	Path         string   `json:"path,omitempty"`
	Method       string   `json:"method,omitempty"`
	Password     string   `json:"password,omitempty"`
}

// looseInt accepts both JSON numbers and numeric strings.
type looseInt int

func (i *looseInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*i = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*i = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*i = looseInt(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*i = looseInt(int(f))
	return nil
}

// MarshalJSON encodes the node in its flat registry form.
func (n Node) MarshalJSON() ([]byte, error) {
	w := wireNode{
		Type:         string(n.Kind()),
		Name:         n.Name,
		Server:       n.Server,
		Port:         looseInt(n.Port),
		Subscription: n.Origin,
	}
	switch p := n.Proto.(type) {
	case VMess:
		w.UUID = p.UUID
		w.AlterID = looseInt(p.AlterID)
		w.Security = p.Security
		w.Network = p.Network
		w.TLS = p.TLS
		w.SNI = p.SNI
		w.Host = p.Host
		w.Path = p.Path
	case VLESS:
		w.UUID = p.UUID
		w.Encryption = p.Encryption
		w.Flow = p.Flow
		w.Security = p.Security
		w.SNI = p.SNI
		w.Fingerprint = p.Fingerprint
		w.PublicKey = p.PublicKey
		w.ShortID = p.ShortID
		w.SpiderX = p.SpiderX
		w.NetType = p.Network
		w.Host = p.Host
		w.Path = p.Path
	case Shadowsocks:
		w.Method = p.Method
		w.Password = p.Password
	case Trojan:
		w.Password = p.Password
		w.SNI = p.SNI
	default:
		return nil, ErrNoProtocol
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat registry form, applying the same defaults
// as the feed decoder.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Node{
		Name:   w.Name,
		Server: w.Server,
		Port:   int(w.Port),
		Origin: w.Subscription,
	}
	if strings.TrimSpace(out.Name) == "" {
		out.Name = DefaultName
	}
	switch Kind(w.Type) {
	case KindVMess:
		out.Proto = VMess{
			UUID:     w.UUID,
			AlterID:  int(w.AlterID),
			Security: orDefault(w.Security, "auto"),
			Network:  orDefault(w.Network, "tcp"),
			TLS:      w.TLS,
			SNI:      w.SNI,
			Host:     w.Host,
			Path:     w.Path,
		}
	case KindVLESS:
		out.Proto = VLESS{
			UUID:        w.UUID,
			Encryption:  orDefault(w.Encryption, "none"),
			Flow:        w.Flow,
			Security:    w.Security,
			SNI:         w.SNI,
			Fingerprint: w.Fingerprint,
			PublicKey:   w.PublicKey,
			ShortID:     w.ShortID,
			SpiderX:     w.SpiderX,
			Network:     orDefault(w.NetType, "tcp"),
			Host:        w.Host,
			Path:        w.Path,
		}
	case KindShadowsocks:
		out.Proto = Shadowsocks{Method: w.Method, Password: w.Password}
	case KindTrojan:
		out.Proto = Trojan{Password: w.Password, SNI: w.SNI}
	default:
		return fmt.Errorf("node: unknown type %q", w.Type)
	}
	*n = out
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
