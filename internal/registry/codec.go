package registry

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/creamcroissant/xray-client/internal/node"
)

// fileFormat is the on-disk layout of the registry.
type fileFormat struct {
	UpdateTime    string      `json:"update_time"`
	NodeCount     int         `json:"node_count"`
	Subscriptions []string    `json:"subscriptions"`
	Nodes         []node.Node `json:"nodes"`
}

// Older files carry a naive local timestamp with microseconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func encode(reg *Registry) ([]byte, error) {
	out := fileFormat{
		UpdateTime:    reg.UpdateTime.Format(time.RFC3339),
		NodeCount:     len(reg.Nodes),
		Subscriptions: reg.Subscriptions,
		Nodes:         reg.Nodes,
	}
	if out.Subscriptions == nil {
		out.Subscriptions = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode skips individual entries it cannot read so one bad record does
// not hide the rest of the list.
func decode(data []byte) (*Registry, int, error) {
	var in struct {
		UpdateTime    string            `json:"update_time"`
		Subscriptions []string          `json:"subscriptions"`
		Nodes         []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, 0, err
	}

	reg := &Registry{
		UpdateTime:    parseTime(in.UpdateTime),
		Subscriptions: in.Subscriptions,
		Nodes:         make([]node.Node, 0, len(in.Nodes)),
	}
	skipped := 0
	for _, raw := range in.Nodes {
		var n node.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			skipped++
			continue
		}
		reg.Nodes = append(reg.Nodes, n)
	}
	return reg, skipped, nil
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
