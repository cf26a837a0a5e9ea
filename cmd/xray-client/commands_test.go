package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/probe"
	"github.com/creamcroissant/xray-client/internal/registry"
	"github.com/creamcroissant/xray-client/internal/subscribe"
)

func testRegistry() *registry.Registry {
	return &registry.Registry{
		Subscriptions: []string{"a"},
		Nodes: []node.Node{
			{Name: "hk-01", Server: "hk.example", Port: 443, Origin: "a", Proto: node.Trojan{Password: "pw"}},
			{Name: "jp-01", Server: "jp.example", Port: 8443, Origin: "a", Proto: node.Shadowsocks{Method: "aes-256-gcm", Password: "pw"}},
		},
	}
}

func TestPrintListing(t *testing.T) {
	var buf bytes.Buffer
	printListing(&buf, client.Listing{Registry: testRegistry(), Selected: 1})
	out := buf.String()
	assert.Contains(t, out, "hk.example:443")
	assert.Regexp(t, `\*\s+1\s+shadowsocks\s+jp-01`, out)
	assert.NotContains(t, out, "pw")

	buf.Reset()
	printListing(&buf, client.Listing{Registry: &registry.Registry{}})
	assert.Contains(t, buf.String(), "No nodes")
}

func TestPrintUpdateReport(t *testing.T) {
	var buf bytes.Buffer
	reg := testRegistry()
	printUpdateReport(&buf, client.UpdateReport{
		Outcomes: []subscribe.Outcome{
			{Subscription: subscribe.Subscription{Name: "a"}, Result: subscribe.Result{Format: subscribe.FormatBase64, Nodes: reg.Nodes, Unsupported: 1}},
			{Subscription: subscribe.Subscription{Name: "b"}, Err: errors.New("timeout")},
		},
		Registry: reg,
	})
	out := buf.String()
	assert.Regexp(t, `a\s+base64\s+2\s+0\s+1\s+ok`, out)
	assert.Regexp(t, `b\s+-\s+0\s+0\s+0\s+timeout`, out)
	assert.Contains(t, out, "2 nodes saved")
}

func TestPrintLatencySortsReachableFirst(t *testing.T) {
	reg := testRegistry()
	var buf bytes.Buffer
	printLatency(&buf, []probe.Result{
		{Index: 0, Node: reg.Nodes[0], Err: errors.New("refused")},
		{Index: 1, Node: reg.Nodes[1], Latency: 35 * time.Millisecond},
	})
	assert.Regexp(t, `(?s)jp-01\s+35 ms.*hk-01\s+timeout`, buf.String())
}

func TestPrintStatus(t *testing.T) {
	reg := testRegistry()
	var buf bytes.Buffer
	printStatus(&buf, client.Status{Service: "xray", Node: &reg.Nodes[0], NodeCount: 2, TunState: "disabled"})
	out := buf.String()
	assert.Contains(t, out, "[0] hk-01 (trojan hk.example:443)")
	assert.Contains(t, out, "never")
	assert.Regexp(t, `Proxy env:\s+off`, out)
}
