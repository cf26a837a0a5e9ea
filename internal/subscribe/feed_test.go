package subscribe

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/xray-client/internal/node"
)

const clashFeed = `proxies:
  - name: "ss-1"
    type: ss
    server: 1.1.1.1
    port: 8388
    password: pw
  - name: vm
    type: vmess
    server: v.example
    port: 443
    uuid: u-2
    alterId: 0
    cipher: auto
    network: ws
    tls: true
    servername: sni.example
    ws-opts:
      path: /ray
      headers:
        Host: cdn.example
  - name: tj
    type: trojan
    server: t.example
    port: "443"
    password: pw
    sni: t.example
  - name: vl
    type: vless
    server: l.example
    port: 443
    uuid: u-3
    tls: true
    network: tcp
    client-fingerprint: chrome
    reality-opts:
      public-key: PBK
      short-id: "01"
  - name: hy
    type: hysteria2
    server: h.example
    port: 443
  - name: broken
    type: vmess
    server: b.example
    port: nope
`

func TestDecodeFeedClash(t *testing.T) {
	res := DecodeFeed(clashFeed)
	assert.Equal(t, FormatClash, res.Format)
	require.Len(t, res.Nodes, 4)
	assert.Equal(t, 1, res.Unsupported)
	assert.Len(t, res.Errors, 1)

	ss := res.Nodes[0].Proto.(node.Shadowsocks)
	assert.Equal(t, "aes-256-gcm", ss.Method)

	vm := res.Nodes[1].Proto.(node.VMess)
	assert.Equal(t, "tls", vm.TLS)
	assert.Equal(t, "/ray", vm.Path)
	assert.Equal(t, "cdn.example", vm.Host)
	assert.Equal(t, "sni.example", vm.SNI)

	assert.Equal(t, 443, res.Nodes[2].Port)

	vl := res.Nodes[3].Proto.(node.VLESS)
	assert.Equal(t, "reality", vl.Security)
	assert.Equal(t, "PBK", vl.PublicKey)
	assert.Equal(t, "01", vl.ShortID)
	assert.Equal(t, "chrome", vl.Fingerprint)
	assert.Equal(t, "none", vl.Encryption)
}

func TestDecodeFeedInvalidYAML(t *testing.T) {
	res := DecodeFeed("proxies: [unclosed")
	assert.Equal(t, FormatClash, res.Format)
	assert.Empty(t, res.Nodes)
	require.Len(t, res.Errors, 1)
}

func TestDecodeFeedBase64AndPlain(t *testing.T) {
	lines := strings.Join([]string{
		"vless://id@a.example:443#a",
		"",
		"https://nested.example/sub",
		"# comment",
		"trojan://pw@b.example:443#b",
		"vless://broken",
		"tuic://x@c:1",
	}, "\r\n")

	plain := DecodeFeed(lines)
	assert.Equal(t, FormatPlain, plain.Format)
	require.Len(t, plain.Nodes, 2)
	assert.Len(t, plain.Errors, 1)
	assert.Equal(t, 1, plain.Unsupported)

	encoded := base64.StdEncoding.EncodeToString([]byte(lines))
	wrapped := encoded[:20] + "\n" + encoded[20:]
	b64 := DecodeFeed(wrapped)
	assert.Equal(t, FormatBase64, b64.Format)
	assert.Equal(t, plain.Nodes, b64.Nodes)
}

func TestDecodeFeedEmpty(t *testing.T) {
	res := DecodeFeed("   \n")
	assert.Empty(t, res.Nodes)
	assert.Empty(t, res.Errors)
}

type fakeSource map[string]string

func (f fakeSource) Fetch(_ context.Context, url string) (string, error) {
	text, ok := f[url]
	if !ok {
		return "", &NetworkError{URL: url, Err: errors.New("connection refused")}
	}
	return text, nil
}

func TestIngestTagsOriginAndIsolatesFailures(t *testing.T) {
	src := fakeSource{
		"http://a/sub": "trojan://pw@a.example:443#a1\ntrojan://pw@a.example:444#a2",
		"http://c/sub": "trojan://pw@c.example:443#c1",
	}
	ing := NewIngestor(src, nil)

	out := ing.Ingest(context.Background(), []Subscription{
		{Name: "a", URL: "http://a/sub"},
		{Name: "b", URL: "http://b/sub"},
		{Name: "empty"},
		{Name: "c", URL: "http://c/sub"},
	})
	require.Len(t, out, 3)

	assert.NoError(t, out[0].Err)
	assert.Len(t, out[0].Result.Nodes, 2)
	for _, n := range out[0].Result.Nodes {
		assert.Equal(t, "a", n.Origin)
	}

	var nerr *NetworkError
	assert.ErrorAs(t, out[1].Err, &nerr)
	assert.Empty(t, out[1].Result.Nodes)

	require.Len(t, out[2].Result.Nodes, 1)
	assert.Equal(t, "c", out[2].Result.Nodes[0].Origin)
}
