package subscribe

import (
	"errors"
	"strings"

	"github.com/creamcroissant/xray-client/internal/node"
)

// Format is the detected encoding of a feed.
type Format string

const (
	FormatClash  Format = "clash"
	FormatBase64 Format = "base64"
	FormatPlain  Format = "plain"
)

const clashMarker = "proxies:"

// Result is the outcome of decoding one feed. Errors only carries
// ParseErrors; unsupported entries are counted separately.
type Result struct {
	Format      Format
	Nodes       []node.Node
	Errors      []error
	Unsupported int
}

func (r *Result) add(n node.Node, err error) {
	switch {
	case err == nil:
		r.Nodes = append(r.Nodes, n)
	case errors.Is(err, ErrUnsupported):
		r.Unsupported++
	default:
		r.Errors = append(r.Errors, err)
	}
}

// DecodeFeed sniffs the feed format and decodes every entry. A partially
// decodable feed is not an error; failures are reported in the result.
func DecodeFeed(text string) Result {
	if isClash(text) {
		return parseClash(text)
	}

	format := FormatPlain
	body := text
	if decoded, err := decodeBase64(stripSpace(text)); err == nil && looksLikeLinks(string(decoded)) {
		format = FormatBase64
		body = strings.ToValidUTF8(string(decoded), "")
	}

	res := Result{Format: format}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if skipLine(line) {
			continue
		}
		n, err := DecodeURI(line)
		res.add(n, err)
	}
	return res
}

func isClash(text string) bool {
	if strings.HasPrefix(strings.TrimSpace(text), clashMarker) {
		return true
	}
	head := text
	if len(head) > 200 {
		head = head[:200]
	}
	return strings.Contains(head, clashMarker)
}

func looksLikeLinks(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.TrimSpace(line), "://") {
			return true
		}
	}
	return false
}

// skipLine drops blanks, comments and nested subscription URLs.
func skipLine(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return true
	}
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
