package subscribe

import (
	"encoding/base64"
	"strings"
)

// FixPadding pads s with '=' up to a multiple of four. Applying it twice is
// the same as applying it once.
func FixPadding(s string) string {
	if r := len(s) % 4; r != 0 {
		return s + strings.Repeat("=", 4-r)
	}
	return s
}

// decodeBase64 accepts the standard and URL-safe alphabets with or without
// padding, which is what subscription providers emit in practice.
func decodeBase64(s string) ([]byte, error) {
	s = FixPadding(strings.TrimSpace(s))
	out, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return out, nil
	}
	if alt, altErr := base64.URLEncoding.DecodeString(s); altErr == nil {
		return alt, nil
	}
	return nil, err
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
