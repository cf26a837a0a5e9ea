package subscribe

import (
	"errors"
	"fmt"
)

// ErrUnsupported marks a line or record of a protocol this client does not
// handle. It is not a parse failure: the entry is dropped quietly.
var ErrUnsupported = errors.New("subscribe: unsupported protocol")

// ErrScheme is returned by the fetcher for non-http(s) subscription URLs.
var ErrScheme = errors.New("subscribe: only http and https urls are allowed")

// ParseError describes a malformed node URI or record.
type ParseError struct {
	Scheme string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Scheme, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Scheme, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(scheme, reason string, err error) error {
	return &ParseError{Scheme: scheme, Reason: reason, Err: err}
}

// NetworkError wraps a failed subscription download.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", redact(e.URL), e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// redact keeps subscription tokens out of logs.
func redact(u string) string {
	if len(u) > 50 {
		return u[:50] + "..."
	}
	return u
}
