package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultPingURL is fetched through the proxy to confirm end-to-end reachability.
const DefaultPingURL = "https://www.google.com"

// PingResult reports one request through the local SOCKS inbound.
type PingResult struct {
	URL        string
	StatusCode int
	Elapsed    time.Duration
}

// OK is true only for HTTP 200.
func (p PingResult) OK() bool { return p.StatusCode == http.StatusOK }

// Ping requests target through the SOCKS5 listener on 127.0.0.1:socksPort.
// Host names are resolved by the proxy.
func Ping(ctx context.Context, socksPort int, target string, timeout time.Duration) (PingResult, error) {
	if target == "" {
		target = DefaultPingURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	res := PingResult{URL: target}

	socksAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(socksPort))
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return res, fmt.Errorf("probe: socks5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return res, fmt.Errorf("probe: socks5 dialer has no context support")
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:         ctxDialer.DialContext,
			TLSHandshakeTimeout: timeout,
			DisableKeepAlives:   true,
		},
		Timeout: timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return res, fmt.Errorf("probe: build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return res, fmt.Errorf("probe: request via %s: %w", socksAddr, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	res.Elapsed = time.Since(start)
	return res, nil
}
