package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/creamcroissant/xray-client/internal/api/handler"
	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/config"
	"github.com/creamcroissant/xray-client/internal/job"
	"github.com/creamcroissant/xray-client/internal/node"
	"github.com/creamcroissant/xray-client/internal/probe"
	"github.com/creamcroissant/xray-client/internal/registry"
	"github.com/creamcroissant/xray-client/internal/subscribe"
)

type fakeService struct {
	mu        sync.Mutex
	reg       *registry.Registry
	selected  int
	restarts  int
	updates   []string
	updateErr error
	block     chan struct{}
	gate      chan struct{}
}

func (f *fakeService) TryExclusive(fn func() error) (bool, error) {
	select {
	case f.gate <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-f.gate }()
	return true, fn()
}

func (f *fakeService) UpdateAndApply(ctx context.Context) error {
	if _, err := f.Update(ctx, ""); err != nil {
		return err
	}
	return f.Apply(ctx)
}

func (f *fakeService) List() client.Listing {
	return client.Listing{Registry: f.reg, Selected: f.reg.Clamp(f.selected)}
}

func (f *fakeService) Status(ctx context.Context) (client.Status, error) {
	n := f.reg.Nodes[f.selected]
	return client.Status{Service: "xray", Active: true, Node: &n, Selected: f.selected, NodeCount: f.reg.Len(), TunState: "disabled"}, nil
}

func (f *fakeService) SelectAndApply(ctx context.Context, index int) error {
	if index < 0 || index >= f.reg.Len() {
		return &registry.IndexError{Index: index, Len: f.reg.Len()}
	}
	f.selected = index
	f.restarts++
	return nil
}

func (f *fakeService) Update(ctx context.Context, name string) (client.UpdateReport, error) {
	f.mu.Lock()
	f.updates = append(f.updates, name)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.updateErr != nil {
		return client.UpdateReport{}, f.updateErr
	}
	return client.UpdateReport{
		Outcomes: []subscribe.Outcome{
			{Subscription: subscribe.Subscription{Name: "a"}, Result: subscribe.Result{Format: subscribe.FormatBase64, Nodes: f.reg.Nodes}},
			{Subscription: subscribe.Subscription{Name: "b"}, Err: errors.New("timeout")},
		},
		Registry: f.reg,
	}, nil
}

func (f *fakeService) Apply(ctx context.Context) error {
	f.restarts++
	return nil
}

func (f *fakeService) Restart(ctx context.Context) error {
	f.restarts++
	return nil
}

func (f *fakeService) Test(ctx context.Context) []probe.Result {
	return []probe.Result{
		{Index: 0, Node: f.reg.Nodes[0], Err: errors.New("refused")},
		{Index: 1, Node: f.reg.Nodes[1], Latency: 42 * time.Millisecond},
	}
}

func (f *fakeService) Ping(ctx context.Context) (probe.PingResult, error) {
	return probe.PingResult{URL: "https://www.google.com", StatusCode: 200, Elapsed: 120 * time.Millisecond}, nil
}

func newFakeService() *fakeService {
	return &fakeService{gate: make(chan struct{}, 1), reg: &registry.Registry{
		UpdateTime:    time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Subscriptions: []string{"a"},
		Nodes: []node.Node{
			{Name: "hk", Server: "hk.example", Port: 443, Origin: "a", Proto: node.Trojan{Password: "pw"}},
			{Name: "jp", Server: "jp.example", Port: 8443, Origin: "a", Proto: node.Shadowsocks{Method: "aes-256-gcm", Password: "pw"}},
		},
	}}
}

func newServer(t *testing.T, svc handler.Service, opts Options) *httptest.Server {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	srv := httptest.NewServer(NewRouter(nil, svc, opts))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestNodesAndStatus(t *testing.T) {
	svc := newFakeService()
	svc.selected = 1
	srv := newServer(t, svc, Options{})

	code, body := do(t, http.MethodGet, srv.URL+"/api/nodes", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), gjson.Get(body, "nodes.#").Int())
	assert.Equal(t, "jp", gjson.Get(body, "nodes.1.name").String())
	assert.Equal(t, "shadowsocks", gjson.Get(body, "nodes.1.type").String())
	assert.True(t, gjson.Get(body, "nodes.1.selected").Bool())
	assert.False(t, gjson.Get(body, "nodes.0.selected").Bool())
	assert.False(t, gjson.Get(body, "nodes.0.password").Exists())
	assert.Equal(t, "2024-05-06T07:08:09Z", gjson.Get(body, "update_time").String())

	code, body = do(t, http.MethodGet, srv.URL+"/api/status", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, gjson.Get(body, "active").Bool())
	assert.Equal(t, "jp.example", gjson.Get(body, "node.server").String())
	assert.Equal(t, "disabled", gjson.Get(body, "tun_state").String())
}

func TestSelect(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc, Options{})

	code, _ := do(t, http.MethodPost, srv.URL+"/api/select", `{"index":1}`, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, svc.selected)
	assert.Equal(t, 1, svc.restarts)

	code, body := do(t, http.MethodPost, srv.URL+"/api/select", `{"index":2}`, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, gjson.Get(body, "error").String(), "out of range")
	assert.Equal(t, 1, svc.selected)

	code, _ = do(t, http.MethodPost, srv.URL+"/api/select", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdate(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc, Options{})

	code, body := do(t, http.MethodPost, srv.URL+"/api/update", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), gjson.Get(body, "nodes").Int())
	assert.Equal(t, "base64", gjson.Get(body, "subscriptions.0.format").String())
	assert.Equal(t, "timeout", gjson.Get(body, "subscriptions.1.error").String())
	assert.Equal(t, 1, svc.restarts)

	_, _ = do(t, http.MethodPost, srv.URL+"/api/update", `{"name":"b"}`, "")
	assert.Equal(t, []string{"", "b"}, svc.updates)

	svc.updateErr = registry.ErrNoNodes
	code, _ = do(t, http.MethodPost, srv.URL+"/api/update", "", "")
	assert.Equal(t, http.StatusConflict, code)
	svc.updateErr = client.ErrUnknownSubscription
	code, _ = do(t, http.MethodPost, srv.URL+"/api/update", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConcurrentActionRejected(t *testing.T) {
	svc := newFakeService()
	svc.block = make(chan struct{})
	srv := newServer(t, svc, Options{})

	done := make(chan int, 1)
	go func() {
		code, _ := do(t, http.MethodPost, srv.URL+"/api/update", "", "")
		done <- code
	}()
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.updates) == 1
	}, time.Second, 5*time.Millisecond)

	code, _ := do(t, http.MethodPost, srv.URL+"/api/restart", "", "")
	assert.Equal(t, http.StatusConflict, code)

	close(svc.block)
	assert.Equal(t, http.StatusOK, <-done)
	code, _ = do(t, http.MethodPost, srv.URL+"/api/restart", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestScheduledUpdateSharesGateWithActions(t *testing.T) {
	svc := newFakeService()
	svc.block = make(chan struct{})
	srv := newServer(t, svc, Options{})
	updateJob := job.NewSubscriptionUpdateJob(svc, nil)
	ctx := context.Background()

	jobDone := make(chan error, 1)
	go func() { jobDone <- updateJob.Run(ctx) }()
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.updates) == 1
	}, time.Second, 5*time.Millisecond)

	code, body := do(t, http.MethodPost, srv.URL+"/api/restart", "", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, gjson.Get(body, "error").String(), "another action is running")

	close(svc.block)
	require.NoError(t, <-jobDone)
	assert.Equal(t, 1, svc.restarts)

	svc.block = make(chan struct{})
	apiDone := make(chan int, 1)
	go func() {
		code, _ := do(t, http.MethodPost, srv.URL+"/api/update", "", "")
		apiDone <- code
	}()
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.updates) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, updateJob.Run(ctx))
	svc.mu.Lock()
	assert.Len(t, svc.updates, 2)
	svc.mu.Unlock()

	close(svc.block)
	assert.Equal(t, http.StatusOK, <-apiDone)
}

func TestLatencyAndPing(t *testing.T) {
	srv := newServer(t, newFakeService(), Options{})

	code, body := do(t, http.MethodPost, srv.URL+"/api/test", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "jp", gjson.Get(body, "results.0.name").String())
	assert.Equal(t, int64(42), gjson.Get(body, "results.0.latency_ms").Int())
	assert.Equal(t, "refused", gjson.Get(body, "results.1.error").String())

	code, body = do(t, http.MethodPost, srv.URL+"/api/ping", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, gjson.Get(body, "ok").Bool())
}

func TestTokenGuardAndMetrics(t *testing.T) {
	srv := newServer(t, newFakeService(), Options{
		API:     config.APIConfig{Token: "s3cret"},
		Metrics: config.MetricsConfig{Enabled: true, Token: "m3trics"},
	})

	code, _ := do(t, http.MethodGet, srv.URL+"/api/nodes", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/api/nodes", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/api/nodes", "", "s3cret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, http.MethodGet, srv.URL+"/metrics", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body := do(t, http.MethodGet, srv.URL+"/metrics", "", "m3trics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `xray_client_http_requests_total{method="GET",route="/api/nodes",status="200"}`)
}

func TestRateLimitAndBodyLimit(t *testing.T) {
	srv := newServer(t, newFakeService(), Options{
		API: config.APIConfig{RateLimit: 2, MaxBodyBytes: 16},
	})

	code, body := do(t, http.MethodPost, srv.URL+"/api/select", `{"index":1,"padding":"xxxxxxxxxxxxxxxx"}`, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "select", gjson.Get(body, "action").String())

	code, _ = do(t, http.MethodGet, srv.URL+"/api/nodes", "", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/api/nodes", "", "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	// 健康检查不计入限流
	code, _ = do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
}
