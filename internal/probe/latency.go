// Package probe measures node reachability: TCP connect latency to each
// node, and an end-to-end request through the local SOCKS inbound.
package probe

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/creamcroissant/xray-client/internal/node"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultWorkers  = 10
	defaultCacheTTL = 10 * time.Minute
)

// Result is one node's measurement.
type Result struct {
	Index   int
	Node    node.Node
	Latency time.Duration
	Err     error
	At      time.Time
}

// OK reports whether the node answered.
func (r Result) OK() bool { return r.Err == nil }

// TesterOptions 延迟测试参数。
type TesterOptions struct {
	Timeout  time.Duration
	Workers  int
	CacheTTL time.Duration
}

// Tester dials nodes concurrently and remembers the last result per node.
type Tester struct {
	opts   TesterOptions
	cache  *gocache.Cache
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	now    func() time.Time
	logger *slog.Logger
}

// NewTester creates a Tester.
func NewTester(opts TesterOptions, logger *slog.Logger) *Tester {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &net.Dialer{}
	return &Tester{
		opts:   opts,
		cache:  gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		dial:   d.DialContext,
		now:    time.Now,
		logger: logger,
	}
}

// Test measures every node and returns results in input order.
func (t *Tester) Test(ctx context.Context, nodes []node.Node) []Result {
	results := make([]Result, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Workers)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			results[i] = t.measure(gctx, i, n)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	t.logger.Info("latency test finished", "nodes", len(nodes), "reachable", ok)
	return results
}

func (t *Tester) measure(ctx context.Context, index int, n node.Node) Result {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	start := time.Now()
	conn, err := t.dial(ctx, "tcp", n.Address())
	res := Result{Index: index, Node: n, At: t.now()}
	if err != nil {
		res.Err = err
	} else {
		res.Latency = time.Since(start)
		_ = conn.Close()
	}

	if id := n.ID(); id != "" {
		t.cache.Set(id, res, gocache.DefaultExpiration)
	}
	return res
}

// Cached returns the last result for n, if still fresh.
func (t *Tester) Cached(n node.Node) (Result, bool) {
	v, ok := t.cache.Get(n.ID())
	if !ok {
		return Result{}, false
	}
	res, ok := v.(Result)
	return res, ok
}

// Sorted returns the reachable results fastest first, followed by failures
// in input order.
func Sorted(results []Result) []Result {
	out := append([]Result(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OK() != b.OK() {
			return a.OK()
		}
		if !a.OK() {
			return false
		}
		return a.Latency < b.Latency
	})
	return out
}

// Fastest returns the reachable result with the lowest latency.
func Fastest(results []Result) (Result, bool) {
	sorted := Sorted(results)
	if len(sorted) == 0 || !sorted[0].OK() {
		return Result{}, false
	}
	return sorted[0], true
}
