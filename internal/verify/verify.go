// Package verify smoke-tests the HTTP endpoints of the patched application.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/opensandbox/ptyctl/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultPaths are the application endpoints checked when none are given.
var DefaultPaths = []string{
	"/api/health",
	"/api/dao",
	"/api/council",
	"/api/proposals",
	"/api/agreements",
	"/api/milestones",
	"/api/marketplace",
	"/api/knowledge",
	"/api/bounties",
	"/api/bubbles",
	"/api/treasury",
	"/api/token-distribution",
	"/api/token-distribution/history",
	"/api/admin/logs",
	"/api/brain/status",
	"/api/brain/personas",
	"/api/modules",
	"/api/modules/registry",
	"/api/signatures",
}

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Second
	maxBody            = 1 << 20
)

// Check is the outcome of one endpoint request.
type Check struct {
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`
	Shape     string        `json:"shape,omitempty"`
	Keys      []string      `json:"keys,omitempty"`
	Count     int           `json:"count"` // rows in a "data" array, -1 if none
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Options configures Run.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Header      http.Header
}

// Summary counts passed and failed checks.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summarize counts the results.
func Summarize(checks []Check) Summary {
	var s Summary
	for _, c := range checks {
		if c.OK {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// Run requests every path on baseURL with bounded concurrency. Results are
// returned in the order of paths. A failing endpoint never stops the others;
// the error is only non-nil when ctx ends first.
func Run(ctx context.Context, baseURL string, paths []string, opts Options) ([]Check, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	base := strings.TrimRight(baseURL, "/")

	results := make([]Check, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, p := range paths {
		g.Go(func() error {
			results[i] = check(gctx, hc, base, p, opts.Header)
			return nil
		})
	}
	g.Wait()
	return results, ctx.Err()
}

func check(ctx context.Context, hc *http.Client, base, path string, header http.Header) Check {
	c := Check{Path: path, Count: -1, CheckedAt: time.Now().UTC()}
	defer func() {
		result := "pass"
		if !c.OK {
			result = "fail"
		}
		metrics.EndpointChecksTotal.WithLabelValues(result).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		c.Error = err.Error()
		return c
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.Latency = time.Since(start)
		c.Error = err.Error()
		return c
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.Latency = time.Since(start)
	c.Status = resp.StatusCode
	if err != nil {
		c.Error = fmt.Sprintf("read body: %v", err)
		return c
	}

	c.Shape, c.Keys, c.Count = shapeOf(body)
	c.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !c.OK {
		c.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return c
}

// shapeOf describes a JSON body: "object", "array[n]", a scalar kind or
// "non-json". For objects it also returns the sorted keys and the length
// of a "data" array when present.
func shapeOf(body []byte) (string, []string, int) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return "non-json", nil, -1
	}
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		count := -1
		if data, ok := t["data"].([]interface{}); ok {
			count = len(data)
		}
		return "object", keys, count
	case []interface{}:
		return fmt.Sprintf("array[%d]", len(t)), nil, len(t)
	case nil:
		return "null", nil, -1
	case string:
		return "string", nil, -1
	case float64:
		return "number", nil, -1
	case bool:
		return "bool", nil, -1
	}
	return "unknown", nil, -1
}
