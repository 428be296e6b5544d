// Package healthprobe is C11: on-demand upstream health probing, ported
// from original_source/crates/core/src/healthcheck.rs's env-tunable
// timeout/concurrency shape and GET .../models probe.
package healthprobe

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// dispatchLimiter paces outbound probe requests process-wide, independent
// of the concurrency semaphores below: those bound how many probes are
// in flight, this bounds how fast new ones start, so a config with many
// upstreams can't burst-dial a single provider's API all at once.
var dispatchLimiter = rate.NewLimiter(rate.Limit(20), 20)

// Result is one upstream's probe outcome.
type Result struct {
	BaseURL   string
	OK        bool
	StatusCode int
	LatencyMs int64
	Error     string
}

// envInt reads the first set of name, trims/parses it, rejects <=0, and
// falls back to def — mirroring healthcheck.rs's var-then-legacy-var
// lookup chain.
func envInt(def int, names ...string) int {
	for _, name := range names {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			continue
		}
		return n
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// TimeoutMs is the per-probe HTTP timeout, env-tunable, clamped [300,20000].
func TimeoutMs() int {
	n := envInt(2500, "CODEX_HELPER_HEALTHCHECK_TIMEOUT_MS", "CODEX_HELPER_TUI_HEALTHCHECK_TIMEOUT_MS")
	return clamp(n, 300, 20000)
}

// UpstreamConcurrency is how many upstreams within one config are probed
// concurrently, env-tunable, capped at 32.
func UpstreamConcurrency() int {
	n := envInt(4, "CODEX_HELPER_HEALTHCHECK_UPSTREAM_CONCURRENCY", "CODEX_HELPER_TUI_HEALTHCHECK_UPSTREAM_CONCURRENCY")
	if n > 32 {
		n = 32
	}
	return n
}

// maxInflightConfigs is how many configs may be health-checked at once
// process-wide, env-tunable, capped at 16.
func maxInflightConfigs() int {
	n := envInt(2, "CODEX_HELPER_HEALTHCHECK_MAX_INFLIGHT", "CODEX_HELPER_TUI_HEALTHCHECK_MAX_INFLIGHT")
	if n > 16 {
		n = 16
	}
	return n
}

var (
	configSemOnce sync.Once
	configSem     chan struct{}
)

// configSemaphore is the process-wide "at most N configs health-checking
// at once" gate, lazily sized on first use (mirrors the Rust OnceLock).
func configSemaphore() chan struct{} {
	configSemOnce.Do(func() {
		configSem = make(chan struct{}, maxInflightConfigs())
	})
	return configSem
}

func shortenErr(err string, max int) string {
	r := []rune(err)
	if len(r) <= max {
		return err
	}
	if max <= 0 {
		return ""
	}
	return string(r[:max-1]) + "…"
}

// probeURL builds base_url + "/models" with exactly one separating slash.
func probeURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	rel, err := url.Parse("models")
	if err != nil {
		return "", err
	}
	return u.ResolveReference(rel).String(), nil
}

func probeOne(ctx context.Context, client *http.Client, up *proxyconfig.UpstreamConfig) Result {
	out := Result{BaseURL: up.BaseURL}

	target, err := probeURL(up.BaseURL)
	if err != nil {
		out.Error = shortenErr("invalid base_url: "+err.Error(), 140)
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		out.Error = shortenErr(err.Error(), 140)
		return out
	}
	req.Header.Set("Accept", "application/json")
	up.Auth.ApplyAuthHeaders(func(name, value string) { req.Header.Set(name, value) })

	start := time.Now()
	resp, err := client.Do(req)
	out.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = shortenErr(err.Error(), 140)
		return out
	}
	defer resp.Body.Close()
	out.StatusCode = resp.StatusCode
	out.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !out.OK {
		out.Error = shortenErr("HTTP "+strconv.Itoa(resp.StatusCode), 140)
	}
	return out
}

// ResultSink receives each probe result as it completes, so a caller (the
// control API) can stream results to a cancelable in-progress check rather
// than waiting for the whole config to finish.
type ResultSink func(Result)

// CancelCheck is polled between results; returning true stops the config
// probe early (spec.md §4.10's /healthcheck/cancel).
type CancelCheck func() bool

// RunForConfig probes every upstream in upstreams with bounded
// concurrency, feeding each result to sink as it arrives and stopping
// early if cancel returns true. Returns whether the run was canceled.
func RunForConfig(ctx context.Context, upstreams []*proxyconfig.UpstreamConfig, sink ResultSink, cancel CancelCheck) bool {
	sem := configSemaphore()
	sem <- struct{}{}
	defer func() { <-sem }()

	timeout := time.Duration(TimeoutMs()) * time.Millisecond
	client := &http.Client{Timeout: timeout}

	upstreamSem := make(chan struct{}, UpstreamConcurrency())
	results := make(chan Result, len(upstreams))
	var wg sync.WaitGroup

	probeCtx, stop := context.WithCancel(ctx)
	defer stop()

	for _, up := range upstreams {
		up := up
		wg.Add(1)
		upstreamSem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-upstreamSem }()
			if err := dispatchLimiter.Wait(probeCtx); err != nil {
				results <- Result{BaseURL: up.BaseURL, Error: shortenErr(err.Error(), 140)}
				return
			}
			results <- probeOne(probeCtx, client, up)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	canceled := false
	for r := range results {
		sink(r)
		if cancel != nil && cancel() {
			canceled = true
			stop()
			// Drain remaining results so the goroutines above don't leak
			// sending to a channel nobody reads.
			go func() {
				for range results {
				}
			}()
			break
		}
	}
	return canceled
}
