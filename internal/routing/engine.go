package routing

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/joestump/codex-helper/internal/classify"
	"github.com/joestump/codex-helper/internal/lbstate"
	"github.com/joestump/codex-helper/internal/proxyconfig"
	"github.com/joestump/codex-helper/internal/retrypolicy"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

// Attempt is one forward attempt's classification inputs, handed back by
// a ForwardFunc before the engine decides whether to retry.
type Attempt struct {
	StatusCode int
	Header     http.Header
	BodyPeek   []byte
	Err        error // non-nil: no HTTP response was received (transport error)
}

// AttemptHandle lets the engine defer committing (streaming to the
// client) or discarding (will retry) a single forward attempt, since the
// connection/response must stay open until the retry decision is made.
// Commit returns whatever usage counters and time-to-first-byte it could
// recover from the response (best-effort; both may be zero), per C8's
// streaming-tail parse.
type AttemptHandle struct {
	Attempt
	Commit func(w http.ResponseWriter) (sessionstate.Usage, time.Duration, error)
	Abort  func()
}

// ForwardFunc performs exactly one outbound attempt against upstream using
// upstreamModel as the (possibly rewritten) model name, per C8.
type ForwardFunc func(ctx context.Context, upstream *proxyconfig.UpstreamConfig, upstreamModel string) (AttemptHandle, error)

// Request is one inbound request's routing inputs.
type Request struct {
	Service       string
	SessionID     string
	ExternalModel string
}

// Result is the outcome handed back to the caller after routing completes.
type Result struct {
	StatusCode int
	ConfigName string
	Retry      sessionstate.RetryInfo
	Usage      sessionstate.Usage
	TTFB       time.Duration
}

// Engine ties C3–C7 together to select and retry (config, upstream) pairs
// for one request.
type Engine struct {
	Config   *proxyconfig.Store
	LB       *lbstate.Store
	Sessions *sessionstate.Store
	Now      func() int64 // injected for tests; defaults to time.Now in NewEngine
}

// NewEngine wires a routing Engine from its three stores.
func NewEngine(cfg *proxyconfig.Store, lb *lbstate.Store, sessions *sessionstate.Store) *Engine {
	return &Engine{Config: cfg, LB: lb, Sessions: sessions, Now: func() int64 { return time.Now().UnixMilli() }}
}

var errNoCandidate = errors.New("routing: no config candidate available")

// Route runs the full selection + two-layer retry loop for one request,
// per spec.md §4.7, and returns the terminal result once forward has been
// committed to the client.
func (e *Engine) Route(ctx context.Context, w http.ResponseWriter, req Request, forward ForwardFunc) (Result, error) {
	snap := e.Config.Snapshot()
	svc := snap.Service(req.Service)
	policy := retrypolicy.Resolve(snap.Retry)

	sessionOverride, _ := e.Sessions.SessionConfigOverride(req.SessionID)
	globalOverride, _ := e.Sessions.GlobalConfigOverride()

	_, cfgName, ok := startingConfig(svc, sessionOverride, globalOverride)
	if !ok {
		return Result{}, errNoCandidate
	}

	configOrder := buildConfigCandidates(svc)
	startIdx := indexOfConfig(configOrder, cfgName)

	result := sessionstate.RetryInfo{}
	var last Attempt
	var lastCfgName string

	// The provider (outer) layer's budget bounds how many distinct
	// configs are tried, not how many times one config is retried, per
	// spec.md §4.7 step 6: "escalate to the outer loop... pick the next
	// eligible config... and reset inner attempts." Capped at the number
	// of configs actually available, since wrapping past that would just
	// retry an already-exhausted config.
	maxConfigs := maxInt(policy.Provider.MaxAttempts, 1)
	if maxConfigs > len(configOrder) {
		maxConfigs = len(configOrder)
	}

	for i := 0; i < maxConfigs; i++ {
		candidate := configOrder[wrap(startIdx+i, len(configOrder))]
		cfgEntry := candidate.Entry
		cfgNameCur := candidate.Name

		stickyCfg, stickyIdx, sticky := e.Sessions.LastSuccessfulUpstream(req.Service, req.SessionID)
		useSticky := sticky && stickyCfg == cfgNameCur

		candidates := buildUpstreamCandidates(cfgNameCur, cfgEntry, req.ExternalModel, e.LB, e.Now(), stickyIdx, useSticky)
		if len(candidates) == 0 {
			continue
		}

		innerResult, attempt, attempted := e.runUpstreamLayer(ctx, w, cfgNameCur, cfgEntry, candidates, req, policy, &result, forward)
		if attempted {
			last = attempt
			lastCfgName = cfgNameCur
		}
		if innerResult != nil {
			return *innerResult, nil
		}

		if ctx.Err() != nil {
			return Result{StatusCode: 499, ConfigName: lastCfgName, Retry: result}, nil
		}

		// Inner loop exhausted without a terminal outcome: escalate to
		// the next provider-layer attempt (the next eligible config in
		// order).
		if !policy.ShouldRetry(policy.Provider, retrypolicy.Outcome{StatusCode: last.StatusCode, Class: classifyAttempt(last)}) {
			break
		}
	}

	status := last.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	return Result{StatusCode: status, ConfigName: lastCfgName, Retry: result}, nil
}

func (e *Engine) runUpstreamLayer(
	ctx context.Context,
	w http.ResponseWriter,
	cfgName string,
	entry *proxyconfig.ConfigEntry,
	candidates []upstreamCandidate,
	req Request,
	policy retrypolicy.Policy,
	retryInfo *sessionstate.RetryInfo,
	forward ForwardFunc,
) (terminal *Result, last Attempt, attempted bool) {
	candIdx := 0
	attempts := 0
	maxAttempts := maxInt(policy.Upstream.MaxAttempts, 1)

	for attempts < maxAttempts {
		if candIdx >= len(candidates) {
			break
		}
		cand := candidates[candIdx]
		attempts++
		attempted = true

		handle, err := forward(ctx, cand.Upstream, cand.UpstreamModel)
		if err != nil {
			// Could not even start the attempt (e.g. bad base_url); treat
			// as a transport failure for this upstream.
			e.LB.RecordFailure(cfgName, cand.Index, classify.ClassTransport, policy, e.Now())
			retryInfo.Attempts++
			retryInfo.UpstreamChain = append(retryInfo.UpstreamChain, cand.Upstream.BaseURL)
			last = Attempt{Err: err}
			if policy.Upstream.Strategy != retrypolicy.StrategySameUpstream {
				candIdx++
			}
			continue
		}

		last = handle.Attempt
		retryInfo.Attempts++
		retryInfo.UpstreamChain = append(retryInfo.UpstreamChain, cand.Upstream.BaseURL)

		if last.Err != nil {
			if errors.Is(last.Err, context.Canceled) {
				handle.Abort()
				return &Result{StatusCode: 499, ConfigName: cfgName, Retry: *retryInfo}, last, attempted
			}
			class, _ := classify.FromError(last.Err)
			e.LB.RecordFailure(cfgName, cand.Index, class, policy, e.Now())
		} else {
			class := classify.FromResponse(last.StatusCode, last.Header, last.BodyPeek)
			if class == classify.ClassOK {
				e.LB.RecordSuccess(cfgName, cand.Index)
			} else {
				e.LB.RecordFailure(cfgName, cand.Index, class, policy, e.Now())
			}
		}

		outcome := retrypolicy.Outcome{StatusCode: last.StatusCode, Class: classifyAttempt(last)}
		if !policy.ShouldRetry(policy.Upstream, outcome) {
			usage, ttfb, _ := handle.Commit(w)
			return &Result{StatusCode: last.StatusCode, ConfigName: cfgName, Retry: *retryInfo, Usage: usage, TTFB: ttfb}, last, attempted
		}

		handle.Abort()

		if policy.Upstream.Strategy != retrypolicy.StrategySameUpstream {
			candIdx++
		}
		if attempts < maxAttempts {
			sleepBackoff(ctx, policy.Upstream, attempts)
		}
	}
	return nil, last, attempted
}

func classifyAttempt(a Attempt) classify.Class {
	if a.Err != nil {
		class, _ := classify.FromError(a.Err)
		return class
	}
	return classify.FromResponse(a.StatusCode, a.Header, a.BodyPeek)
}

func sleepBackoff(ctx context.Context, layer retrypolicy.Layer, attempt int) {
	delayMs := layer.BackoffMs
	for i := 1; i < attempt; i++ {
		delayMs *= 2
		if layer.BackoffMaxMs > 0 && delayMs > layer.BackoffMaxMs {
			delayMs = layer.BackoffMaxMs
			break
		}
	}
	if layer.BackoffMaxMs > 0 && delayMs > layer.BackoffMaxMs {
		delayMs = layer.BackoffMaxMs
	}
	if layer.JitterMs > 0 {
		delayMs += rand.Intn(layer.JitterMs)
	}
	if delayMs <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func indexOfConfig(order []configCandidate, name string) int {
	for i, c := range order {
		if c.Name == name {
			return i
		}
	}
	return 0
}

func wrap(i, n int) int {
	if n == 0 {
		return 0
	}
	return ((i % n) + n) % n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
