package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joestump/codex-helper/internal/classify"
	"github.com/joestump/codex-helper/internal/lbstate"
	"github.com/joestump/codex-helper/internal/proxyconfig"
	"github.com/joestump/codex-helper/internal/retrypolicy"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

func newTestStore(t *testing.T, cfg *proxyconfig.ProxyConfig) *proxyconfig.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := proxyconfig.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg.Normalize()
	if err := store.Swap(cfg); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	return store
}

func singleUpstreamConfig(baseURL string) *proxyconfig.ProxyConfig {
	cfg := proxyconfig.Default()
	cfg.Codex.Active = "primary"
	cfg.Codex.Configs["primary"] = &proxyconfig.ConfigEntry{
		Name:    "primary",
		Enabled: true,
		Level:   1,
		Upstreams: []*proxyconfig.UpstreamConfig{
			{BaseURL: baseURL},
		},
	}
	return cfg
}

func newEngine(t *testing.T, cfg *proxyconfig.ProxyConfig) *Engine {
	t.Helper()
	store := newTestStore(t, cfg)
	return NewEngine(store, lbstate.New(), sessionstate.New())
}

// scriptedForward returns a ForwardFunc that replays statusCodes in order,
// one per call, each committed as a plain 0-length body response.
func scriptedForward(t *testing.T, statusCodes []int) ForwardFunc {
	t.Helper()
	call := 0
	return func(ctx context.Context, upstream *proxyconfig.UpstreamConfig, upstreamModel string) (AttemptHandle, error) {
		if call >= len(statusCodes) {
			t.Fatalf("scriptedForward: exhausted script at call %d", call)
		}
		status := statusCodes[call]
		call++
		return AttemptHandle{
			Attempt: Attempt{StatusCode: status},
			Commit: func(w http.ResponseWriter) (sessionstate.Usage, time.Duration, error) {
				w.WriteHeader(status)
				return sessionstate.Usage{}, 0, nil
			},
			Abort: func() {},
		}, nil
	}
}

func TestRouteBasicPassthrough(t *testing.T) {
	cfg := singleUpstreamConfig("https://up.example.com")
	e := newEngine(t, cfg)

	w := httptest.NewRecorder()
	result, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, scriptedForward(t, []int{200}))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.ConfigName != "primary" {
		t.Fatalf("expected config primary, got %s", result.ConfigName)
	}
	if result.Retry.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Retry.Attempts)
	}
}

func TestRoute429RetriesSameUpstream(t *testing.T) {
	// Scenario 2: a 429 retries against the same upstream and eventually
	// succeeds within the balanced profile's same_upstream strategy.
	cfg := singleUpstreamConfig("https://up.example.com")
	e := newEngine(t, cfg)

	w := httptest.NewRecorder()
	result, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, scriptedForward(t, []int{429, 200}))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.StatusCode != 200 {
		t.Fatalf("expected eventual 200, got %d", result.StatusCode)
	}
	if result.Retry.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", result.Retry.Attempts)
	}
}

func TestRouteFailoverAcrossUpstreamsOn524(t *testing.T) {
	// Scenario 3: a 524 (Cloudflare timeout) is retried on the same
	// upstream for the upstream layer's attempt budget (balanced profile's
	// same_upstream strategy, max=2); once that budget is exhausted the
	// provider layer escalates to the next distinct, lower-priority
	// config — the literal scenario's two-config chain [A0, A0, B0], not
	// a same-config upstream swap.
	cfg := proxyconfig.Default()
	cfg.Codex.Active = "providerA"
	cfg.Codex.Configs["providerA"] = &proxyconfig.ConfigEntry{
		Name: "providerA", Enabled: true, Level: 1,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://a.example.com"}},
	}
	cfg.Codex.Configs["providerB"] = &proxyconfig.ConfigEntry{
		Name: "providerB", Enabled: true, Level: 2,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://b.example.com"}},
	}
	e := newEngine(t, cfg)

	w := httptest.NewRecorder()
	result, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, scriptedForward(t, []int{524, 524, 200}))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.StatusCode != 200 {
		t.Fatalf("expected eventual 200, got %d", result.StatusCode)
	}
	if result.ConfigName != "providerB" {
		t.Fatalf("expected the provider layer to land on providerB, got %s", result.ConfigName)
	}
	chain := result.Retry.UpstreamChain
	if len(chain) != 3 {
		t.Fatalf("expected 3 attempts in chain, got %+v", chain)
	}
	if chain[0] != "https://a.example.com" || chain[1] != "https://a.example.com" {
		t.Fatalf("expected two same-upstream retries against providerA first, got %+v", chain)
	}
	if chain[2] != "https://b.example.com" {
		t.Fatalf("expected the third attempt on the next distinct config's upstream, got %+v", chain)
	}
}

func TestRouteProviderLayerBoundsDistinctConfigsTried(t *testing.T) {
	// The provider layer's max_attempts bounds how many distinct configs
	// are tried, not how many times a single config is retried. With
	// three enabled configs and the balanced profile's provider
	// max_attempts=2, a third (lowest-priority) config must never be
	// reached.
	cfg := proxyconfig.Default()
	cfg.Codex.Active = "providerA"
	cfg.Codex.Configs["providerA"] = &proxyconfig.ConfigEntry{
		Name: "providerA", Enabled: true, Level: 1,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://a.example.com"}},
	}
	cfg.Codex.Configs["providerB"] = &proxyconfig.ConfigEntry{
		Name: "providerB", Enabled: true, Level: 2,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://b.example.com"}},
	}
	cfg.Codex.Configs["providerC"] = &proxyconfig.ConfigEntry{
		Name: "providerC", Enabled: true, Level: 3,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://c.example.com"}},
	}
	e := newEngine(t, cfg)

	w := httptest.NewRecorder()
	result, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, scriptedForward(t, []int{524, 524, 524, 524}))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.ConfigName == "providerC" {
		t.Fatalf("expected provider layer to stop after 2 distinct configs, never reaching providerC, got %+v", result.Retry.UpstreamChain)
	}
	chain := result.Retry.UpstreamChain
	if len(chain) != 4 {
		t.Fatalf("expected 4 attempts (2 configs x 2 same-upstream retries each), got %+v", chain)
	}
	for _, baseURL := range chain {
		if baseURL == "https://c.example.com" {
			t.Fatalf("expected providerC's upstream never attempted, got %+v", chain)
		}
	}
}

func TestRouteCooldownSkipsFailedUpstream(t *testing.T) {
	// Scenario 4: an upstream already in cooldown is skipped in favor of
	// an available one.
	cfg := proxyconfig.Default()
	cfg.Codex.Active = "primary"
	cfg.Codex.Configs["primary"] = &proxyconfig.ConfigEntry{
		Name:    "primary",
		Enabled: true,
		Level:   1,
		Upstreams: []*proxyconfig.UpstreamConfig{
			{BaseURL: "https://a.example.com"},
			{BaseURL: "https://b.example.com"},
		},
	}
	store := newTestStore(t, cfg)
	lb := lbstate.New()
	policy := retrypolicy.Resolve(store.Snapshot().Retry)
	lb.RecordFailure("primary", 0, classify.ClassCloudflareTimeout, policy, 0)

	e := NewEngine(store, lb, sessionstate.New())
	e.Now = func() int64 { return 0 }

	w := httptest.NewRecorder()
	result, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, scriptedForward(t, []int{200}))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.Retry.UpstreamChain[0] != "https://b.example.com" {
		t.Fatalf("expected cooled-down upstream a to be skipped, got %s", result.Retry.UpstreamChain[0])
	}
}

func TestRouteSessionOverridePrecedence(t *testing.T) {
	// Scenario 6: a session config override takes precedence over the
	// service's active config.
	cfg := proxyconfig.Default()
	cfg.Codex.Active = "primary"
	cfg.Codex.Configs["primary"] = &proxyconfig.ConfigEntry{
		Name: "primary", Enabled: true, Level: 1,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://primary.example.com"}},
	}
	cfg.Codex.Configs["backup"] = &proxyconfig.ConfigEntry{
		Name: "backup", Enabled: true, Level: 2,
		Upstreams: []*proxyconfig.UpstreamConfig{{BaseURL: "https://backup.example.com"}},
	}
	store := newTestStore(t, cfg)
	sessions := sessionstate.New()
	sessions.SetSessionConfigOverride("sess-1", "backup")
	e := NewEngine(store, lbstate.New(), sessions)

	w := httptest.NewRecorder()
	result, err := e.Route(context.Background(), w, Request{Service: "codex", SessionID: "sess-1", ExternalModel: "gpt-4o"}, scriptedForward(t, []int{200}))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.ConfigName != "backup" {
		t.Fatalf("expected session override to select backup, got %s", result.ConfigName)
	}
}

func TestRouteModelMappingRewritesUpstreamModel(t *testing.T) {
	cfg := proxyconfig.Default()
	cfg.Codex.Active = "primary"
	cfg.Codex.Configs["primary"] = &proxyconfig.ConfigEntry{
		Name: "primary", Enabled: true, Level: 1,
		Upstreams: []*proxyconfig.UpstreamConfig{
			{
				BaseURL:         "https://up.example.com",
				ModelMapping:    map[string]string{"gpt-4*": "gpt-4.1"},
				SupportedModels: map[string]bool{"gpt-4.1": true},
			},
		},
	}
	e := newEngine(t, cfg)

	var gotModel string
	forward := func(ctx context.Context, upstream *proxyconfig.UpstreamConfig, upstreamModel string) (AttemptHandle, error) {
		gotModel = upstreamModel
		return AttemptHandle{
			Attempt: Attempt{StatusCode: 200},
			Commit: func(w http.ResponseWriter) (sessionstate.Usage, time.Duration, error) {
				w.WriteHeader(200)
				return sessionstate.Usage{}, 0, nil
			},
			Abort: func() {},
		}, nil
	}

	w := httptest.NewRecorder()
	_, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, forward)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if gotModel != "gpt-4.1" {
		t.Fatalf("expected rewritten model gpt-4.1, got %s", gotModel)
	}
}

func TestRouteNoCandidateReturnsError(t *testing.T) {
	cfg := proxyconfig.Default() // no configs at all
	e := newEngine(t, cfg)

	w := httptest.NewRecorder()
	_, err := e.Route(context.Background(), w, Request{Service: "codex", ExternalModel: "gpt-4o"}, scriptedForward(t, nil))
	if !errors.Is(err, errNoCandidate) {
		t.Fatalf("expected errNoCandidate, got %v", err)
	}
}
