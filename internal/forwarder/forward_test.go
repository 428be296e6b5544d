package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

func TestJoinURL(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"https://api.example.com", "/v1/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/", "/v1/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com", "v1/chat/completions", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com", "", "https://api.example.com"},
	}
	for _, c := range cases {
		if got := joinURL(c.base, c.path); got != c.want {
			t.Errorf("joinURL(%q, %q) = %q, want %q", c.base, c.path, got, c.want)
		}
	}
}

func TestAttemptRewritesModelAndForwardsBody(t *testing.T) {
	var gotModel string
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var parsed map[string]interface{}
		json.Unmarshal(body, &parsed)
		gotModel, _ = parsed["model"].(string)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := New()
	inbound := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	body := []byte(`{"model":"gpt-4o","messages":[]}`)

	up := &proxyconfig.UpstreamConfig{
		BaseURL: upstream.URL,
		Auth:    proxyconfig.UpstreamAuth{AuthToken: "secret-token"},
	}

	forward := f.Build(inbound, body, "")
	handle, err := forward(context.Background(), up, "gpt-4.1")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if handle.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", handle.StatusCode)
	}
	rec := httptest.NewRecorder()
	if _, _, err := handle.Commit(rec); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if gotModel != "gpt-4.1" {
		t.Fatalf("expected upstream to receive rewritten model gpt-4.1, got %s", gotModel)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected Authorization: Bearer secret-token, got %q", gotAuth)
	}
}

func TestAttemptAppliesEffortOverride(t *testing.T) {
	var gotEffort string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var parsed map[string]interface{}
		json.Unmarshal(body, &parsed)
		gotEffort, _ = parsed["reasoning_effort"].(string)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := New()
	inbound := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	body := []byte(`{"model":"gpt-4o","reasoning_effort":"low"}`)
	up := &proxyconfig.UpstreamConfig{BaseURL: upstream.URL}

	forward := f.Build(inbound, body, "high")
	handle, err := forward(context.Background(), up, "gpt-4o")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	rec := httptest.NewRecorder()
	handle.Commit(rec)
	if gotEffort != "high" {
		t.Fatalf("expected reasoning_effort overridden to high, got %s", gotEffort)
	}
}

func TestAttemptFallsBackToInboundAuthorizationHeader(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := New()
	inbound := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(""))
	inbound.Header.Set("Authorization", "Bearer inbound-token")
	up := &proxyconfig.UpstreamConfig{BaseURL: upstream.URL}

	forward := f.Build(inbound, nil, "")
	handle, err := forward(context.Background(), up, "gpt-4o")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	rec := httptest.NewRecorder()
	handle.Commit(rec)
	if gotAuth != "Bearer inbound-token" {
		t.Fatalf("expected inbound Authorization header to pass through, got %q", gotAuth)
	}
}

func TestAttemptDropsHopByHopHeaders(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := New()
	inbound := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	inbound.Header.Set("Connection", "keep-alive")
	up := &proxyconfig.UpstreamConfig{BaseURL: upstream.URL}

	forward := f.Build(inbound, nil, "")
	handle, err := forward(context.Background(), up, "gpt-4o")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	rec := httptest.NewRecorder()
	handle.Commit(rec)
	if gotConnection != "" {
		t.Fatalf("expected Connection header to be dropped, got %q", gotConnection)
	}
}

func TestAttemptTransportErrorReturnsNoResponse(t *testing.T) {
	f := New()
	inbound := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	up := &proxyconfig.UpstreamConfig{BaseURL: "http://127.0.0.1:1"}

	forward := f.Build(inbound, nil, "")
	handle, err := forward(context.Background(), up, "gpt-4o")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if handle.Err == nil {
		t.Fatal("expected a transport error for an unroutable upstream")
	}
}
