package healthprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

func TestProbeURLAppendsModelsPath(t *testing.T) {
	cases := []struct{ base, want string }{
		{"https://api.example.com", "https://api.example.com/models"},
		{"https://api.example.com/v1", "https://api.example.com/v1/models"},
		{"https://api.example.com/v1/", "https://api.example.com/v1/models"},
	}
	for _, c := range cases {
		got, err := probeURL(c.base)
		if err != nil {
			t.Fatalf("probeURL(%q): %v", c.base, err)
		}
		if got != c.want {
			t.Errorf("probeURL(%q) = %q, want %q", c.base, got, c.want)
		}
	}
}

func TestRunForConfigReportsOKAndFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	upstreams := []*proxyconfig.UpstreamConfig{
		{BaseURL: ok.URL},
		{BaseURL: bad.URL},
	}

	var mu sync.Mutex
	results := map[string]Result{}
	canceled := RunForConfig(context.Background(), upstreams, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results[r.BaseURL] = r
	}, nil)
	if canceled {
		t.Fatal("expected run to complete without cancellation")
	}
	if !results[ok.URL].OK {
		t.Fatalf("expected ok upstream to report OK, got %+v", results[ok.URL])
	}
	if results[bad.URL].OK {
		t.Fatalf("expected failing upstream to report not-OK, got %+v", results[bad.URL])
	}
	if results[bad.URL].StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500 recorded, got %d", results[bad.URL].StatusCode)
	}
}

func TestRunForConfigHonorsCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	upstreams := []*proxyconfig.UpstreamConfig{{BaseURL: srv.URL}, {BaseURL: srv.URL}, {BaseURL: srv.URL}}

	seen := 0
	canceled := RunForConfig(context.Background(), upstreams, func(r Result) {
		seen++
	}, func() bool { return seen >= 1 })
	if !canceled {
		t.Fatal("expected cancel=true once the CancelCheck tripped")
	}
}

func TestShortenErr(t *testing.T) {
	if got := shortenErr("short", 140); got != "short" {
		t.Fatalf("expected short string untouched, got %q", got)
	}
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	got := shortenErr(string(long), 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected truncated length 10, got %d (%q)", len([]rune(got)), got)
	}
}
