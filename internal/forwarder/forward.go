// Package forwarder is C8: builds the outbound request, streams the body
// bidirectionally, measures TTFB/duration, and captures usage. Request
// construction/header-injection style is grounded on
// joestump-claude-ops/internal/gitprovider/github.go's doJSON helper,
// generalized to a streaming (non-buffered) response body modeled on
// internal/web/chat_handler.go's SSE-forwarding loop (see DESIGN.md).
package forwarder

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joestump/codex-helper/internal/proxyconfig"
	"github.com/joestump/codex-helper/internal/routing"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

// hopByHop headers are never copied from the inbound request, per
// spec.md §4.8.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
}

// errBodyPeekLimit bounds how much of an error response body is read into
// memory for classification (Cloudflare sniffing, diagnostics).
const errBodyPeekLimit = 8192

// Forwarder builds and issues outbound requests against upstreams.
type Forwarder struct {
	Client           *http.Client
	InboundPrefixLen int // length of a leading path prefix (after the first '/') that attempt drops before joining onto base_url; 0 when the whole inbound path is forwarded as-is
}

// New returns a Forwarder sharing one process-wide HTTP client with a
// bounded per-host connection pool, per spec.md §5/§6.
func New() *Forwarder {
	return &Forwarder{
		Client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
			},
			// No hard overall timeout: LLM responses stream long, per
			// spec.md §5. Idle-chunk timeouts are enforced by the
			// streaming copy loop below (see copyStreamWithUsage).
		},
	}
}

// joinURL builds base_url + path with exactly one '/' separator, per
// spec.md §4.8.
func joinURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	p := strings.TrimLeft(path, "/")
	if p == "" {
		return base
	}
	return base + "/" + p
}

// Build returns a routing.ForwardFunc closed over one inbound request,
// suitable for passing to routing.Engine.Route. effortOverride is the
// session's pinned reasoning effort, if any ("" to leave the body's
// reasoning_effort field untouched).
func (f *Forwarder) Build(inbound *http.Request, inboundBody []byte, effortOverride string) routing.ForwardFunc {
	return func(ctx context.Context, upstream *proxyconfig.UpstreamConfig, upstreamModel string) (routing.AttemptHandle, error) {
		return f.attempt(ctx, inbound, inboundBody, upstream, upstreamModel, effortOverride)
	}
}

func (f *Forwarder) attempt(ctx context.Context, inbound *http.Request, inboundBody []byte, upstream *proxyconfig.UpstreamConfig, upstreamModel, effortOverride string) (routing.AttemptHandle, error) {
	body, err := rewriteModel(inboundBody, upstreamModel)
	if err != nil {
		// Byte fidelity is preserved on any rewrite failure, per
		// spec.md §4.8.
		body = inboundBody
	}
	if effortOverride != "" {
		if rewritten, err := rewriteEffort(body, effortOverride); err == nil {
			body = rewritten
		}
	}

	outURL := joinURL(upstream.BaseURL, strings.TrimPrefix(inbound.URL.Path, "/")[f.InboundPrefixLen:])
	outReq, err := http.NewRequestWithContext(ctx, inbound.Method, outURL, bytes.NewReader(body))
	if err != nil {
		return routing.AttemptHandle{}, err
	}
	copyHeaders(outReq.Header, inbound.Header)
	outReq.ContentLength = int64(len(body))

	applied := upstream.Auth.ApplyAuthHeaders(func(name, value string) { outReq.Header.Set(name, value) })
	if !applied {
		if auth := inbound.Header.Get("Authorization"); auth != "" {
			outReq.Header.Set("Authorization", auth)
		}
	}

	start := time.Now()
	resp, err := f.Client.Do(outReq)
	if err != nil {
		return routing.AttemptHandle{Attempt: routing.Attempt{Err: err}}, nil
	}
	ttfb := time.Since(start)

	if resp.StatusCode >= 300 {
		peek, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyPeekLimit))
		return routing.AttemptHandle{
			Attempt: routing.Attempt{StatusCode: resp.StatusCode, Header: resp.Header, BodyPeek: peek},
			Commit: func(w http.ResponseWriter) (sessionstate.Usage, time.Duration, error) {
				err := commitBuffered(w, resp, peek)
				return sessionstate.Usage{}, ttfb, err
			},
			Abort: func() { resp.Body.Close() },
		}, nil
	}

	return routing.AttemptHandle{
		Attempt: routing.Attempt{StatusCode: resp.StatusCode, Header: resp.Header},
		Commit: func(w http.ResponseWriter) (sessionstate.Usage, time.Duration, error) {
			return commitStream(w, resp, ttfb)
		},
		Abort: func() { resp.Body.Close() },
	}, nil
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), "proxy-") {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func commitBuffered(w http.ResponseWriter, resp *http.Response, body []byte) error {
	defer resp.Body.Close()
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, err := w.Write(body)
	return err
}

func commitStream(w http.ResponseWriter, resp *http.Response, ttfb time.Duration) (sessionstate.Usage, time.Duration, error) {
	defer resp.Body.Close()
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	usage, err := copyStreamWithUsage(w, resp.Body)
	return usage, ttfb, err
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// copyStreamWithUsage streams src to w without full buffering, flushing
// after each chunk so Server-Sent-Events / chunked-JSONL responses reach
// the client incrementally (modeled on internal/web/chat_handler.go's
// handleChatStream loop), while feeding every chunk to the best-effort
// usage-counter scanner so the tail-of-stream usage payload is captured
// without delaying delivery, per spec.md §4.8/§4.9.
func copyStreamWithUsage(w http.ResponseWriter, src io.Reader) (sessionstate.Usage, error) {
	flusher, _ := w.(http.Flusher)
	scanner := newUsageScanner()
	buf := make([]byte, 32*1024)
	// An upstream that sends nothing for idleChunkTimeout has its body
	// closed, which ends the pending Read with an error.
	const idleChunkTimeout = 5 * time.Minute
	var idle *time.Timer
	if c, ok := src.(io.Closer); ok {
		idle = time.AfterFunc(idleChunkTimeout, func() { _ = c.Close() })
		defer idle.Stop()
	}
	for {
		n, err := src.Read(buf)
		if idle != nil {
			idle.Reset(idleChunkTimeout)
		}
		if n > 0 {
			chunk := buf[:n]
			if _, werr := w.Write(chunk); werr != nil {
				return scanner.usage, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
			scanner.feed(chunk)
		}
		if err != nil {
			if err == io.EOF {
				return scanner.usage, nil
			}
			return scanner.usage, err
		}
	}
}
