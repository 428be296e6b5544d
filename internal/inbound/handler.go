// Package inbound is the HTTP entrypoint that receives client requests
// (Codex CLI / Claude Code), extracts the routing-relevant fields, and
// hands them to the routing engine. The package provides only the
// http.Handler; the listener and server lifecycle live in
// cmd/codexhelper/serve.go.
package inbound

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/joestump/codex-helper/internal/forwarder"
	"github.com/joestump/codex-helper/internal/routing"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// maxInboundBodyBytes bounds how much of an inbound body is buffered
// before forwarding. Chat/completions payloads are small text; this is
// generous headroom, not a streaming-upload proxy.
const maxInboundBodyBytes = 32 * 1024 * 1024

// requestMeta is what's pulled out of an inbound request for routing and
// observability, per spec.md §3/§9's session-id-extraction design note.
type requestMeta struct {
	SessionID string
	Model     string
	Effort    string
	CWD       string
}

// Handler proxies one service's inbound requests through the routing
// engine and forwarder, recording active/finished requests into the
// session store.
type Handler struct {
	Service   string
	Engine    *routing.Engine
	Forwarder *forwarder.Forwarder
	Sessions  *sessionstate.Store
	Now       func() int64
}

// New builds a Handler for one service.
func New(service string, engine *routing.Engine, fwd *forwarder.Forwarder, sessions *sessionstate.Store) *Handler {
	return &Handler{
		Service:   service,
		Engine:    engine,
		Forwarder: fwd,
		Sessions:  sessions,
		Now:       func() int64 { return time.Now().UnixMilli() },
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	w.Header().Set("X-Codex-Helper-Request-Id", traceID)
	startedAtMs := h.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBodyBytes+1))
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxInboundBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	meta := extractMeta(r, body)
	effort := meta.Effort
	if override, ok := h.Sessions.SessionEffortOverride(meta.SessionID); ok {
		effort = override
	}

	id := h.Sessions.NextID()
	active := &sessionstate.ActiveRequest{
		ID:              id,
		Service:         h.Service,
		Method:          r.Method,
		Path:            r.URL.Path,
		StartedAtMs:     startedAtMs,
		SessionID:       meta.SessionID,
		CWD:             meta.CWD,
		Model:           meta.Model,
		ReasoningEffort: effort,
	}
	h.Sessions.Enqueue(active)
	defer h.Sessions.Dequeue(id)

	forward := h.Forwarder.Build(r, body, effort)
	result, err := h.Engine.Route(r.Context(), w, routing.Request{
		Service:       h.Service,
		SessionID:     meta.SessionID,
		ExternalModel: meta.Model,
	}, forward)
	endedAtMs := h.Now()
	if err != nil {
		log.Printf("inbound[%s]: routing error for %s %s: %v", traceID, r.Method, r.URL.Path, err)
		http.Error(w, "no upstream available", http.StatusBadGateway)
		result.StatusCode = http.StatusBadGateway
	}

	fr := sessionstate.FinishedRequest{
		ID:              id,
		Service:         h.Service,
		Method:          r.Method,
		Path:            r.URL.Path,
		StartedAtMs:     startedAtMs,
		EndedAtMs:       endedAtMs,
		StatusCode:      result.StatusCode,
		DurationMs:      endedAtMs - startedAtMs,
		SessionID:       meta.SessionID,
		CWD:             meta.CWD,
		Model:           meta.Model,
		ReasoningEffort: effort,
		ConfigName:      result.ConfigName,
		Retry:           result.Retry,
	}
	if result.TTFB > 0 {
		ttfbMs := result.TTFB.Milliseconds()
		fr.TTFBMs = &ttfbMs
	}
	if result.Usage != (sessionstate.Usage{}) {
		usage := result.Usage
		fr.Usage = &usage
	}
	if len(result.Retry.UpstreamChain) > 0 {
		fr.UpstreamBaseURL = result.Retry.UpstreamChain[len(result.Retry.UpstreamChain)-1]
	}
	h.Sessions.Finish(fr)
}

// extractMeta pulls session id, model, reasoning effort, and cwd from the
// request. Session id checks headers first (X-Session-Id, X-Thread-Id)
// then falls back to a JSON body field; it is never synthesized, per
// spec.md §9.
func extractMeta(r *http.Request, body []byte) requestMeta {
	meta := requestMeta{}
	meta.SessionID = r.Header.Get("X-Session-Id")
	if meta.SessionID == "" {
		meta.SessionID = r.Header.Get("X-Thread-Id")
	}
	meta.CWD = r.Header.Get("X-Codex-Cwd")

	if len(body) == 0 {
		return meta
	}
	var generic map[string]interface{}
	if err := fastJSON.Unmarshal(body, &generic); err != nil {
		return meta
	}
	if meta.SessionID == "" {
		if v, ok := generic["session_id"].(string); ok {
			meta.SessionID = v
		}
	}
	if v, ok := generic["model"].(string); ok {
		meta.Model = v
	}
	if v, ok := generic["reasoning_effort"].(string); ok {
		meta.Effort = v
	}
	if meta.CWD == "" {
		if v, ok := generic["cwd"].(string); ok {
			meta.CWD = v
		}
	}
	return meta
}
