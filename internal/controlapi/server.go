// Package controlapi is C10: the loopback-bound JSON control surface that
// external UIs (and the switch/config CLI subcommands) poll for status and
// use to push overrides. Handler shape (writeJSON/writeError/requireJSON,
// one handler-per-route method) is grounded on
// joestump-claude-ops/internal/web/api_handlers.go.
package controlapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/joestump/codex-helper/internal/healthprobe"
	"github.com/joestump/codex-helper/internal/lbstate"
	"github.com/joestump/codex-helper/internal/proxyconfig"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

// Server is the control API's HTTP surface for one service (codex or
// claude). It is bound to loopback only by its caller (cmd/codexhelper).
type Server struct {
	service  string
	port     int
	cfg      *proxyconfig.Store
	lb       *lbstate.Store
	sessions *sessionstate.Store
	mux      *http.ServeMux
	server   *http.Server

	hcMu     sync.Mutex
	hcCancel map[string]func()
}

// New wires a control API server for one service, at path prefix
// "/__codex_helper/", per spec.md §4.10.
func New(service string, port int, cfg *proxyconfig.Store, lb *lbstate.Store, sessions *sessionstate.Store) *Server {
	s := &Server{
		service:  service,
		port:     port,
		cfg:      cfg,
		lb:       lb,
		sessions: sessions,
		mux:      http.NewServeMux(),
		hcCancel: map[string]func(){},
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-poll/streaming clients of this API are not expected, but status reads should never be cut short either
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	const prefix = "/__codex_helper"
	s.mux.HandleFunc("GET "+prefix+"/status", s.handleStatus)
	s.mux.HandleFunc("GET "+prefix+"/status/recent", s.handleStatusRecent)
	s.mux.HandleFunc("GET "+prefix+"/status/active", s.handleStatusActive)
	s.mux.HandleFunc("POST "+prefix+"/reload", s.handleReload)
	s.mux.HandleFunc("POST "+prefix+"/override/global", s.handleOverrideGlobal)
	s.mux.HandleFunc("POST "+prefix+"/override/session/config", s.handleOverrideSessionConfig)
	s.mux.HandleFunc("POST "+prefix+"/override/session/effort", s.handleOverrideSessionEffort)
	s.mux.HandleFunc("POST "+prefix+"/healthcheck/start", s.handleHealthcheckStart)
	s.mux.HandleFunc("POST "+prefix+"/healthcheck/cancel", s.handleHealthcheckCancel)
	s.mux.HandleFunc("GET "+prefix+"/openapi.yaml", s.handleOpenAPISpec)
}

// Handler returns the control API's mux so a caller can mount it under a
// shared listener alongside the inbound proxy handler, per spec.md §6's
// single-port "/__codex_helper/ prefix interception" — Start/Shutdown
// below remain for standalone use (e.g. tests that don't need the proxy
// side at all).
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving HTTP requests. It blocks until shut down.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// healthprobeRunner is satisfied by healthprobe.RunForConfig; declared as
// a var so tests can substitute a fast fake.
var healthprobeRunner = healthprobe.RunForConfig
