package controlapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/joestump/codex-helper/internal/classify"
	"github.com/joestump/codex-helper/internal/healthprobe"
	"github.com/joestump/codex-helper/internal/proxyconfig"
	"github.com/joestump/codex-helper/internal/retrypolicy"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

func retrypolicyFor(cfg *proxyconfig.Store) retrypolicy.Policy {
	return retrypolicy.Resolve(cfg.Snapshot().Retry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("controlapi: writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{OK: false, Error: message})
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// handleStatus serves GET /status: service, port, api_version, every config
// with its upstreams' LB availability, the global override, and the two
// stats windows, per spec.md §4.10. Per-session overrides are not included,
// and StatusUpstream.LastHealth is never set: probe results show only
// through the LB availability they recorded.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Snapshot()
	svc := snap.Service(s.service)
	nowMs := time.Now().UnixMilli()

	lbSnap := s.lb.Snapshot()

	configs := make([]StatusConfig, 0, len(svc.Configs))
	for name, entry := range svc.Configs {
		sc := StatusConfig{
			Name:    name,
			Alias:   entry.Alias,
			Enabled: entry.Enabled,
			Level:   entry.Level,
			Active:  name == svc.Active,
		}
		cfgLB := lbSnap[name]
		for idx, up := range entry.Upstreams {
			su := StatusUpstream{Index: idx, BaseURL: up.BaseURL, Available: true}
			if e, ok := cfgLB[idx]; ok {
				su.Available = e.CooldownUntilMs <= nowMs
				su.CooldownUntilMs = e.CooldownUntilMs
				su.LastErrorClass = string(e.LastErrorClass)
			}
			sc.Upstreams = append(sc.Upstreams, su)
		}
		configs = append(configs, sc)
	}

	globalOverride, _ := s.sessions.GlobalConfigOverride()
	five, hour := s.sessions.Windows5mAnd1h(nowMs)

	writeJSON(w, http.StatusOK, StatusResponse{
		envelope:       envelope{OK: true},
		Service:        s.service,
		Port:           s.port,
		APIVersion:     1,
		Configs:        configs,
		GlobalOverride: globalOverride,
		Window5m:       five,
		Window1h:       hour,
	})
}

// handleStatusRecent serves GET /status/recent.
func (s *Server) handleStatusRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RecentResponse{
		envelope: envelope{OK: true},
		Requests: s.sessions.Recent(s.service),
	})
}

// handleStatusActive serves GET /status/active.
func (s *Server) handleStatusActive(w http.ResponseWriter, r *http.Request) {
	all := s.sessions.ActiveSnapshot()
	out := make([]sessionstate.ActiveRequest, 0, len(all))
	for _, a := range all {
		if a.Service == s.service {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, ActiveResponse{envelope: envelope{OK: true}, Requests: out})
}

// handleReload serves POST /reload: re-read the config file and swap it
// in atomically.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{envelope{OK: true}})
}

// handleOverrideGlobal serves POST /override/global.
func (s *Server) handleOverrideGlobal(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req GlobalOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.sessions.SetGlobalConfigOverride(req.ConfigName)
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

// handleOverrideSessionConfig serves POST /override/session/config.
func (s *Server) handleOverrideSessionConfig(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req SessionConfigOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.sessions.SetSessionConfigOverride(req.SessionID, req.ConfigName)
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

// handleOverrideSessionEffort serves POST /override/session/effort.
func (s *Server) handleOverrideSessionEffort(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req SessionEffortOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.sessions.SetSessionEffortOverride(req.SessionID, req.Effort)
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

// handleHealthcheckStart serves POST /healthcheck/start: kicks off one
// background probe run per named (or all) enabled config, per spec.md
// §4.11. Each config's run is independently cancelable.
func (s *Server) handleHealthcheckStart(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req HealthcheckStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	snap := s.cfg.Snapshot()
	svc := snap.Service(s.service)

	names := req.Names
	if req.All || len(names) == 0 {
		names = nil
		for name, entry := range svc.Configs {
			if entry.Enabled {
				names = append(names, name)
			}
		}
	}

	for _, name := range names {
		entry, ok := svc.Configs[name]
		if !ok {
			continue
		}
		s.startConfigProbe(name, entry)
	}

	writeJSON(w, http.StatusOK, envelope{OK: true})
}

func (s *Server) startConfigProbe(name string, entry *proxyconfig.ConfigEntry) {
	s.hcMu.Lock()
	if existing, running := s.hcCancel[name]; running {
		existing()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.hcCancel[name] = cancel
	s.hcMu.Unlock()

	go func() {
		defer func() {
			s.hcMu.Lock()
			delete(s.hcCancel, name)
			s.hcMu.Unlock()
			cancel()
		}()

		healthprobeRunner(ctx, entry.Upstreams, func(r healthprobe.Result) {
			for idx, up := range entry.Upstreams {
				if up.BaseURL != r.BaseURL {
					continue
				}
				if r.OK {
					s.lb.RecordSuccess(name, idx)
				} else {
					class := classify.ClassServerError
					if r.StatusCode == 0 {
						class = classify.ClassTransport
					}
					policy := retrypolicyFor(s.cfg)
					s.lb.RecordFailure(name, idx, class, policy, time.Now().UnixMilli())
				}
				break
			}
		}, func() bool {
			return ctx.Err() != nil
		})
	}()
}

// handleHealthcheckCancel serves POST /healthcheck/cancel: cancels every
// in-flight probe run for this service.
func (s *Server) handleHealthcheckCancel(w http.ResponseWriter, r *http.Request) {
	s.hcMu.Lock()
	for name, cancel := range s.hcCancel {
		cancel()
		delete(s.hcCancel, name)
	}
	s.hcMu.Unlock()
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

// handleOpenAPISpec serves GET /openapi.yaml from the embedded spec.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(OpenAPISpec)
}
