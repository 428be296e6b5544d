package controlapi

import "github.com/joestump/codex-helper/internal/sessionstate"

// envelope is the {ok, error?} wrapper spec.md §4.10 requires on every
// response.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StatusConfig is one config's summary within a /status snapshot.
type StatusConfig struct {
	Name      string           `json:"name"`
	Alias     string           `json:"alias,omitempty"`
	Enabled   bool             `json:"enabled"`
	Level     int              `json:"level"`
	Active    bool             `json:"active"`
	Upstreams []StatusUpstream `json:"upstreams"`
}

// StatusUpstream is one upstream's summary within a StatusConfig.
type StatusUpstream struct {
	Index           int     `json:"index"`
	BaseURL         string  `json:"base_url"`
	Available       bool    `json:"available"`
	CooldownUntilMs int64   `json:"cooldown_until_ms,omitempty"`
	LastErrorClass  string  `json:"last_error_class,omitempty"`
	LastHealth      *Health `json:"last_health,omitempty"`
}

// Health is the last probe result recorded for an upstream.
type Health struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StatusResponse is the GET /status payload.
type StatusResponse struct {
	envelope
	Service        string                   `json:"service"`
	Port           int                      `json:"port"`
	APIVersion     int                      `json:"api_version"`
	Configs        []StatusConfig           `json:"configs"`
	GlobalOverride string                   `json:"global_override,omitempty"`
	Window5m       sessionstate.WindowStats `json:"window_5m"`
	Window1h       sessionstate.WindowStats `json:"window_1h"`
}

// RecentResponse is the GET /status/recent payload.
type RecentResponse struct {
	envelope
	Requests []sessionstate.FinishedRequest `json:"requests"`
}

// ActiveResponse is the GET /status/active payload.
type ActiveResponse struct {
	envelope
	Requests []sessionstate.ActiveRequest `json:"requests"`
}

// ReloadResponse is the POST /reload payload.
type ReloadResponse struct {
	envelope
}

// GlobalOverrideRequest is the POST /override/global body.
type GlobalOverrideRequest struct {
	ConfigName string `json:"config_name"`
}

// SessionConfigOverrideRequest is the POST /override/session/config body.
type SessionConfigOverrideRequest struct {
	SessionID  string `json:"session_id"`
	ConfigName string `json:"config_name"`
}

// SessionEffortOverrideRequest is the POST /override/session/effort body.
type SessionEffortOverrideRequest struct {
	SessionID string `json:"session_id"`
	Effort    string `json:"effort"`
}

// HealthcheckStartRequest is the POST /healthcheck/start body.
type HealthcheckStartRequest struct {
	All   bool     `json:"all,omitempty"`
	Names []string `json:"names,omitempty"`
}
