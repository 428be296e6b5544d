// Package proxyconfig owns the versioned, user-edited configuration
// document that describes services, configs, and upstreams, independent of
// process-level CLI flags (see internal/procconfig for those).
package proxyconfig

// SchemaVersion is the current on-disk schema version. The loader stamps
// this onto freshly created documents and onto any document missing it.
const SchemaVersion = 1

// ProxyConfig is the root document.
type ProxyConfig struct {
	Version        int                `json:"version" toml:"version"`
	DefaultService string             `json:"default_service,omitempty" toml:"default_service,omitempty"`
	Codex          ServiceConfigMgr   `json:"codex" toml:"codex"`
	Claude         ServiceConfigMgr   `json:"claude" toml:"claude"`
	Retry          RetryConfig        `json:"retry" toml:"retry"`
	Notify         NotifyConfig       `json:"notify" toml:"notify"`
	UI             UIConfig           `json:"ui" toml:"ui"`
}

// UIConfig carries cosmetic preferences for external dashboard consumers.
type UIConfig struct {
	Language string `json:"language,omitempty" toml:"language,omitempty"`
}

// ServiceConfigMgr is the per-service (codex/claude) collection of named
// configs, with an optional explicit active preference.
type ServiceConfigMgr struct {
	Active  string                 `json:"active,omitempty" toml:"active,omitempty"`
	Configs map[string]*ConfigEntry `json:"configs" toml:"configs"`
}

// ConfigEntry is a named config: a priority level and an ordered list of
// upstreams sharing that config's policy.
type ConfigEntry struct {
	Name      string            `json:"name" toml:"name"`
	Alias     string            `json:"alias,omitempty" toml:"alias,omitempty"`
	Enabled   bool              `json:"enabled" toml:"enabled"`
	Level     int               `json:"level" toml:"level"`
	Upstreams []*UpstreamConfig `json:"upstreams" toml:"upstreams"`
}

// UpstreamConfig is a concrete base_url plus auth and model-routing rules.
type UpstreamConfig struct {
	BaseURL         string            `json:"base_url" toml:"base_url"`
	Auth            UpstreamAuth      `json:"auth" toml:"auth"`
	Tags            map[string]string `json:"tags,omitempty" toml:"tags,omitempty"`
	SupportedModels map[string]bool   `json:"supported_models,omitempty" toml:"supported_models,omitempty"`
	ModelMapping    map[string]string `json:"model_mapping,omitempty" toml:"model_mapping,omitempty"`
}

// UpstreamAuth resolves a bearer token or API key from either an inline
// value or a named environment variable. See C2 in SPEC_FULL.md.
type UpstreamAuth struct {
	AuthToken    string `json:"auth_token,omitempty" toml:"auth_token,omitempty"`
	AuthTokenEnv string `json:"auth_token_env,omitempty" toml:"auth_token_env,omitempty"`
	APIKey       string `json:"api_key,omitempty" toml:"api_key,omitempty"`
	APIKeyEnv    string `json:"api_key_env,omitempty" toml:"api_key_env,omitempty"`
}

// NotifyConfig controls the completion-notification aggregator (C12).
type NotifyConfig struct {
	Enabled bool               `json:"enabled" toml:"enabled"`
	Policy  NotifyPolicyConfig `json:"policy" toml:"policy"`
	System  NotifySystemConfig `json:"system" toml:"system"`
	Exec    NotifyExecConfig   `json:"exec" toml:"exec"`
}

// NotifyPolicyConfig holds coalescing/cooldown thresholds, in milliseconds.
// Defaults are normative per SPEC_FULL.md §4 (ported from original_source).
type NotifyPolicyConfig struct {
	MinDurationMs          int64 `json:"min_duration_ms" toml:"min_duration_ms"`
	GlobalCooldownMs       int64 `json:"global_cooldown_ms" toml:"global_cooldown_ms"`
	MergeWindowMs          int64 `json:"merge_window_ms" toml:"merge_window_ms"`
	PerThreadCooldownMs    int64 `json:"per_thread_cooldown_ms" toml:"per_thread_cooldown_ms"`
	RecentSearchWindowMs   int64 `json:"recent_search_window_ms" toml:"recent_search_window_ms"`
	RecentEndpointTimeoutMs int64 `json:"recent_endpoint_timeout_ms" toml:"recent_endpoint_timeout_ms"`
}

// DefaultNotifyPolicy returns the normative policy defaults.
func DefaultNotifyPolicy() NotifyPolicyConfig {
	return NotifyPolicyConfig{
		MinDurationMs:           60000,
		GlobalCooldownMs:        60000,
		MergeWindowMs:           10000,
		PerThreadCooldownMs:     180000,
		RecentSearchWindowMs:    300000,
		RecentEndpointTimeoutMs: 500,
	}
}

// NotifySystemConfig toggles an OS-native notification channel.
type NotifySystemConfig struct {
	Enabled bool `json:"enabled" toml:"enabled"`
}

// NotifyExecConfig toggles an exec-callback notification channel; the
// aggregated JSON payload is written to the command's stdin.
type NotifyExecConfig struct {
	Enabled bool     `json:"enabled" toml:"enabled"`
	Command []string `json:"command,omitempty" toml:"command,omitempty"`
}

// Default returns a fresh document stamped with the current schema
// version and empty, disabled service blocks.
func Default() *ProxyConfig {
	return &ProxyConfig{
		Version: SchemaVersion,
		Codex:   ServiceConfigMgr{Configs: map[string]*ConfigEntry{}},
		Claude:  ServiceConfigMgr{Configs: map[string]*ConfigEntry{}},
		Retry:   RetryConfig{Profile: "balanced"},
		Notify:  NotifyConfig{Policy: DefaultNotifyPolicy()},
	}
}

// Normalize stamps the schema version when missing, defaults a blank
// ConfigEntry.Name to its map key and a zero Level to 1, and defaults the
// retry profile to balanced. A non-blank Name that differs from its map key
// is left as it is.
func (p *ProxyConfig) Normalize() {
	if p.Version == 0 {
		p.Version = SchemaVersion
	}
	normalizeService(&p.Codex)
	normalizeService(&p.Claude)
	if p.Retry.Profile == "" {
		p.Retry.Profile = "balanced"
	}
}

func normalizeService(svc *ServiceConfigMgr) {
	if svc.Configs == nil {
		svc.Configs = map[string]*ConfigEntry{}
		return
	}
	for key, entry := range svc.Configs {
		if entry == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = key
		}
		if entry.Level == 0 {
			entry.Level = 1
		}
	}
}

// Service selects a ServiceConfigMgr by name ("codex" or "claude").
func (p *ProxyConfig) Service(name string) *ServiceConfigMgr {
	switch name {
	case "claude":
		return &p.Claude
	default:
		return &p.Codex
	}
}

// ActiveConfig resolves the config that should be used absent any override,
// per spec.md §3 and the Open Question decision recorded in DESIGN.md:
// the explicit Active name wins if it names an enabled config; otherwise
// the lexicographically smallest enabled name is the stable fallback.
func (svc *ServiceConfigMgr) ActiveConfig() (*ConfigEntry, bool) {
	if svc.Active != "" {
		if entry, ok := svc.Configs[svc.Active]; ok && entry.Enabled {
			return entry, true
		}
	}
	var bestKey string
	var best *ConfigEntry
	for key, entry := range svc.Configs {
		if entry == nil || !entry.Enabled {
			continue
		}
		if best == nil || key < bestKey {
			bestKey = key
			best = entry
		}
	}
	return best, best != nil
}
