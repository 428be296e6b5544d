package proxyconfig

// RetryConfig is the sparse, user-editable retry override document. It is
// distinct from the fully-resolved two-layer policy produced by
// internal/retrypolicy.Resolve — see SPEC_FULL.md §4 for why the split
// exists.
type RetryConfig struct {
	Profile string `json:"profile,omitempty" toml:"profile,omitempty"`

	// Legacy flat fields, applied only to the upstream layer and only when
	// Upstream below is absent (nil).
	MaxAttempts  *int    `json:"max_attempts,omitempty" toml:"max_attempts,omitempty"`
	BackoffMs    *int    `json:"backoff_ms,omitempty" toml:"backoff_ms,omitempty"`
	BackoffMaxMs *int    `json:"backoff_max_ms,omitempty" toml:"backoff_max_ms,omitempty"`
	JitterMs     *int    `json:"jitter_ms,omitempty" toml:"jitter_ms,omitempty"`
	OnStatus     *string `json:"on_status,omitempty" toml:"on_status,omitempty"`
	OnClass      []string `json:"on_class,omitempty" toml:"on_class,omitempty"`
	Strategy     *string `json:"strategy,omitempty" toml:"strategy,omitempty"`

	Upstream *RetryLayerConfig `json:"upstream,omitempty" toml:"upstream,omitempty"`
	Provider *RetryLayerConfig `json:"provider,omitempty" toml:"provider,omitempty"`

	NeverOnStatus *string  `json:"never_on_status,omitempty" toml:"never_on_status,omitempty"`
	NeverOnClass  []string `json:"never_on_class,omitempty" toml:"never_on_class,omitempty"`

	CloudflareChallengeCooldownSecs *int `json:"cloudflare_challenge_cooldown_secs,omitempty" toml:"cloudflare_challenge_cooldown_secs,omitempty"`
	CloudflareTimeoutCooldownSecs   *int `json:"cloudflare_timeout_cooldown_secs,omitempty" toml:"cloudflare_timeout_cooldown_secs,omitempty"`
	TransportCooldownSecs           *int `json:"transport_cooldown_secs,omitempty" toml:"transport_cooldown_secs,omitempty"`
	CooldownBackoffFactor           *int `json:"cooldown_backoff_factor,omitempty" toml:"cooldown_backoff_factor,omitempty"`
	CooldownBackoffMaxSecs          *int `json:"cooldown_backoff_max_secs,omitempty" toml:"cooldown_backoff_max_secs,omitempty"`
}

// RetryLayerConfig is an all-optional sparse override for one retry layer
// (upstream or provider).
type RetryLayerConfig struct {
	MaxAttempts  *int     `json:"max_attempts,omitempty" toml:"max_attempts,omitempty"`
	BackoffMs    *int     `json:"backoff_ms,omitempty" toml:"backoff_ms,omitempty"`
	BackoffMaxMs *int     `json:"backoff_max_ms,omitempty" toml:"backoff_max_ms,omitempty"`
	JitterMs     *int     `json:"jitter_ms,omitempty" toml:"jitter_ms,omitempty"`
	OnStatus     *string  `json:"on_status,omitempty" toml:"on_status,omitempty"`
	OnClass      []string `json:"on_class,omitempty" toml:"on_class,omitempty"`
	Strategy     *string  `json:"strategy,omitempty" toml:"strategy,omitempty"`
}
