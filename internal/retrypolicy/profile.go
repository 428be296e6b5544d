// Package retrypolicy resolves a sparse user-provided retry override
// (proxyconfig.RetryConfig) against one of four named profiles into a
// fully-resolved two-layer RetryPolicy. See SPEC_FULL.md §5.5 for the
// merge algorithm and per-profile numeric defaults, ported field-for-field
// from original_source/src/config.rs's RetryProfileName::defaults().
package retrypolicy

// Strategy names the upstream-layer retry strategy.
type Strategy string

const (
	StrategyFailover     Strategy = "failover"
	StrategySameUpstream Strategy = "same_upstream"
)

// ProfileName is one of the four curated retry profiles.
type ProfileName string

const (
	ProfileBalanced           ProfileName = "balanced"
	ProfileSameUpstream       ProfileName = "same_upstream"
	ProfileAggressiveFailover ProfileName = "aggressive_failover"
	ProfileCostPrimary        ProfileName = "cost_primary"
)

// Layer is one retry layer's fully-resolved policy (upstream or provider).
type Layer struct {
	MaxAttempts  int
	BackoffMs    int
	BackoffMaxMs int
	JitterMs     int
	OnStatus     string
	OnClass      []string
	Strategy     Strategy
}

// Policy is the fully-resolved, two-layer retry policy (spec.md §3).
type Policy struct {
	Upstream Layer
	Provider Layer

	NeverOnStatus string
	NeverOnClass  []string

	CloudflareChallengeCooldownSecs int
	CloudflareTimeoutCooldownSecs   int
	TransportCooldownSecs           int
	CooldownBackoffFactor           int
	CooldownBackoffMaxSecs          int
}

func cloneLayer(l Layer) Layer {
	out := l
	out.OnClass = append([]string(nil), l.OnClass...)
	return out
}

// balancedDefaults is the baseline every profile's defaults() derives from.
func balancedDefaults() Policy {
	return Policy{
		Upstream: Layer{
			MaxAttempts:  2,
			BackoffMs:    200,
			BackoffMaxMs: 2000,
			JitterMs:     100,
			OnStatus:     "429,500-599,524",
			OnClass:      []string{"transport", "cloudflare_timeout", "cloudflare_challenge"},
			Strategy:     StrategySameUpstream,
		},
		Provider: Layer{
			MaxAttempts:  2,
			BackoffMs:    0,
			BackoffMaxMs: 0,
			JitterMs:     0,
			OnStatus:     "401,403,404,408,429,500-599,524",
			OnClass:      []string{"transport"},
			Strategy:     StrategyFailover,
		},
		NeverOnStatus:                    "413,415,422",
		NeverOnClass:                     []string{"client_error_non_retryable"},
		CloudflareChallengeCooldownSecs: 300,
		CloudflareTimeoutCooldownSecs:   60,
		TransportCooldownSecs:           30,
		CooldownBackoffFactor:           1,
		CooldownBackoffMaxSecs:          600,
	}
}

// Defaults returns the normative defaults for a named profile, falling
// back to balanced for an empty or unknown name.
func Defaults(name ProfileName) Policy {
	base := balancedDefaults()
	switch name {
	case ProfileSameUpstream:
		base.Upstream.MaxAttempts = 3
		base.Provider.MaxAttempts = 1
	case ProfileAggressiveFailover:
		base.Upstream.BackoffMaxMs = 2500
		base.Upstream.JitterMs = 150
		base.Provider.MaxAttempts = 3
	case ProfileCostPrimary:
		base.Provider.MaxAttempts = 2
		base.TransportCooldownSecs = 30
		base.CooldownBackoffFactor = 2
		base.CooldownBackoffMaxSecs = 900
	case ProfileBalanced, "":
		// already balanced
	}
	base.Upstream = cloneLayer(base.Upstream)
	base.Provider = cloneLayer(base.Provider)
	return base
}
