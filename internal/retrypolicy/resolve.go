package retrypolicy

import (
	"strconv"
	"strings"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// Resolve merges a sparse proxyconfig.RetryConfig onto its named profile's
// defaults, per the exact five-step algorithm in SPEC_FULL.md §5.5 (ported
// from original_source/src/config.rs's RetryConfig::resolve()).
func Resolve(cfg proxyconfig.RetryConfig) Policy {
	profile := ProfileName(cfg.Profile)
	out := Defaults(profile)

	// Step 2: legacy flat fields apply to the upstream layer only, and
	// only when the nested upstream block is absent.
	if cfg.Upstream == nil {
		applyLegacyFlat(&out.Upstream, cfg)
	}

	// Step 3: nested upstream layer always wins when present, regardless
	// of whether step 2 ran.
	if cfg.Upstream != nil {
		applyLayerOverride(&out.Upstream, cfg.Upstream)
	}

	// Step 4: nested provider layer.
	if cfg.Provider != nil {
		applyLayerOverride(&out.Provider, cfg.Provider)
	}

	// Step 5: top-level never-lists and cooldown fields, unconditionally
	// when present.
	if cfg.NeverOnStatus != nil {
		out.NeverOnStatus = *cfg.NeverOnStatus
	}
	if cfg.NeverOnClass != nil {
		out.NeverOnClass = cfg.NeverOnClass
	}
	if cfg.CloudflareChallengeCooldownSecs != nil {
		out.CloudflareChallengeCooldownSecs = *cfg.CloudflareChallengeCooldownSecs
	}
	if cfg.CloudflareTimeoutCooldownSecs != nil {
		out.CloudflareTimeoutCooldownSecs = *cfg.CloudflareTimeoutCooldownSecs
	}
	if cfg.TransportCooldownSecs != nil {
		out.TransportCooldownSecs = *cfg.TransportCooldownSecs
	}
	if cfg.CooldownBackoffFactor != nil {
		out.CooldownBackoffFactor = *cfg.CooldownBackoffFactor
	}
	if cfg.CooldownBackoffMaxSecs != nil {
		out.CooldownBackoffMaxSecs = *cfg.CooldownBackoffMaxSecs
	}

	return out
}

func applyLegacyFlat(layer *Layer, cfg proxyconfig.RetryConfig) {
	if cfg.MaxAttempts != nil {
		layer.MaxAttempts = *cfg.MaxAttempts
	}
	if cfg.BackoffMs != nil {
		layer.BackoffMs = *cfg.BackoffMs
	}
	if cfg.BackoffMaxMs != nil {
		layer.BackoffMaxMs = *cfg.BackoffMaxMs
	}
	if cfg.JitterMs != nil {
		layer.JitterMs = *cfg.JitterMs
	}
	if cfg.OnStatus != nil {
		layer.OnStatus = *cfg.OnStatus
	}
	if cfg.OnClass != nil {
		layer.OnClass = cfg.OnClass
	}
	if cfg.Strategy != nil {
		layer.Strategy = Strategy(*cfg.Strategy)
	}
}

func applyLayerOverride(layer *Layer, override *proxyconfig.RetryLayerConfig) {
	if override.MaxAttempts != nil {
		layer.MaxAttempts = *override.MaxAttempts
	}
	if override.BackoffMs != nil {
		layer.BackoffMs = *override.BackoffMs
	}
	if override.BackoffMaxMs != nil {
		layer.BackoffMaxMs = *override.BackoffMaxMs
	}
	if override.JitterMs != nil {
		layer.JitterMs = *override.JitterMs
	}
	if override.OnStatus != nil {
		layer.OnStatus = *override.OnStatus
	}
	if override.OnClass != nil {
		layer.OnClass = override.OnClass
	}
	if override.Strategy != nil {
		layer.Strategy = Strategy(*override.Strategy)
	}
}

// StatusSetContains parses a comma-separated list of status codes and
// inclusive ranges ("429,500-599,524") and reports whether it contains
// code, per spec.md §4.5.
func StatusSetContains(spec string, code int) bool {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, err1 := strconv.Atoi(strings.TrimSpace(lo))
			hiN, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 == nil && err2 == nil && code >= loN && code <= hiN {
				return true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err == nil && n == code {
			return true
		}
	}
	return false
}

// ClassSetContains reports whether class appears in classes.
func ClassSetContains(classes []string, class string) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}
