// Package modelrouter matches an external model name against an
// upstream's supported-models whitelist and model_mapping rewrite rules,
// per spec.md §4.3.
package modelrouter

import (
	"strings"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// Resolve returns the upstream model name to forward for externalModel
// against upstream, and whether upstream can serve this request at all.
//
// 1. An exact model_mapping key wins; else the first wildcard-matching key
//    (in map iteration order is unspecified, but at most one sensible
//    match is expected in practice — ties are resolved by first match in
//    a stable, sorted-key iteration to keep behavior deterministic).
// 2. If supported_models is empty, any model is accepted; otherwise the
//    resolved upstream model name must match a true-valued key.
func Resolve(externalModel string, upstream *proxyconfig.UpstreamConfig) (upstreamModel string, ok bool) {
	upstreamModel = externalModel
	if mapped, matched := mapModel(externalModel, upstream.ModelMapping); matched {
		upstreamModel = mapped
	}

	if len(upstream.SupportedModels) == 0 {
		return upstreamModel, true
	}
	for pattern, allowed := range upstream.SupportedModels {
		if !allowed {
			continue
		}
		if pattern == upstreamModel || WildcardMatch(pattern, upstreamModel) {
			return upstreamModel, true
		}
	}
	return upstreamModel, false
}

func mapModel(externalModel string, mapping map[string]string) (string, bool) {
	if mapping == nil {
		return "", false
	}
	if target, ok := mapping[externalModel]; ok {
		return target, true
	}
	keys := sortedKeys(mapping)
	for _, pattern := range keys {
		target := mapping[pattern]
		if captured, ok := wildcardCapture(pattern, externalModel, target); ok {
			return captured, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort; these maps are small (per-upstream routing
	// rules), and avoiding an extra sort import keeps this package
	// dependency-free.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// WildcardMatch reports whether pattern (with '*' as zero-or-more-chars,
// case-sensitive, '?' not special) matches s.
func WildcardMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]
	last := len(segments) - 1
	if !strings.HasSuffix(s, segments[last]) {
		return false
	}
	if last > 0 {
		s = s[:len(s)-len(segments[last])]
	}
	for _, mid := range segments[1:last] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}

// wildcardCapture matches pattern against s; if pattern contains '*' and
// target also contains '*', the captured wildcard span from s replaces the
// '*' in target (preserving captures per spec.md §4.3/§8's testable
// round-trip property). Otherwise target is returned unchanged on match.
func wildcardCapture(pattern, s, target string) (string, bool) {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		if pattern == s {
			return target, true
		}
		return "", false
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return "", false
	}
	if len(s) < len(prefix)+len(suffix) {
		return "", false
	}
	captured := s[len(prefix) : len(s)-len(suffix)]
	if strings.Contains(target, "*") {
		return strings.Replace(target, "*", captured, 1), true
	}
	return target, true
}
