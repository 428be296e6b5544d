// Package routing is the selection procedure (C7): given policy, LB
// state, overrides, and stickiness, pick the next (config, upstream) for
// one request, across the two-layer retry loop. See spec.md §4.7.
package routing

import (
	"sort"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// configCandidate is one entry in the ordered config candidate list.
type configCandidate struct {
	Name  string
	Entry *proxyconfig.ConfigEntry
}

// buildConfigCandidates returns enabled configs grouped by level ascending,
// with ties broken by active-first then name, per spec.md §4.7 step 3.
func buildConfigCandidates(svc *proxyconfig.ServiceConfigMgr) []configCandidate {
	var out []configCandidate
	for name, entry := range svc.Configs {
		if entry == nil || !entry.Enabled {
			continue
		}
		out = append(out, configCandidate{Name: name, Entry: entry})
	}
	activeName := svc.Active
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Entry.Level != b.Entry.Level {
			return a.Entry.Level < b.Entry.Level
		}
		aActive := a.Name == activeName
		bActive := b.Name == activeName
		if aActive != bActive {
			return aActive
		}
		return a.Name < b.Name
	})
	return out
}

// startingConfig resolves which config a request should try first, per
// spec.md §4.7 step 2's precedence chain: session override, then global
// override, then active, then lowest-enabled-name fallback. Non-existent
// or disabled targets are skipped to the next step (overrides are
// advisory, not authoritative).
func startingConfig(svc *proxyconfig.ServiceConfigMgr, sessionOverride, globalOverride string) (*proxyconfig.ConfigEntry, string, bool) {
	if sessionOverride != "" {
		if e, ok := svc.Configs[sessionOverride]; ok && e.Enabled {
			return e, sessionOverride, true
		}
	}
	if globalOverride != "" {
		if e, ok := svc.Configs[globalOverride]; ok && e.Enabled {
			return e, globalOverride, true
		}
	}
	if e, ok := svc.ActiveConfig(); ok {
		name := svc.Active
		if name == "" || svc.Configs[name] != e {
			// ActiveConfig fell back to the lowest-key rule; recover that
			// name for callers that need it.
			for k, v := range svc.Configs {
				if v == e {
					name = k
					break
				}
			}
		}
		return e, name, true
	}
	return nil, "", false
}
