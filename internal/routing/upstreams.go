package routing

import (
	"github.com/joestump/codex-helper/internal/modelrouter"
	"github.com/joestump/codex-helper/internal/lbstate"
	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// upstreamCandidate is one ordered entry in a config's per-request upstream
// candidate list.
type upstreamCandidate struct {
	Index         int
	Upstream      *proxyconfig.UpstreamConfig
	UpstreamModel string
}

// buildUpstreamCandidates filters entry's upstreams by model support (C3)
// and LB availability (C4), per spec.md §4.7 step 4: upstreams in
// declared order, filtered by model-serving capability, and by cooldown
// availability — unless *all* are cooling down, in which case the one
// with the earliest cooldown deadline is chosen anyway (best-effort last
// resort). Stickiness (step 5) is applied by the caller via stickyIndex.
func buildUpstreamCandidates(cfgName string, entry *proxyconfig.ConfigEntry, externalModel string, lb *lbstate.Store, nowMs int64, stickyIndex int, sticky bool) []upstreamCandidate {
	var capable []upstreamCandidate
	for idx, up := range entry.Upstreams {
		upstreamModel, ok := modelrouter.Resolve(externalModel, up)
		if !ok {
			continue
		}
		capable = append(capable, upstreamCandidate{Index: idx, Upstream: up, UpstreamModel: upstreamModel})
	}
	if len(capable) == 0 {
		return nil
	}

	var available []upstreamCandidate
	for _, c := range capable {
		if lb.IsAvailable(cfgName, c.Index, nowMs) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		// Best-effort last resort: every capable upstream is cooling
		// down, so pick the one with the earliest cooldown deadline.
		best := capable[0]
		bestDeadline := lb.CooldownUntil(cfgName, best.Index)
		for _, c := range capable[1:] {
			d := lb.CooldownUntil(cfgName, c.Index)
			if d < bestDeadline {
				best, bestDeadline = c, d
			}
		}
		available = []upstreamCandidate{best}
	}

	if sticky {
		for i, c := range available {
			if c.Index == stickyIndex {
				if i != 0 {
					available[0], available[i] = available[i], available[0]
				}
				break
			}
		}
	}
	return available
}
