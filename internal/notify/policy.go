package notify

import "github.com/joestump/codex-helper/internal/proxyconfig"

// Event is one completion record handed to `notify <service> <json>`.
type Event struct {
	Service    string
	ThreadID   string
	DurationMs int64
	Summary    string
	AtMs       int64
}

// gate holds the per-thread and global cooldown state the Policy checks
// against, per spec.md §4.12.
type gate struct {
	lastGlobalAtMs    int64
	lastPerThreadAtMs map[string]int64
}

func newGate() *gate {
	return &gate{lastPerThreadAtMs: map[string]int64{}}
}

// Policy evaluates one incoming Event against proxyconfig.NotifyPolicyConfig,
// per spec.md §4.12: drop below min_duration_ms; otherwise rely on the
// Aggregator's merge window and cooldowns for everything else.
type Policy struct {
	cfg proxyconfig.NotifyPolicyConfig
}

// NewPolicy wraps cfg for evaluation.
func NewPolicy(cfg proxyconfig.NotifyPolicyConfig) Policy {
	return Policy{cfg: cfg}
}

// Admit reports whether ev clears the minimum-duration floor. Cooldown and
// merge-window enforcement happen in the Aggregator, which needs to see
// every admitted event to decide when to flush, not just the first one.
func (p Policy) Admit(ev Event) bool {
	return ev.DurationMs >= p.cfg.MinDurationMs
}

// globalCooldownActive reports whether a notification is currently
// suppressed by the global cooldown.
func (p Policy) globalCooldownActive(g *gate, nowMs int64) bool {
	return nowMs-g.lastGlobalAtMs < p.cfg.GlobalCooldownMs
}

// perThreadCooldownActive reports whether threadID is currently suppressed
// by its own cooldown.
func (p Policy) perThreadCooldownActive(g *gate, threadID string, nowMs int64) bool {
	last, ok := g.lastPerThreadAtMs[threadID]
	if !ok {
		return false
	}
	return nowMs-last < p.cfg.PerThreadCooldownMs
}
