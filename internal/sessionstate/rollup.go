package sessionstate

import (
	"sort"
	"sync"
)

// UsageRollup holds since-start usage totals plus per-config and
// per-provider breakdowns, per spec.md §4.9.
type UsageRollup struct {
	mu         sync.Mutex
	total      Usage
	byConfig   map[string]*Usage
	byProvider map[string]*Usage
}

// NewUsageRollup returns an empty rollup.
func NewUsageRollup() *UsageRollup {
	return &UsageRollup{
		byConfig:   map[string]*Usage{},
		byProvider: map[string]*Usage{},
	}
}

func addUsage(dst *Usage, src Usage) {
	dst.InputTokens += src.InputTokens
	dst.OutputTokens += src.OutputTokens
	dst.ReasoningTokens += src.ReasoningTokens
	dst.TotalTokens += src.TotalTokens
}

// Record folds a finished request's usage into the rollup.
func (u *UsageRollup) Record(fr FinishedRequest) {
	if fr.Usage == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	addUsage(&u.total, *fr.Usage)
	if fr.ConfigName != "" {
		c, ok := u.byConfig[fr.ConfigName]
		if !ok {
			c = &Usage{}
			u.byConfig[fr.ConfigName] = c
		}
		addUsage(c, *fr.Usage)
	}
	if fr.ProviderID != "" {
		p, ok := u.byProvider[fr.ProviderID]
		if !ok {
			p = &Usage{}
			u.byProvider[fr.ProviderID] = p
		}
		addUsage(p, *fr.Usage)
	}
}

// UsageBreakdown is a sorted view over one dimension of the rollup,
// derived on read per spec.md §4.9 ("sorted views derived on read").
type UsageBreakdown struct {
	Key   string
	Usage Usage
}

// Snapshot returns the since-start total plus sorted per-config and
// per-provider breakdowns.
func (u *UsageRollup) Snapshot() (total Usage, byConfig, byProvider []UsageBreakdown) {
	u.mu.Lock()
	defer u.mu.Unlock()
	total = u.total
	byConfig = sortedBreakdown(u.byConfig)
	byProvider = sortedBreakdown(u.byProvider)
	return
}

func sortedBreakdown(m map[string]*Usage) []UsageBreakdown {
	out := make([]UsageBreakdown, 0, len(m))
	for k, v := range m {
		out = append(out, UsageBreakdown{Key: k, Usage: *v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
