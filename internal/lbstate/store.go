// Package lbstate is the process-wide, in-memory load-balancer/cooldown
// state machine (C4). Grounded on joestump-claude-ops/internal/hub.Hub's
// single-mutex, map-of-map shape with short, I/O-free critical sections.
package lbstate

import (
	"sync"

	"github.com/joestump/codex-helper/internal/classify"
	"github.com/joestump/codex-helper/internal/retrypolicy"
)

// Entry is the per-(config,upstream) cooldown/streak state.
type Entry struct {
	ConsecutiveFailures int
	CooldownUntilMs     int64
	LastErrorClass      classify.Class
}

// Store is the process-lifetime LB/cooldown map, keyed by config name then
// upstream index.
type Store struct {
	mu    sync.Mutex
	byCfg map[string]map[int]*Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{byCfg: map[string]map[int]*Entry{}}
}

func (s *Store) entryLocked(cfg string, idx int) *Entry {
	m, ok := s.byCfg[cfg]
	if !ok {
		m = map[int]*Entry{}
		s.byCfg[cfg] = m
	}
	e, ok := m[idx]
	if !ok {
		e = &Entry{}
		m[idx] = e
	}
	return e
}

// IsAvailable reports whether (cfg, idx) is not currently cooling down.
func (s *Store) IsAvailable(cfg string, idx int, nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byCfg[cfg]
	if !ok {
		return true
	}
	e, ok := m[idx]
	if !ok {
		return true
	}
	return e.CooldownUntilMs <= nowMs
}

// CooldownUntil returns the stored cooldown deadline for (cfg, idx), or 0
// if none is set. Used by the "best-effort last resort" fallback when all
// candidates are cooling down (spec.md §4.7 step 4).
func (s *Store) CooldownUntil(cfg string, idx int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byCfg[cfg]
	if !ok {
		return 0
	}
	e, ok := m[idx]
	if !ok {
		return 0
	}
	return e.CooldownUntilMs
}

// RecordSuccess resets the streak and clears any cooldown for (cfg, idx).
func (s *Store) RecordSuccess(cfg string, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(cfg, idx)
	e.ConsecutiveFailures = 0
	e.CooldownUntilMs = 0
	e.LastErrorClass = classify.ClassOK
}

// RecordFailure increments the streak and, if the class carries a
// cooldown, sets an exponentially-backed-off cooldown deadline, per
// spec.md §4.4: effective = min(base * factor^(streak-1), max_s).
func (s *Store) RecordFailure(cfg string, idx int, class classify.Class, policy retrypolicy.Policy, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(cfg, idx)
	e.ConsecutiveFailures++
	e.LastErrorClass = class

	base := baseCooldownSecs(class, policy)
	if base <= 0 {
		return
	}
	factor := policy.CooldownBackoffFactor
	if factor < 1 {
		factor = 1
	}
	effective := base
	for i := 1; i < e.ConsecutiveFailures; i++ {
		effective *= factor
		if policy.CooldownBackoffMaxSecs > 0 && effective >= policy.CooldownBackoffMaxSecs {
			effective = policy.CooldownBackoffMaxSecs
			break
		}
	}
	if policy.CooldownBackoffMaxSecs > 0 && effective > policy.CooldownBackoffMaxSecs {
		effective = policy.CooldownBackoffMaxSecs
	}
	e.CooldownUntilMs = nowMs + int64(effective)*1000
}

func baseCooldownSecs(class classify.Class, policy retrypolicy.Policy) int {
	switch class {
	case classify.ClassCloudflareChallenge:
		return policy.CloudflareChallengeCooldownSecs
	case classify.ClassCloudflareTimeout:
		return policy.CloudflareTimeoutCooldownSecs
	case classify.ClassTransport:
		return policy.TransportCooldownSecs
	default:
		return 0
	}
}

// Prune drops LB state for configs not present in liveConfigs.
func (s *Store) Prune(liveConfigs map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cfg := range s.byCfg {
		if !liveConfigs[cfg] {
			delete(s.byCfg, cfg)
		}
	}
}

// Snapshot returns a deep copy of the current state for observability
// surfaces (control API), never the live maps.
func (s *Store) Snapshot() map[string]map[int]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[int]Entry, len(s.byCfg))
	for cfg, m := range s.byCfg {
		cm := make(map[int]Entry, len(m))
		for idx, e := range m {
			cm[idx] = *e
		}
		out[cfg] = cm
	}
	return out
}
