package sessionstate

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ringCapacity is the per-service FinishedRequest cap, per spec.md §3.
const ringCapacity = 200

// Store is the session/state store. Per spec.md §5, each sub-map has its
// own mutex rather than one coarse lock, since snapshot endpoints take
// short read locks in turn and mutators (the routing engine, the control
// API) touch different sub-maps independently.
type Store struct {
	nextID int64

	activeMu sync.Mutex
	active   map[int64]*ActiveRequest

	recentMu sync.Mutex
	recent   map[string]*ring // keyed by service

	statsMu sync.Mutex
	stats   map[string]*SessionStats // keyed by session_id

	overrideMu            sync.Mutex
	sessionEffortOverride map[string]string
	sessionConfigOverride map[string]string
	globalConfigOverride  string
	hasGlobalOverride     bool

	windowMu sync.Mutex
	window5m *statsWindow
	window1h *statsWindow

	Usage *UsageRollup
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		active:                map[int64]*ActiveRequest{},
		recent:                map[string]*ring{},
		stats:                 map[string]*SessionStats{},
		sessionEffortOverride: map[string]string{},
		sessionConfigOverride: map[string]string{},
		window5m:              newStatsWindow(5 * 60 * 1000),
		window1h:              newStatsWindow(60 * 60 * 1000),
		Usage:                 NewUsageRollup(),
	}
}

// NextID returns a fresh monotonic request id.
func (s *Store) NextID() int64 {
	return atomic.AddInt64(&s.nextID, 1)
}

// Enqueue registers a request as active.
func (s *Store) Enqueue(req *ActiveRequest) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.active[req.ID] = req
}

// Dequeue removes a request from the active map (called once it moves to
// FinishedRequest).
func (s *Store) Dequeue(id int64) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, id)
}

// ActiveSnapshot returns a stable copy of all active requests.
func (s *Store) ActiveSnapshot() []ActiveRequest {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make([]ActiveRequest, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Finish records a completed request into the per-service ring (FIFO
// eviction at ringCapacity, per spec.md §3) and updates session stats and
// stats windows.
func (s *Store) Finish(fr FinishedRequest) {
	s.recentMu.Lock()
	r, ok := s.recent[fr.Service]
	if !ok {
		r = newRing(ringCapacity)
		s.recent[fr.Service] = r
	}
	s.recentMu.Unlock()
	r.push(fr)

	if fr.SessionID != "" {
		s.statsMu.Lock()
		st, ok := s.stats[fr.SessionID]
		if !ok {
			st = &SessionStats{}
			s.stats[fr.SessionID] = st
		}
		st.TurnsTotal++
		st.LastModel = fr.Model
		st.LastConfigName = fr.ConfigName
		if fr.Usage != nil {
			st.TurnsWithUsage++
			st.TotalUsage.InputTokens += fr.Usage.InputTokens
			st.TotalUsage.OutputTokens += fr.Usage.OutputTokens
			st.TotalUsage.ReasoningTokens += fr.Usage.ReasoningTokens
			st.TotalUsage.TotalTokens += fr.Usage.TotalTokens
		}
		s.statsMu.Unlock()
	}

	s.windowMu.Lock()
	s.window5m.record(fr)
	s.window1h.record(fr)
	s.windowMu.Unlock()

	s.Usage.Record(fr)
}

// Recent returns the finished requests for a service, oldest first.
func (s *Store) Recent(service string) []FinishedRequest {
	s.recentMu.Lock()
	r, ok := s.recent[service]
	s.recentMu.Unlock()
	if !ok {
		return nil
	}
	return r.recent()
}

// LastSuccessfulUpstream returns the (config, upstream index) that most
// recently served a successful request for sessionID, for stickiness
// (spec.md §4.7 step 5).
func (s *Store) LastSuccessfulUpstream(service, sessionID string) (cfg string, idx int, ok bool) {
	if sessionID == "" {
		return "", 0, false
	}
	recent := s.Recent(service)
	for i := len(recent) - 1; i >= 0; i-- {
		fr := recent[i]
		if fr.SessionID != sessionID {
			continue
		}
		if fr.StatusCode < 200 || fr.StatusCode >= 400 {
			continue
		}
		if fr.ConfigName == "" {
			continue
		}
		return fr.ConfigName, fr.Retry.lastUpstreamIndex(), true
	}
	return "", 0, false
}

func (ri RetryInfo) lastUpstreamIndex() int {
	// The chain records base URLs, not indices; stickiness resolution
	// maps the last chain entry back to an index at the routing layer,
	// which has access to the config's upstream list. This helper exists
	// so sessionstate stays free of proxyconfig's types.
	return len(ri.UpstreamChain) - 1
}

// --- Override maps (spec.md §3) ---

// SetGlobalConfigOverride pins every request (absent a session override) to
// configName; passing "" clears the pin.
func (s *Store) SetGlobalConfigOverride(configName string) {
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	if configName == "" {
		s.hasGlobalOverride = false
		s.globalConfigOverride = ""
		return
	}
	s.hasGlobalOverride = true
	s.globalConfigOverride = configName
}

// GlobalConfigOverride returns the current global pin, if any.
func (s *Store) GlobalConfigOverride() (string, bool) {
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	return s.globalConfigOverride, s.hasGlobalOverride
}

// SetSessionConfigOverride pins sessionID to configName; empty clears it.
func (s *Store) SetSessionConfigOverride(sessionID, configName string) {
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	if configName == "" {
		delete(s.sessionConfigOverride, sessionID)
		return
	}
	s.sessionConfigOverride[sessionID] = configName
}

// SessionConfigOverride returns sessionID's config pin, if any. Stale
// overrides (naming a config that no longer exists) are returned as-is;
// per spec.md §3's invariant, resolving whether they're still valid is the
// routing engine's job, not this store's.
func (s *Store) SessionConfigOverride(sessionID string) (string, bool) {
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	v, ok := s.sessionConfigOverride[sessionID]
	return v, ok
}

// SetSessionEffortOverride pins sessionID's reasoning effort.
func (s *Store) SetSessionEffortOverride(sessionID, effort string) {
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	if effort == "" {
		delete(s.sessionEffortOverride, sessionID)
		return
	}
	s.sessionEffortOverride[sessionID] = effort
}

// SessionEffortOverride returns sessionID's effort pin, if any.
func (s *Store) SessionEffortOverride(sessionID string) (string, bool) {
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	v, ok := s.sessionEffortOverride[sessionID]
	return v, ok
}

// SessionStatsSnapshot returns a copy of a session's stats.
func (s *Store) SessionStatsSnapshot(sessionID string) (SessionStats, bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st, ok := s.stats[sessionID]
	if !ok {
		return SessionStats{}, false
	}
	return *st, true
}

// Windows5mAnd1h returns rolled-up stats for the trailing 5-minute and
// 1-hour windows, per spec.md §4.9.
func (s *Store) Windows5mAnd1h(nowMs int64) (five, hour WindowStats) {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()
	return s.window5m.snapshot(nowMs), s.window1h.snapshot(nowMs)
}
