// Package sessionstate is the in-memory observability/state store (C9):
// active and finished request rings, per-session stats, override maps,
// usage rollups. Nothing here is persisted across restarts, per spec.md
// §1/§6.
package sessionstate

// Usage holds token-usage counters parsed best-effort from a streaming
// response (spec.md §4.8/§9 — left zero-valued on parse failure).
type Usage struct {
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	TotalTokens     int64
}

// RetryInfo records how many attempts a request took and which upstream
// base URLs were tried, in order, per spec.md §3.
type RetryInfo struct {
	Attempts     int
	UpstreamChain []string
}

// ActiveRequest is an in-flight request, per spec.md §3.
type ActiveRequest struct {
	ID              int64
	Service         string
	Method          string
	Path            string
	StartedAtMs     int64
	SessionID       string
	CWD             string
	Model           string
	ReasoningEffort string
	ConfigName      string
	ProviderID      string
	UpstreamBaseURL string
}

// FinishedRequest is a completed request, per spec.md §3.
type FinishedRequest struct {
	ID              int64
	Service         string
	Method          string
	Path            string
	StartedAtMs     int64
	EndedAtMs       int64
	StatusCode      int
	DurationMs      int64
	TTFBMs          *int64
	SessionID       string
	CWD             string
	Model           string
	ReasoningEffort string
	ConfigName      string
	ProviderID      string
	UpstreamBaseURL string
	Usage           *Usage
	Retry           RetryInfo
}

// SessionStats aggregates token usage and turn counts per session_id, per
// spec.md §3.
type SessionStats struct {
	TurnsTotal     int64
	TurnsWithUsage int64
	LastModel      string
	LastConfigName string
	TotalUsage     Usage
}
