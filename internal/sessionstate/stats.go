package sessionstate

import "sort"

// WindowStats is a rolled-up view over a trailing time window, per
// spec.md §4.9: count of total/ok/429/5xx, p95 latency, average attempts.
type WindowStats struct {
	Total        int64
	OK           int64
	RateLimited  int64
	ServerErrors int64
	P95LatencyMs int64
	AvgAttempts  float64
}

type windowSample struct {
	atMs       int64
	statusCode int
	durationMs int64
	attempts   int
}

// statsWindow keeps raw samples for spanMs and computes WindowStats on
// demand, evicting samples older than the window on each record/snapshot.
// This trades memory for simplicity — acceptable since only the last
// spanMs of traffic is retained and snapshots are infrequent (control-API
// reads), matching the short-critical-section, no-background-task style
// the rest of this package follows.
type statsWindow struct {
	spanMs  int64
	samples []windowSample
}

func newStatsWindow(spanMs int64) *statsWindow {
	return &statsWindow{spanMs: spanMs}
}

func (w *statsWindow) record(fr FinishedRequest) {
	w.samples = append(w.samples, windowSample{
		atMs:       fr.EndedAtMs,
		statusCode: fr.StatusCode,
		durationMs: fr.DurationMs,
		attempts:   fr.Retry.Attempts,
	})
	w.evict(fr.EndedAtMs)
}

func (w *statsWindow) evict(nowMs int64) {
	cutoff := nowMs - w.spanMs
	i := 0
	for ; i < len(w.samples); i++ {
		if w.samples[i].atMs >= cutoff {
			break
		}
	}
	if i > 0 {
		w.samples = append([]windowSample(nil), w.samples[i:]...)
	}
}

func (w *statsWindow) snapshot(nowMs int64) WindowStats {
	w.evict(nowMs)
	var out WindowStats
	if len(w.samples) == 0 {
		return out
	}
	latencies := make([]int64, 0, len(w.samples))
	var attemptsSum int
	for _, s := range w.samples {
		out.Total++
		switch {
		case s.statusCode == 429:
			out.RateLimited++
		case s.statusCode >= 500:
			out.ServerErrors++
		case s.statusCode >= 200 && s.statusCode < 400:
			out.OK++
		}
		latencies = append(latencies, s.durationMs)
		attemptsSum += s.attempts
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := int(float64(len(latencies)) * 0.95)
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	out.P95LatencyMs = latencies[idx]
	out.AvgAttempts = float64(attemptsSum) / float64(len(w.samples))
	return out
}
