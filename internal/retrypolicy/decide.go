package retrypolicy

import "github.com/joestump/codex-helper/internal/classify"

// Outcome is one attempt's classified result, as fed to ShouldRetry.
type Outcome struct {
	StatusCode int // 0 if no HTTP response was received
	Class      classify.Class
}

// ShouldRetry reports whether layer should retry outcome, per spec.md
// §4.6: retry iff status or class intersects the layer's on_status/
// on_class and neither intersects the policy's never_on_status/
// never_on_class.
//
// never_on_status is an absolute veto checked first. A layer's explicit
// on_status match is then checked before never_on_class, since
// client_error_non_retryable is a catch-all bucket for "other 4xx not in
// the retry list" (spec.md §4.6) — a status a layer explicitly lists
// (e.g. balanced's provider layer retrying 401/403/404/408) must win over
// that generic class veto, or no 4xx could ever fail over.
func (p Policy) ShouldRetry(layer Layer, outcome Outcome) bool {
	if p.NeverOnStatus != "" && outcome.StatusCode != 0 && StatusSetContains(p.NeverOnStatus, outcome.StatusCode) {
		return false
	}
	if outcome.StatusCode != 0 && layer.OnStatus != "" && StatusSetContains(layer.OnStatus, outcome.StatusCode) {
		return true
	}
	if ClassSetContains(p.NeverOnClass, string(outcome.Class)) {
		return false
	}
	if ClassSetContains(layer.OnClass, string(outcome.Class)) {
		return true
	}
	return false
}
