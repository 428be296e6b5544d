package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// pendingThread accumulates events for one thread id during its merge
// window, per spec.md §4.12.
type pendingThread struct {
	events    []Event
	firstAtMs int64
	timer     *time.Timer
}

// Aggregator coalesces admitted events per thread and flushes one
// notification per thread per merge window, subject to global and
// per-thread cooldowns. System-toast dispatch shells out per-OS the way
// original_source's notify module does (powershell.exe on Windows,
// osascript on macOS, notify-send on Linux) — no pack library performs
// desktop toasts, so this one concern stays on os/exec by necessity.
type Aggregator struct {
	policy   Policy
	system   proxyconfig.NotifySystemConfig
	execCfg  proxyconfig.NotifyExecConfig
	redactor *Redactor
	now      func() int64

	mu      sync.Mutex
	gate    *gate
	pending map[string]*pendingThread
}

// NewAggregator builds an Aggregator from the notify section of a loaded
// ProxyConfig.
func NewAggregator(cfg *proxyconfig.ProxyConfig) *Aggregator {
	return &Aggregator{
		policy:   NewPolicy(cfg.Notify.Policy),
		system:   cfg.Notify.System,
		execCfg:  cfg.Notify.Exec,
		redactor: NewRedactor(cfg),
		now:      func() int64 { return time.Now().UnixMilli() },
		gate:     newGate(),
		pending:  map[string]*pendingThread{},
	}
}

// Submit admits ev (dropping it if it's below the duration floor or inside
// its thread's cooldown) and schedules/extends that thread's merge-window
// flush.
func (a *Aggregator) Submit(ev Event) {
	if !a.policy.Admit(ev) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	nowMs := a.now()
	if a.policy.perThreadCooldownActive(a.gate, ev.ThreadID, nowMs) {
		return
	}

	pt, ok := a.pending[ev.ThreadID]
	if !ok {
		pt = &pendingThread{firstAtMs: nowMs}
		a.pending[ev.ThreadID] = pt
		pt.timer = time.AfterFunc(time.Duration(a.policy.cfg.MergeWindowMs)*time.Millisecond, func() {
			a.flush(ev.ThreadID)
		})
	}
	pt.events = append(pt.events, ev)
}

// flush emits one aggregated notification for threadID once its merge
// window elapses, subject to the global cooldown. The per-thread cooldown
// is recorded even when the global cooldown suppresses delivery, so a
// busy thread doesn't re-attempt on every subsequent event within its own
// cooldown window.
func (a *Aggregator) flush(threadID string) {
	a.mu.Lock()
	pt, ok := a.pending[threadID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, threadID)
	events := pt.events
	nowMs := a.now()
	a.gate.lastPerThreadAtMs[threadID] = nowMs

	suppressed := a.policy.globalCooldownActive(a.gate, nowMs)
	if !suppressed {
		a.gate.lastGlobalAtMs = nowMs
	}
	a.mu.Unlock()

	if suppressed || len(events) == 0 {
		return
	}

	a.deliver(threadID, events)
}

// aggregatedPayload is what gets written to the exec callback's stdin and
// summarized in the system toast.
type aggregatedPayload struct {
	ThreadID string  `json:"thread_id"`
	Count    int     `json:"count"`
	Summary  string  `json:"summary"`
	Events   []Event `json:"events"`
}

func (a *Aggregator) deliver(threadID string, events []Event) {
	summary := events[len(events)-1].Summary
	if len(events) > 1 {
		summary = fmt.Sprintf("%s (+%d more)", summary, len(events)-1)
	}
	summary = a.redactor.Redact(summary)

	payload := aggregatedPayload{ThreadID: threadID, Count: len(events), Summary: summary, Events: events}

	if a.system.Enabled {
		a.showToast(threadID, summary)
	}
	if a.execCfg.Enabled && len(a.execCfg.Command) > 0 {
		a.runExec(payload)
	}
}

func (a *Aggregator) showToast(title, body string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.Command("osascript", "-e", script)
	case "windows":
		script := fmt.Sprintf(`[Windows.UI.Notifications.ToastNotificationManager,Windows.UI.Notifications,ContentType=WindowsRuntime] | Out-Null; Write-Output %q`, body)
		cmd = exec.Command("powershell.exe", "-NoProfile", "-Command", script)
	default:
		cmd = exec.Command("notify-send", title, body)
	}
	if err := cmd.Run(); err != nil {
		log.Printf("notify: system toast failed: %v", err)
	}
}

func (a *Aggregator) runExec(payload aggregatedPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify: marshal aggregated payload: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.execCfg.Command[0], a.execCfg.Command[1:]...)
	cmd.Stdin = bytes.NewReader(body)
	if err := cmd.Run(); err != nil {
		log.Printf("notify: exec callback failed: %v", err)
	}
}
