package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joestump/codex-helper/internal/notify"
	"github.com/joestump/codex-helper/internal/procconfig"
	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// newNotifyCmd builds `notify <service> <json>`: the external collaborator
// hook (e.g. Codex's own `notify` CLI setting) that feeds one completion
// record into the aggregator, per spec.md §4.12. The payload argument may
// be omitted in favor of piping JSON on stdin, matching the teacher-adjacent
// original CLI's "omit for manual testing via stdin" affordance.
func newNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <service> [json]",
		Short: "submit a completion record to the notification aggregator",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := args[0]
			var raw []byte
			if len(args) == 2 {
				raw = []byte(args[1])
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = data
			}
			return runNotify(service, raw)
		},
	}
	return cmd
}

// notifyPayload is the best-effort shape accepted on the notify CLI
// surface: either the aggregator's own {thread_id, duration_ms, summary}
// fields, or Codex's notify-hook shape ({"type", "turn-id",
// "last-assistant-message"}), whichever the caller sends.
type notifyPayload struct {
	ThreadID             string `json:"thread_id"`
	TurnID               string `json:"turn-id"`
	DurationMs           int64  `json:"duration_ms"`
	Summary              string `json:"summary"`
	LastAssistantMessage string `json:"last-assistant-message"`
	Type                 string `json:"type"`
}

// resolveThreadAndSummary applies the field-fallback chain across the two
// accepted payload shapes: the aggregator's own fields take precedence,
// falling back to Codex's notify-hook fields.
func resolveThreadAndSummary(payload notifyPayload) (threadID, summary string) {
	threadID = payload.ThreadID
	if threadID == "" {
		threadID = payload.TurnID
	}
	summary = payload.Summary
	if summary == "" {
		summary = payload.LastAssistantMessage
	}
	if summary == "" {
		summary = payload.Type
	}
	return threadID, summary
}

func runNotify(service string, raw []byte) error {
	pc := procconfig.Load()
	pc.Service = service

	cfg, err := proxyconfig.Load(pc.HelperHome)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var payload notifyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse notify payload: %w", err)
	}
	threadID, summary := resolveThreadAndSummary(payload)

	agg := notify.NewAggregator(cfg)
	agg.Submit(notify.Event{
		Service:    service,
		ThreadID:   threadID,
		DurationMs: payload.DurationMs,
		Summary:    summary,
		AtMs:       time.Now().UnixMilli(),
	})

	// The aggregator's flush is scheduled on a background timer; give it
	// time to fire before this one-shot process exits. Completion
	// notifications are not latency-sensitive, so a short wait here is
	// preferable to the process exiting before merge_window_ms elapses.
	grace := time.Duration(cfg.Notify.Policy.MergeWindowMs)*time.Millisecond + 500*time.Millisecond
	time.Sleep(grace)
	return nil
}
