// Package notify is C12: the completion-event aggregator behind the
// `notify <service> <json>` CLI subcommand, coalescing/cooldown logic per
// spec.md §4.12, fed by proxyconfig.NotifyPolicyConfig.
package notify

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// Redactor replaces known upstream credential values with
// [REDACTED:<service>:<config>:<index>:<field>] placeholders before an aggregated notification is
// handed to a system toast or exec callback. The scan-and-replace
// technique is ported from internal/session/redaction.go's
// RedactionFilter, rebuilt here to scan resolved upstream auth secrets
// (auth_token/api_key, inline or env-resolved) instead of BROWSER_CRED_*
// environment variables, since a notify payload can otherwise leak the
// provider token via an echoed error message.
type Redactor struct {
	replacements map[string]string
}

// NewRedactor builds a Redactor from every resolvable auth secret across
// both services' upstreams, enabled or not, per SPEC_FULL.md's notify redaction
// requirement.
func NewRedactor(cfg *proxyconfig.ProxyConfig) *Redactor {
	r := &Redactor{replacements: map[string]string{}}
	r.collect(&cfg.Codex, "codex")
	r.collect(&cfg.Claude, "claude")
	return r
}

func (r *Redactor) collect(svc *proxyconfig.ServiceConfigMgr, serviceName string) {
	for cfgName, entry := range svc.Configs {
		if entry == nil {
			continue
		}
		for idx, up := range entry.Upstreams {
			label := serviceName + ":" + cfgName + ":" + strconv.Itoa(idx)
			if token, ok := up.Auth.ResolveAuthToken(); ok {
				r.add(token, label+":auth_token")
			}
			if key, ok := up.Auth.ResolveAPIKey(); ok {
				r.add(key, label+":api_key")
			}
		}
	}
}

func (r *Redactor) add(value, label string) {
	if len(value) < 4 {
		// Too short to redact safely; a blanket replace would corrupt
		// unrelated text.
		return
	}
	placeholder := "[REDACTED:" + label + "]"
	r.replacements[value] = placeholder
	if encoded := url.QueryEscape(value); encoded != value {
		r.replacements[encoded] = placeholder
	}
}

// Redact replaces every known secret value in input with its placeholder.
func (r *Redactor) Redact(input string) string {
	if len(r.replacements) == 0 {
		return input
	}
	out := input
	for value, placeholder := range r.replacements {
		out = strings.ReplaceAll(out, value, placeholder)
	}
	return out
}
