package forwarder

import (
	"bytes"

	"github.com/tidwall/gjson"

	"github.com/joestump/codex-helper/internal/sessionstate"
)

// maxUsageLineBytes bounds a single buffered line before the scanner gives
// up on it, so a pathological non-newline-terminated stream can't grow
// memory unbounded.
const maxUsageLineBytes = 256 * 1024

// usageScanner is a best-effort, streaming scanner for the "usage" object
// that both OpenAI- and Anthropic-style SSE/JSONL responses emit near the
// end of a turn. It never buffers the full body: lines are scanned and
// discarded as they arrive, matching spec.md §4.9's "never delays or
// blocks delivery of the stream" requirement. tidwall/gjson is used for
// exactly this kind of throwaway field pluck, per DESIGN.md's C8 entry.
type usageScanner struct {
	line  []byte
	usage sessionstate.Usage
}

func newUsageScanner() *usageScanner {
	return &usageScanner{}
}

func (s *usageScanner) feed(chunk []byte) {
	for _, b := range chunk {
		if b == '\n' {
			s.scanLine(s.line)
			s.line = s.line[:0]
			continue
		}
		if len(s.line) < maxUsageLineBytes {
			s.line = append(s.line, b)
		}
	}
}

func (s *usageScanner) scanLine(line []byte) {
	if !bytes.Contains(line, []byte("usage")) {
		return
	}
	jsonPart := line
	if i := bytes.IndexByte(line, '{'); i >= 0 {
		jsonPart = line[i:]
	}
	if !gjson.ValidBytes(jsonPart) {
		return
	}
	root := gjson.ParseBytes(jsonPart)
	usageVal := root.Get("usage")
	if !usageVal.Exists() {
		usageVal = root.Get("response.usage")
	}
	if !usageVal.Exists() {
		return
	}

	in := firstNonZero(usageVal, "input_tokens", "prompt_tokens")
	out := firstNonZero(usageVal, "output_tokens", "completion_tokens")
	reasoning := firstNonZero(usageVal, "output_tokens_details.reasoning_tokens", "completion_tokens_details.reasoning_tokens")
	total := firstNonZero(usageVal, "total_tokens")
	if total == 0 {
		total = in + out
	}

	s.usage = sessionstate.Usage{
		InputTokens:     in,
		OutputTokens:    out,
		ReasoningTokens: reasoning,
		TotalTokens:     total,
	}
}

func firstNonZero(v gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r.Int()
		}
	}
	return 0
}
