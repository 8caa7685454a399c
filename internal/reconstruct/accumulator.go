package reconstruct

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/dkowalski/relaytap/internal/captypes"
)

// accumulator is the mutable per-stream state the parser updates as events
// arrive. It is created at the first upstream byte, mutated until stream
// end, then finalised into a captypes.CaptureResponse and discarded — never
// reused across requests.
type accumulator struct {
	messageID string
	model     string
	usage     captypes.Usage

	stopReason *string

	content []captypes.ContentBlock

	// open block state, valid only between content_block_start and
	// content_block_stop for the block at openIndex.
	hasOpen     bool
	openIndex   int
	openType    string
	openID      string
	openName    string
	currentText string
	currentJSON string
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) handleMessageStart(e streamEvent) {
	if e.Message == nil {
		return
	}
	a.messageID = e.Message.ID
	a.model = e.Message.Model
	if e.Message.Usage != nil {
		a.applyUsage(*e.Message.Usage)
	}
}

func (a *accumulator) applyUsage(u usageDelta) {
	a.usage.InputTokens = u.InputTokens
	a.usage.OutputTokens = u.OutputTokens
	if u.CacheCreationInputTokens != nil {
		a.usage.CacheCreationInputTokens = u.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens != nil {
		a.usage.CacheReadInputTokens = u.CacheReadInputTokens
	}
}

func (a *accumulator) handleBlockStart(e streamEvent) {
	a.hasOpen = true
	a.openIndex = e.Index
	a.currentText = ""
	a.currentJSON = ""
	a.openID = ""
	a.openName = ""

	if e.ContentBlock == nil {
		a.openType = ""
		return
	}
	a.openType = e.ContentBlock.Type
	a.openID = e.ContentBlock.ID
	a.openName = e.ContentBlock.Name
	if a.openType == "text" {
		a.currentText = e.ContentBlock.Text
	}
}

func (a *accumulator) handleBlockDelta(e streamEvent) {
	if !a.hasOpen || e.Delta == nil {
		return
	}
	switch e.Delta.Type {
	case "text_delta":
		a.currentText += e.Delta.Text
	case "input_json_delta":
		a.currentJSON += e.Delta.PartialJSON
	}
}

func (a *accumulator) handleBlockStop() {
	if !a.hasOpen {
		// content_block_stop without an active block is ignored.
		return
	}

	switch a.openType {
	case "tool_use":
		a.content = append(a.content, captypes.ContentBlock{
			Type:  "tool_use",
			ID:    a.openID,
			Name:  a.openName,
			Input: parseToolInput(a.currentJSON),
		})
	default:
		// "text" and anything unrecognised is treated as text — the
		// accumulator always has currentText seeded (possibly empty) for
		// any block type that isn't tool_use.
		a.content = append(a.content, captypes.ContentBlock{
			Type: "text",
			Text: a.currentText,
		})
	}

	a.hasOpen = false
}

// parseToolInput parses a streamed tool_use input payload. A best-effort
// repair pass runs before giving up; a payload that still fails to parse,
// or that only "succeeds" by inventing a value jsonrepair had to fabricate
// out of thin air, yields "{}" rather than failing the whole reconstruction.
func parseToolInput(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	if danglingValue(raw) {
		// jsonrepair's missing-value rule would just insert a null here —
		// that's a fabricated value, not a recovery of truncated data.
		return json.RawMessage("{}")
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return json.RawMessage("{}")
}

// danglingValue reports whether raw breaks off immediately after a key's
// colon, with no value content at all. jsonrepair's missing-value rule
// "fixes" this shape by inserting a placeholder null, which would pass
// json.Valid but isn't a real reconstruction of the input — unlike, say,
// closing an unterminated string or array, which recovers data that was
// actually present.
func danglingValue(raw string) bool {
	trimmed := strings.TrimRight(raw, " \t\n\r")
	return strings.HasSuffix(trimmed, ":")
}

func (a *accumulator) handleMessageDelta(e streamEvent) {
	if e.Delta != nil && e.Delta.StopReason != nil {
		a.stopReason = e.Delta.StopReason
	}
	if e.Usage != nil {
		a.usage.OutputTokens = e.Usage.OutputTokens
	}
}

// finalise builds the CaptureResponse from the current state. Safe to call
// with a partial accumulator (missing message_stop is tolerated). errored
// forces StopReason to nil regardless of any message_delta already seen —
// an upstream read error mid-stream means the exchange never reached a
// real stop reason, even if one happened to arrive before the break.
func (a *accumulator) finalise(requestID, model string, timestamp time.Time, durationMs int64, errored bool) captypes.CaptureResponse {
	m := a.model
	if m == "" {
		m = model
	}
	content := a.content
	if content == nil {
		content = []captypes.ContentBlock{}
	}
	stopReason := a.stopReason
	if errored {
		stopReason = nil
	}
	return captypes.CaptureResponse{
		RequestID:  requestID,
		Timestamp:  timestamp,
		DurationMs: durationMs,
		Model:      m,
		Content:    content,
		StopReason: stopReason,
		Usage:      a.usage,
	}
}
