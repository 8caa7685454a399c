// Package reconstruct turns a streamed SSE response body into the same
// CaptureResponse shape a non-streaming call would have produced. The
// parser is fed synchronously from the proxy's copy loop, so it is built as
// an io.Writer rather than a bufio.Scanner over an io.Reader: each chunk the
// proxy reads from upstream and relays to the client is also handed to
// Write, and it must never block that relay waiting for more input.
package reconstruct

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/dkowalski/relaytap/internal/captypes"
)

// SSEParser accumulates content_block/message events from a stream of
// upstream bytes delivered in arbitrary-sized chunks — a chunk boundary may
// fall anywhere, including mid-line or mid-UTF8-rune. It never returns an
// error from Write: a malformed event is skipped rather than aborting the
// tee, matching the proxy's obligation to always relay client bytes
// unmodified regardless of what the internal parser makes of them.
type SSEParser struct {
	requestID string
	model     string
	started   time.Time

	acc  *accumulator
	done bool

	pending []byte // bytes since the last complete line

	curEvent string
	curData  strings.Builder
	haveData bool
}

// NewSSEParser creates a parser for one upstream stream. requestID and
// model seed the eventual CaptureResponse in case message_start never
// arrives (e.g. the connection drops before any bytes are sent).
func NewSSEParser(requestID, model string, started time.Time) *SSEParser {
	return &SSEParser{
		requestID: requestID,
		model:     model,
		started:   started,
		acc:       newAccumulator(),
	}
}

// Write implements io.Writer. It always reports having consumed all of p.
func (p *SSEParser) Write(b []byte) (int, error) {
	n := len(b)
	if p.done {
		return n, nil
	}

	p.pending = append(p.pending, b...)
	for {
		idx := bytes.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := p.pending[:idx]
		p.pending = p.pending[idx+1:]
		p.consumeLine(trimCR(line))
		if p.done {
			break
		}
	}
	return n, nil
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// consumeLine processes one complete SSE line, following the same
// event/data/blank-line framing as the wire format's "event: X\ndata:
// Y\n\n" grammar. A blank line dispatches the event accumulated so far.
func (p *SSEParser) consumeLine(line []byte) {
	if len(line) == 0 {
		p.dispatch()
		return
	}
	if line[0] == ':' {
		// comment / keep-alive line, ignored
		return
	}

	s := string(line)
	switch {
	case strings.HasPrefix(s, "event:"):
		p.curEvent = strings.TrimSpace(strings.TrimPrefix(s, "event:"))
	case strings.HasPrefix(s, "data:"):
		data := strings.TrimSpace(strings.TrimPrefix(s, "data:"))
		if p.haveData {
			p.curData.WriteByte('\n')
		}
		p.curData.WriteString(data)
		p.haveData = true
	default:
		// unrecognised field, ignored
	}
}

// dispatch fires at a blank line: the event accumulated since the previous
// blank line (or stream start) is complete.
func (p *SSEParser) dispatch() {
	event := p.curEvent
	data := p.curData.String()
	p.curEvent = ""
	p.curData.Reset()
	p.haveData = false

	if data == "" {
		return
	}
	if data == "[DONE]" {
		p.done = true
		return
	}
	if event == "ping" {
		return
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		// malformed event frame: skip it, keep parsing the rest of the
		// stream rather than aborting the tee.
		return
	}
	// The named event field, when present on the wire, takes precedence
	// over the type embedded in the JSON payload — they normally agree.
	if event != "" {
		ev.Type = event
	}

	switch ev.Type {
	case "message_start":
		p.acc.handleMessageStart(ev)
	case "content_block_start":
		p.acc.handleBlockStart(ev)
	case "content_block_delta":
		p.acc.handleBlockDelta(ev)
	case "content_block_stop":
		p.acc.handleBlockStop()
	case "message_delta":
		p.acc.handleMessageDelta(ev)
	case "message_stop":
		p.done = true
	}
}

// Finish finalises the reconstructed response as of whatever events have
// been consumed so far. Safe to call after the stream ends normally
// (message_stop / [DONE]) or after premature EOF — a truncated stream
// simply yields a partial CaptureResponse. errored marks a stream that
// ended via an upstream read error rather than a clean EOF; it forces the
// persisted StopReason to nil regardless of what was seen before the break.
func (p *SSEParser) Finish(finishedAt time.Time, errored bool) captypes.CaptureResponse {
	durationMs := finishedAt.Sub(p.started).Milliseconds()
	return p.acc.finalise(p.requestID, p.model, finishedAt, durationMs, errored)
}
