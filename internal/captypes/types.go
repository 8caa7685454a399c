// Package captypes defines the data model captured from a single proxied
// exchange: the request sent to the upstream API, the response reconstructed
// from its stream, and the line-delimited log entry that wraps either one.
package captypes

import (
	"bytes"
	"encoding/json"
	"time"
)

// ContentBlock is a tagged variant over the block kinds the upstream wire
// protocol can carry inside a message or a reconstructed response. Only the
// fields relevant to Type are populated; the rest are zero.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string or []ContentBlock
	IsError   *bool           `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource holds an inline image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// SystemBlock is one element of CaptureRequest.System.
type SystemBlock struct {
	Type         string      `json:"type"`
	Text         string      `json:"text"`
	CacheControl interface{} `json:"cache_control,omitempty"`
}

// MessageContent is either a bare string or an ordered list of content
// blocks. It round-trips through JSON as whichever shape it was given.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// MarshalJSON emits a bare string when Blocks is nil, otherwise an array
// (an empty non-nil Blocks emits []).
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Blocks)
}

// Message is one entry of CaptureRequest.Messages.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// Tool is one entry of CaptureRequest.Tools.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// System is CaptureRequest.System: ordered system blocks, accepted at the
// JSON boundary either as a bare string or as an array. Canonical shape is
// always []SystemBlock internally; see DESIGN.md for the reasoning.
type System []SystemBlock

// UnmarshalJSON accepts a bare string (wrapped into a single text block) or
// an array of system blocks.
func (s *System) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = System{{Type: "text", Text: text}}
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*s = blocks
	return nil
}

// CaptureRequest is the record persisted at ingress, before the upstream
// connection is opened. It is created once and never mutated.
type CaptureRequest struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
	System    System    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
}

// Usage is CaptureResponse.Usage. Fields are non-negative; the two cache
// fields are omitted from the JSON when absent, not zeroed.
type Usage struct {
	InputTokens              int  `json:"input_tokens"`
	OutputTokens             int  `json:"output_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
}

// CaptureResponse is the record persisted once a stream (or a non-streaming
// response) has been fully reconstructed. It is created once and never
// mutated.
type CaptureResponse struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason *string        `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// LogEntryType discriminates LogEntry.Type.
type LogEntryType string

const (
	LogEntryRequest  LogEntryType = "request"
	LogEntryResponse LogEntryType = "response"
)

// LogEntry is one line of the capture log: a tagged envelope over whichever
// entity it carries, plus the emission timestamp. Only one of Request /
// Response is populated, matching Type.
type LogEntry struct {
	Type      LogEntryType     `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Request   *CaptureRequest  `json:"-"`
	Response  *CaptureResponse `json:"-"`
}

// logEntryWire is the on-disk/wire shape: a single "data" field holding
// whichever entity Type names, matching §6's log file format.
type logEntryWire struct {
	Type      LogEntryType    `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON writes the entry in the §6 wire shape: {"type","timestamp","data"}.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	var data []byte
	var err error
	switch e.Type {
	case LogEntryRequest:
		data, err = json.Marshal(e.Request)
	case LogEntryResponse:
		data, err = json.Marshal(e.Response)
	default:
		data = []byte("null")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(logEntryWire{Type: e.Type, Timestamp: e.Timestamp, Data: data})
}

// UnmarshalJSON parses the §6 wire shape back into a LogEntry.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var wire logEntryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.Type = wire.Type
	e.Timestamp = wire.Timestamp
	switch wire.Type {
	case LogEntryRequest:
		var req CaptureRequest
		if err := json.Unmarshal(wire.Data, &req); err != nil {
			return err
		}
		e.Request = &req
	case LogEntryResponse:
		var resp CaptureResponse
		if err := json.Unmarshal(wire.Data, &resp); err != nil {
			return err
		}
		e.Response = &resp
	}
	return nil
}

// Pair is a CaptureRequest together with its matching CaptureResponse, or
// nil if none has arrived yet. Pairing is defined only via
// Response.RequestID == Request.ID.
type Pair struct {
	Request  CaptureRequest   `json:"request"`
	Response *CaptureResponse `json:"response"`
}
