package reconstruct

// streamEvent is the top-level envelope for every event on the wire. The
// Type field discriminates which of the optional fields are populated —
// mirrors the "message_start / content_block_start / content_block_delta /
// content_block_stop / message_delta / message_stop" lifecycle.
type streamEvent struct {
	Type         string         `json:"type"`
	Message      *messageHeader `json:"message,omitempty"`       // message_start
	Index        int            `json:"index,omitempty"`         // content_block_*
	ContentBlock *wireBlock     `json:"content_block,omitempty"` // content_block_start
	Delta        *streamDelta   `json:"delta,omitempty"`         // content_block_delta, message_delta
	Usage        *usageDelta    `json:"usage,omitempty"`         // message_delta (message_start carries usage in Message)
}

// messageHeader is the payload of a message_start event.
type messageHeader struct {
	ID    string      `json:"id"`
	Model string      `json:"model"`
	Usage *usageDelta `json:"usage,omitempty"`
}

// wireBlock is the payload of a content_block_start event's content_block
// field: the shape of a freshly opened block before any deltas arrive.
type wireBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// streamDelta carries incremental content for content_block_delta, or the
// terminal fields of message_delta.
type streamDelta struct {
	Type        string  `json:"type,omitempty"` // "text_delta" or "input_json_delta"
	Text        string  `json:"text,omitempty"`
	PartialJSON string  `json:"partial_json,omitempty"`
	StopReason  *string `json:"stop_reason,omitempty"`
}

// usageDelta is the usage object carried by message_start and message_delta.
// message_delta's usage only ever updates OutputTokens; the other fields
// are only ever present on message_start.
type usageDelta struct {
	InputTokens              int  `json:"input_tokens"`
	OutputTokens             int  `json:"output_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
}
