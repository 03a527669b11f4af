package completion

import (
	"github.com/rs/zerolog"
)

type StreamingEventType string

const (
	PingType              StreamingEventType = "ping"
	MessageStartType      StreamingEventType = "message_start"
	ContentBlockStartType StreamingEventType = "content_block_start"
	ContentBlockDeltaType StreamingEventType = "content_block_delta"
	ContentBlockStopType  StreamingEventType = "content_block_stop"
	MessageDeltaType      StreamingEventType = "message_delta"
	MessageStopType       StreamingEventType = "message_stop"
	ErrorType             StreamingEventType = "error"
)

type DeltaType string

const (
	TextDeltaType      DeltaType = "text_delta"
	InputJSONDeltaType DeltaType = "input_json_delta"
)

// StreamingEvent is one decoded frame of a streamed completion. Only the
// fields chatsync reads are modelled; unknown fields are ignored.
type StreamingEvent struct {
	Type  StreamingEventType `json:"type"`
	Index int                `json:"index,omitempty"`
	Delta *Delta             `json:"delta,omitempty"`
	Error *ErrorDetail       `json:"error,omitempty"`
	Usage *Usage             `json:"usage,omitempty"`
}

type Delta struct {
	Type       DeltaType `json:"type"`
	Text       string    `json:"text,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TextDelta returns the text fragment carried by the event, if any. Both the
// typed provider shape and a bare {"delta":{"text":...}} frame are accepted.
func (s StreamingEvent) TextDelta() (string, bool) {
	if s.Delta == nil || s.Delta.Text == "" {
		return "", false
	}
	if s.Type != "" && s.Type != ContentBlockDeltaType {
		return "", false
	}
	if s.Delta.Type != "" && s.Delta.Type != TextDeltaType {
		return "", false
	}
	return s.Delta.Text, true
}

func (s StreamingEvent) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(s.Type))
	if s.Index != 0 {
		e.Int("index", s.Index)
	}
	if s.Delta != nil {
		e.Object("delta", s.Delta)
	}
	if s.Error != nil {
		e.Object("error", s.Error)
	}
	if s.Usage != nil {
		e.Int("input_tokens", s.Usage.InputTokens).Int("output_tokens", s.Usage.OutputTokens)
	}
}

func (d Delta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(d.Type))
	if d.Text != "" {
		e.Str("text", d.Text)
	}
	if d.StopReason != "" {
		e.Str("stop_reason", d.StopReason)
	}
}

func (err ErrorDetail) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", err.Type)
	e.Str("message", err.Message)
}

var _ zerolog.LogObjectMarshaler = StreamingEvent{}
