package events

import (
	"github.com/rs/zerolog"
)

// EventMetadata identifies what an event is about. SequenceNumber is filled in
// by the PublisherManager.
type EventMetadata struct {
	ConversationID string `json:"conversation_id" yaml:"conversation_id"`
	MessageID      string `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	SequenceNumber uint64 `json:"sequence_number" yaml:"sequence_number"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("conversation_id", em.ConversationID)
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
	e.Uint64("sequence_number", em.SequenceNumber)
}
