package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart to EventTypeFinal cover one streamed assistant reply.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"

	// Remote mirroring.
	EventTypeSyncFailed             EventType = "sync-failed"
	EventTypeConversationReconciled EventType = "conversation-reconciled"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON, set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) setSequenceNumber(n uint64) {
	e.Metadata_.SequenceNumber = n
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

// EventPartialCompletion carries one streamed fragment and the draft so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// EventSyncFailed reports a remote mirror operation that failed. The local
// state keeps the change.
type EventSyncFailed struct {
	EventImpl
	Operation   string `json:"operation"`
	ErrorString string `json:"error_string"`
}

func NewSyncFailedEvent(metadata EventMetadata, operation string, err error) *EventSyncFailed {
	return &EventSyncFailed{
		EventImpl:   EventImpl{Type_: EventTypeSyncFailed, Metadata_: metadata},
		Operation:   operation,
		ErrorString: err.Error(),
	}
}

// EventConversationReconciled reports that a locally created conversation was
// renamed to the id assigned by the remote backend.
type EventConversationReconciled struct {
	EventImpl
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id"`
}

func NewConversationReconciledEvent(metadata EventMetadata, localID, remoteID string) *EventConversationReconciled {
	return &EventConversationReconciled{
		EventImpl: EventImpl{Type_: EventTypeConversationReconciled, Metadata_: metadata},
		LocalID:   localID,
		RemoteID:  remoteID,
	}
}

var (
	_ Event = &EventPartialCompletionStart{}
	_ Event = &EventPartialCompletion{}
	_ Event = &EventFinal{}
	_ Event = &EventError{}
	_ Event = &EventSyncFailed{}
	_ Event = &EventConversationReconciled{}
)

func decodeInto[T interface {
	Event
	*E
}, E any](b []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "decoding event")
	}
	return T(&e), nil
}

// NewEventFromJson decodes a published payload back into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var head EventImpl
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, errors.Wrap(err, "decoding event header")
	}

	var (
		ev  Event
		err error
	)
	switch head.Type_ {
	case EventTypeStart:
		ev, err = decodeInto[*EventPartialCompletionStart](b)
	case EventTypePartialCompletion:
		ev, err = decodeInto[*EventPartialCompletion](b)
	case EventTypeFinal:
		ev, err = decodeInto[*EventFinal](b)
	case EventTypeError:
		ev, err = decodeInto[*EventError](b)
	case EventTypeSyncFailed:
		ev, err = decodeInto[*EventSyncFailed](b)
	case EventTypeConversationReconciled:
		ev, err = decodeInto[*EventConversationReconciled](b)
	default:
		return nil, errors.Errorf("unknown event type %q", head.Type_)
	}
	if err != nil {
		return nil, err
	}
	if p, ok := ev.(interface{ setPayload([]byte) }); ok {
		p.setPayload(b)
	}
	return ev, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
