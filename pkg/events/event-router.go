package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TopicChat is the topic the chat adapter publishes on.
const TopicChat = "chat"

// ChatEventHandler receives decoded events from a router handler.
type ChatEventHandler interface {
	HandleStart(ctx context.Context, e *EventPartialCompletionStart) error
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
	HandleSyncFailed(ctx context.Context, e *EventSyncFailed) error
	HandleConversationReconciled(ctx context.Context, e *EventConversationReconciled) error
}

// EventRouter bundles an in-process gochannel pubsub with a watermill router.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, errors.Wrap(err, "creating watermill router")
	}
	ret.router = router

	return ret, nil
}

// Close closes the publisher and the router. Errors are logged, not returned.
func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddChatEventHandler registers a handler that decodes events and dispatches
// them to h. Undecodable payloads are logged and acknowledged.
func (e *EventRouter) AddChatEventHandler(name string, topic string, h ChatEventHandler) {
	e.AddHandler(name, topic, func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse chat event")
			return nil
		}

		ctx := msg.Context()
		switch ev_ := ev.(type) {
		case *EventPartialCompletionStart:
			return h.HandleStart(ctx, ev_)
		case *EventPartialCompletion:
			return h.HandlePartialCompletion(ctx, ev_)
		case *EventFinal:
			return h.HandleFinal(ctx, ev_)
		case *EventError:
			return h.HandleError(ctx, ev_)
		case *EventSyncFailed:
			return h.HandleSyncFailed(ctx, ev_)
		case *EventConversationReconciled:
			return h.HandleConversationReconciled(ctx, ev_)
		}
		return nil
	})
}

// DumpRawEvents returns a handler printing each payload as indented JSON.
// Unless verbose, the metadata block is flattened to the conversation id.
func (e *EventRouter) DumpRawEvents(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		var s map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		if !e.verbose {
			if meta, ok := s["meta"].(map[string]interface{}); ok {
				s["conversation_id"] = meta["conversation_id"]
			}
			delete(s, "meta")
		}
		s_, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(s_))
		return err
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
