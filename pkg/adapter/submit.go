package adapter

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/completion"
	"github.com/go-go-golems/chatsync/pkg/events"
	"github.com/go-go-golems/chatsync/pkg/render"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotConfigured       = errors.New("no completion endpoint configured")
	ErrEmptyInput          = errors.New("input is empty")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrBusy                = errors.New("conversation is waiting for a response")
)

// SubmitOutcome is the terminal state of a submission.
type SubmitOutcome int

const (
	// SubmitRejected means nothing was committed, see Result.Err.
	SubmitRejected SubmitOutcome = iota
	// SubmitCommitted means the assistant reply was committed.
	SubmitCommitted
	// SubmitEmpty means the stream ended without content; only the user
	// message was committed.
	SubmitEmpty
	// SubmitErrored means the stream failed and the error message was
	// committed in place of a reply.
	SubmitErrored
)

func (o SubmitOutcome) String() string {
	switch o {
	case SubmitCommitted:
		return "committed"
	case SubmitEmpty:
		return "empty"
	case SubmitErrored:
		return "errored"
	default:
		return "rejected"
	}
}

type Result struct {
	Outcome        SubmitOutcome
	ConversationID string
	UserMessage    chat.Message
	// Reply is the committed assistant message: the streamed reply, or the
	// error message when Outcome is SubmitErrored.
	Reply chat.Message
	Err   error
}

// Submit sends input to the given conversation, creating one from the input
// when conversationID is empty, and streams the assistant reply into the
// conversation's pending slot until it can be committed.
//
// Submit blocks until the stream ends. ctx is handed to the completion
// request and the remote mirror calls; the adapter adds no timeout of its own.
func (a *Adapter) Submit(ctx context.Context, conversationID string, input string) Result {
	if a.completer == nil {
		return Result{ConversationID: conversationID, Err: ErrNotConfigured}
	}
	if strings.TrimSpace(input) == "" {
		return Result{ConversationID: conversationID, Err: ErrEmptyInput}
	}

	if conversationID == "" {
		conversationID = a.CreateConversation(ctx, input)
	} else if _, ok := a.store.Conversation(conversationID); !ok {
		return Result{ConversationID: conversationID, Err: errors.Wrap(ErrUnknownConversation, conversationID)}
	}
	if a.store.IsLoading(conversationID) {
		return Result{ConversationID: conversationID, Err: ErrBusy}
	}

	user := chat.NewUserMessage(input)
	user.CreatedAt = a.now()
	a.AppendMessage(ctx, conversationID, user)
	a.store.SetLoading(conversationID, true)

	res := a.stream(ctx, conversationID)
	res.UserMessage = user

	id := a.resolve(conversationID)
	a.store.ClearPending(id)
	a.store.SetLoading(id, false)
	res.ConversationID = id
	return res
}

func (a *Adapter) request(conversationID string) completion.Request {
	req := completion.Request{Model: a.model, MaxTokens: a.maxTokens}
	conv, ok := a.store.Conversation(conversationID)
	if !ok {
		return req
	}
	req.Messages = make([]completion.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		req.Messages = append(req.Messages, completion.Message{Role: m.Role, Content: m.Content})
	}
	if p, ok := a.store.ActivePrompt(); ok {
		req.System = render.SystemPrompt(p.Content, render.PromptData{Conversation: conv, Now: a.now()})
	}
	return req
}

func (a *Adapter) stream(ctx context.Context, conversationID string) Result {
	start := time.Now()
	draft := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		CreatedAt: a.now(),
	}
	meta := func() events.EventMetadata {
		return events.EventMetadata{ConversationID: a.resolve(conversationID), MessageID: draft.ID}
	}
	observe := func(outcome SubmitOutcome) {
		if a.metrics != nil {
			a.metrics.CompletionsTotal.WithLabelValues(outcome.String()).Inc()
			a.metrics.CompletionDuration.Observe(time.Since(start).Seconds())
		}
	}

	a.publish(events.NewStartEvent(meta()))

	s, err := a.completer.Stream(ctx, a.request(conversationID))
	if err != nil {
		observe(SubmitErrored)
		return a.fail(ctx, conversationID, meta(), errors.Wrap(err, "starting completion"))
	}
	defer func() {
		_ = s.Close()
	}()

	var content strings.Builder
	for {
		text, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			observe(SubmitErrored)
			return a.fail(ctx, conversationID, meta(), errors.Wrap(err, "reading completion"))
		}
		content.WriteString(text)
		draft.Content = content.String()
		a.store.SetPending(a.resolve(conversationID), draft)
		a.publish(events.NewPartialCompletionEvent(meta(), text, draft.Content))
		if a.metrics != nil {
			a.metrics.StreamDeltasTotal.Inc()
		}
	}

	if draft.Content == "" {
		observe(SubmitEmpty)
		a.logger.Debug().Str("conversation_id", conversationID).Msg("Completion ended without content")
		a.publish(events.NewFinalEvent(meta(), ""))
		return Result{Outcome: SubmitEmpty}
	}

	a.AppendMessage(ctx, a.resolve(conversationID), draft)
	a.publish(events.NewFinalEvent(meta(), draft.Content))
	observe(SubmitCommitted)
	return Result{Outcome: SubmitCommitted, Reply: draft}
}

// fail commits the fixed error message in place of the reply, through the
// same dual-write path as any other message.
func (a *Adapter) fail(ctx context.Context, conversationID string, meta events.EventMetadata, err error) Result {
	a.logger.Error().Err(err).Str("conversation_id", meta.ConversationID).Msg("Completion failed")
	reply := chat.NewAssistantMessage(a.errorMessage)
	reply.CreatedAt = a.now()
	a.AppendMessage(ctx, a.resolve(conversationID), reply)
	a.publish(events.NewErrorEvent(meta, err))
	return Result{Outcome: SubmitErrored, Reply: reply, Err: err}
}
