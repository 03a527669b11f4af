package adapter

import (
	"context"
	"sort"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/events"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/pkg/errors"
)

const (
	opCreateConversation = "create_conversation"
	opUpdateTitle        = "update_conversation_title"
	opDeleteConversation = "delete_conversation"
	opAppendMessage      = "append_message"
)

type outboxOp struct {
	name string
	// creates is set for the op creating the conversation remotely; run
	// returns the assigned id.
	creates bool
	run     func(ctx context.Context, conversationID string) (string, error)
}

// mirror runs op against the backend. While a conversation has queued
// operations, new ones are queued behind them to keep remote order.
func (a *Adapter) mirror(ctx context.Context, conversationID string, op outboxOp) (string, bool) {
	if a.backend == nil {
		return "", false
	}

	a.mu.Lock()
	if len(a.outbox[conversationID]) > 0 {
		a.outbox[conversationID] = append(a.outbox[conversationID], op)
		a.mu.Unlock()
		a.logger.Debug().Str("conversation_id", conversationID).Str("operation", op.name).Msg("Queued behind unsynced operations")
		a.store.MarkUnsynced(conversationID)
		return "", false
	}
	a.mu.Unlock()

	a.countOperation(op.name)
	id, err := op.run(ctx, conversationID)
	if err != nil {
		a.mu.Lock()
		a.outbox[conversationID] = append(a.outbox[conversationID], op)
		a.mu.Unlock()
		a.mirrorFailed(conversationID, op.name, err)
		return "", false
	}
	return id, true
}

func (a *Adapter) mirrorFailed(conversationID string, op string, err error) {
	a.logger.Warn().Err(err).
		Str("conversation_id", conversationID).
		Str("operation", op).
		Msg("Remote mirror failed, keeping local state")
	if a.metrics != nil {
		a.metrics.RemoteMirrorFailures.WithLabelValues(op).Inc()
	}
	a.store.MarkUnsynced(conversationID)
	a.publish(events.NewSyncFailedEvent(events.EventMetadata{ConversationID: conversationID}, op, err))
}

func (a *Adapter) countOperation(op string) {
	if a.metrics != nil {
		a.metrics.RemoteMirrorOperations.WithLabelValues(op).Inc()
	}
}

// reconcile renames a locally created conversation to its remote id.
func (a *Adapter) reconcile(localID, remoteID string) {
	if remoteID == "" || localID == remoteID {
		return
	}
	a.mu.Lock()
	a.renamed[localID] = remoteID
	if ops, ok := a.outbox[localID]; ok {
		delete(a.outbox, localID)
		a.outbox[remoteID] = append(a.outbox[remoteID], ops...)
	}
	a.mu.Unlock()

	a.store.UpdateConversationID(localID, remoteID)
	a.logger.Debug().Str("local_id", localID).Str("conversation_id", remoteID).Msg("Reconciled conversation id")
	a.publish(events.NewConversationReconciledEvent(events.EventMetadata{ConversationID: remoteID}, localID, remoteID))
}

// LoadConversations replaces the local conversations with the backend's. On
// failure, or without a backend, local state is kept.
func (a *Adapter) LoadConversations(ctx context.Context) error {
	if a.backend == nil {
		return nil
	}
	convs, err := a.backend.ListConversations(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Could not load conversations, keeping local state")
		return errors.Wrap(err, "loading conversations")
	}
	a.store.SetConversations(convs)
	a.logger.Debug().Int("count", len(convs)).Msg("Loaded conversations")
	return nil
}

// CreateConversation creates and selects a conversation titled after input.
// It returns the conversation's id, which is the remote id when the backend
// accepted the conversation.
func (a *Adapter) CreateConversation(ctx context.Context, input string) string {
	title := chat.CreateTitleFromInput(input)
	conv := chat.NewConversation(title)
	conv.CreatedAt = a.now()
	a.store.AddConversation(conv)

	remoteID, ok := a.mirror(ctx, conv.ID, outboxOp{
		name:    opCreateConversation,
		creates: true,
		run: func(ctx context.Context, _ string) (string, error) {
			return a.backend.CreateConversation(ctx, title)
		},
	})
	if !ok || remoteID == "" {
		return conv.ID
	}
	a.reconcile(conv.ID, remoteID)
	return remoteID
}

func (a *Adapter) RenameConversation(ctx context.Context, id, title string) {
	a.store.UpdateConversationTitle(id, title)
	a.mirror(ctx, id, outboxOp{
		name: opUpdateTitle,
		run: func(ctx context.Context, id string) (string, error) {
			return "", a.backend.UpdateConversationTitle(ctx, id, title)
		},
	})
}

// DeleteConversation removes a conversation. A conversation that never
// reached the backend is only dropped locally, together with its queue.
func (a *Adapter) DeleteConversation(ctx context.Context, id string) {
	a.store.DeleteConversation(id)

	a.mu.Lock()
	ops := a.outbox[id]
	neverCreated := len(ops) > 0 && ops[0].creates
	if neverCreated {
		delete(a.outbox, id)
	}
	a.mu.Unlock()
	if neverCreated {
		a.logger.Debug().Str("conversation_id", id).Msg("Dropped conversation that was never mirrored")
		return
	}

	a.mirror(ctx, id, outboxOp{
		name: opDeleteConversation,
		run: func(ctx context.Context, id string) (string, error) {
			err := a.backend.DeleteConversation(ctx, id)
			if errors.Is(err, remote.ErrNotFound) {
				return "", nil
			}
			return "", err
		},
	})
}

// AppendMessage commits a message to a conversation and mirrors it.
func (a *Adapter) AppendMessage(ctx context.Context, conversationID string, message chat.Message) {
	a.store.AddMessage(conversationID, message)
	a.mirror(ctx, conversationID, outboxOp{
		name: opAppendMessage,
		run: func(ctx context.Context, id string) (string, error) {
			return "", a.backend.AppendMessage(ctx, id, message)
		},
	})
}

func (a *Adapter) SelectConversation(id string) {
	a.store.SelectConversation(id)
}

func (a *Adapter) CreatePrompt(name, content string) chat.Prompt {
	return a.store.CreatePrompt(name, content)
}

func (a *Adapter) SetPromptActive(id string, active bool) {
	a.store.SetPromptActive(id, active)
}

func (a *Adapter) DeletePrompt(id string) {
	a.store.DeletePrompt(id)
}

// Pending returns the number of conversations with operations waiting for
// the backend.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outbox)
}

// RetryResult summarizes a Retry pass.
type RetryResult struct {
	Synced    int
	Remaining int
}

// Retry replays queued operations conversation by conversation. A
// conversation stops at its first failing operation; fully replayed
// conversations lose their unsynced flag.
func (a *Adapter) Retry(ctx context.Context) RetryResult {
	var res RetryResult
	if a.backend == nil {
		return res
	}

	a.mu.Lock()
	ids := make([]string, 0, len(a.outbox))
	for id := range a.outbox {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			res.Remaining++
			continue
		}
		if a.replay(ctx, id) {
			res.Synced++
		} else {
			res.Remaining++
		}
	}
	a.logger.Info().Int("synced", res.Synced).Int("remaining", res.Remaining).Msg("Retried unsynced conversations")
	return res
}

func (a *Adapter) replay(ctx context.Context, id string) bool {
	for {
		a.mu.Lock()
		ops := a.outbox[id]
		if len(ops) == 0 {
			delete(a.outbox, id)
			a.mu.Unlock()
			a.store.ClearUnsynced(id)
			return true
		}
		op := ops[0]
		a.mu.Unlock()

		a.countOperation(op.name)
		newID, err := op.run(ctx, id)
		if err != nil {
			a.mirrorFailed(id, op.name, err)
			return false
		}

		a.mu.Lock()
		a.outbox[id] = a.outbox[id][1:]
		a.mu.Unlock()

		if op.creates && newID != "" && newID != id {
			a.reconcile(id, newID)
			id = newID
		}
	}
}
