package store

import (
	"github.com/go-go-golems/chatsync/pkg/chat"
)

// Mutation is a named, deterministic state transition. Apply works on a
// private copy of the current state and reports whether anything changed;
// unchanged copies are discarded.
type Mutation interface {
	Apply(st *State) bool
	Name() string
}

type setConversationsMutation struct {
	conversations []chat.Conversation
}

// MutateSetConversations replaces the whole conversation collection.
func MutateSetConversations(conversations []chat.Conversation) Mutation {
	return setConversationsMutation{conversations: conversations}
}

func (m setConversationsMutation) Apply(st *State) bool {
	convs := make([]chat.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, *c.Clone())
	}
	st.Conversations = convs
	return true
}

func (m setConversationsMutation) Name() string { return "set_conversations" }

type addConversationMutation struct {
	conversation chat.Conversation
}

// MutateAddConversation appends a conversation and makes it the current one.
// Callers guarantee id uniqueness.
func MutateAddConversation(c chat.Conversation) Mutation {
	return addConversationMutation{conversation: c}
}

func (m addConversationMutation) Apply(st *State) bool {
	c := *m.conversation.Clone()
	if c.Messages == nil {
		c.Messages = []chat.Message{}
	}
	st.Conversations = append(st.Conversations, c)
	st.CurrentConversationID = c.ID
	return true
}

func (m addConversationMutation) Name() string { return "add_conversation" }

type updateConversationIDMutation struct {
	oldID string
	newID string
}

// MutateUpdateConversationID renames a conversation's identity in place,
// repointing the current conversation and per-conversation flags.
func MutateUpdateConversationID(oldID, newID string) Mutation {
	return updateConversationIDMutation{oldID: oldID, newID: newID}
}

func (m updateConversationIDMutation) Apply(st *State) bool {
	if m.oldID == m.newID {
		return false
	}
	idx := st.conversationIndex(m.oldID)
	if idx < 0 {
		return false
	}
	st.Conversations[idx].ID = m.newID
	if st.CurrentConversationID == m.oldID {
		st.CurrentConversationID = m.newID
	}
	if v, ok := st.Loading[m.oldID]; ok {
		delete(st.Loading, m.oldID)
		st.Loading[m.newID] = v
	}
	if v, ok := st.Pending[m.oldID]; ok {
		delete(st.Pending, m.oldID)
		st.Pending[m.newID] = v
	}
	if v, ok := st.Unsynced[m.oldID]; ok {
		delete(st.Unsynced, m.oldID)
		st.Unsynced[m.newID] = v
	}
	return true
}

func (m updateConversationIDMutation) Name() string { return "update_conversation_id" }

type updateConversationTitleMutation struct {
	id    string
	title string
}

func MutateUpdateConversationTitle(id, title string) Mutation {
	return updateConversationTitleMutation{id: id, title: title}
}

func (m updateConversationTitleMutation) Apply(st *State) bool {
	idx := st.conversationIndex(m.id)
	if idx < 0 || st.Conversations[idx].Title == m.title {
		return false
	}
	st.Conversations[idx].Title = m.title
	return true
}

func (m updateConversationTitleMutation) Name() string { return "update_conversation_title" }

type deleteConversationMutation struct {
	id string
}

// MutateDeleteConversation removes a conversation. Deleting the current
// conversation clears the current id.
func MutateDeleteConversation(id string) Mutation {
	return deleteConversationMutation{id: id}
}

func (m deleteConversationMutation) Apply(st *State) bool {
	changed := false
	if idx := st.conversationIndex(m.id); idx >= 0 {
		st.Conversations = append(st.Conversations[:idx], st.Conversations[idx+1:]...)
		changed = true
	}
	if st.CurrentConversationID == m.id {
		st.CurrentConversationID = ""
		changed = true
	}
	for _, flags := range []map[string]bool{st.Loading, st.Unsynced} {
		if _, ok := flags[m.id]; ok {
			delete(flags, m.id)
			changed = true
		}
	}
	if _, ok := st.Pending[m.id]; ok {
		delete(st.Pending, m.id)
		changed = true
	}
	return changed
}

func (m deleteConversationMutation) Name() string { return "delete_conversation" }

type selectConversationMutation struct {
	id string
}

// MutateSelectConversation sets the current conversation. An empty id selects
// the welcome state; unknown ids are ignored.
func MutateSelectConversation(id string) Mutation {
	return selectConversationMutation{id: id}
}

func (m selectConversationMutation) Apply(st *State) bool {
	if st.CurrentConversationID == m.id {
		return false
	}
	if m.id != "" && st.conversationIndex(m.id) < 0 {
		return false
	}
	st.CurrentConversationID = m.id
	return true
}

func (m selectConversationMutation) Name() string { return "select_conversation" }

type addMessageMutation struct {
	conversationID string
	message        chat.Message
}

// MutateAddMessage appends a message to a conversation. Unknown conversation
// ids are silently ignored.
func MutateAddMessage(conversationID string, message chat.Message) Mutation {
	return addMessageMutation{conversationID: conversationID, message: message}
}

func (m addMessageMutation) Apply(st *State) bool {
	idx := st.conversationIndex(m.conversationID)
	if idx < 0 {
		return false
	}
	st.Conversations[idx].Messages = append(st.Conversations[idx].Messages, m.message)
	return true
}

func (m addMessageMutation) Name() string { return "add_message" }

type editMessageMutation struct {
	conversationID string
	messageID      string
	content        string
}

// MutateEditMessage replaces the content of a committed message.
func MutateEditMessage(conversationID, messageID, content string) Mutation {
	return editMessageMutation{conversationID: conversationID, messageID: messageID, content: content}
}

func (m editMessageMutation) Apply(st *State) bool {
	c, ok := st.Conversation(m.conversationID)
	if !ok {
		return false
	}
	idx := c.MessageIndex(m.messageID)
	if idx < 0 || c.Messages[idx].Content == m.content {
		return false
	}
	c.Messages[idx].Content = m.content
	return true
}

func (m editMessageMutation) Name() string { return "edit_message" }

type setLoadingMutation struct {
	conversationID string
	loading        bool
}

func MutateSetLoading(conversationID string, loading bool) Mutation {
	return setLoadingMutation{conversationID: conversationID, loading: loading}
}

func (m setLoadingMutation) Apply(st *State) bool {
	if st.Loading[m.conversationID] == m.loading {
		return false
	}
	if m.loading {
		st.Loading[m.conversationID] = true
	} else {
		delete(st.Loading, m.conversationID)
	}
	return true
}

func (m setLoadingMutation) Name() string { return "set_loading" }

type setPendingMutation struct {
	conversationID string
	message        chat.Message
}

func MutateSetPending(conversationID string, message chat.Message) Mutation {
	return setPendingMutation{conversationID: conversationID, message: message}
}

func (m setPendingMutation) Apply(st *State) bool {
	if cur, ok := st.Pending[m.conversationID]; ok && cur == m.message {
		return false
	}
	st.Pending[m.conversationID] = m.message
	return true
}

func (m setPendingMutation) Name() string { return "set_pending" }

type clearPendingMutation struct {
	conversationID string
}

func MutateClearPending(conversationID string) Mutation {
	return clearPendingMutation{conversationID: conversationID}
}

func (m clearPendingMutation) Apply(st *State) bool {
	if _, ok := st.Pending[m.conversationID]; !ok {
		return false
	}
	delete(st.Pending, m.conversationID)
	return true
}

func (m clearPendingMutation) Name() string { return "clear_pending" }

type setUnsyncedMutation struct {
	conversationID string
	unsynced       bool
}

func MutateSetUnsynced(conversationID string, unsynced bool) Mutation {
	return setUnsyncedMutation{conversationID: conversationID, unsynced: unsynced}
}

func (m setUnsyncedMutation) Apply(st *State) bool {
	if st.Unsynced[m.conversationID] == m.unsynced {
		return false
	}
	if m.unsynced {
		st.Unsynced[m.conversationID] = true
	} else {
		delete(st.Unsynced, m.conversationID)
	}
	return true
}

func (m setUnsyncedMutation) Name() string { return "set_unsynced" }

type createPromptMutation struct {
	prompt chat.Prompt
}

// MutateCreatePrompt deactivates every prompt and appends the given one as the
// active prompt.
func MutateCreatePrompt(p chat.Prompt) Mutation {
	p.IsActive = true
	return createPromptMutation{prompt: p}
}

func (m createPromptMutation) Apply(st *State) bool {
	for i := range st.Prompts {
		st.Prompts[i].IsActive = false
	}
	st.Prompts = append(st.Prompts, m.prompt)
	return true
}

func (m createPromptMutation) Name() string { return "create_prompt" }

type setPromptActiveMutation struct {
	id     string
	active bool
}

// MutateSetPromptActive either activates one prompt exclusively or
// deactivates just the named prompt. Unknown ids are ignored.
func MutateSetPromptActive(id string, active bool) Mutation {
	return setPromptActiveMutation{id: id, active: active}
}

func (m setPromptActiveMutation) Apply(st *State) bool {
	idx := st.promptIndex(m.id)
	if idx < 0 {
		return false
	}
	changed := false
	if !m.active {
		if st.Prompts[idx].IsActive {
			st.Prompts[idx].IsActive = false
			changed = true
		}
		return changed
	}
	for i := range st.Prompts {
		want := i == idx
		if st.Prompts[i].IsActive != want {
			st.Prompts[i].IsActive = want
			changed = true
		}
	}
	return changed
}

func (m setPromptActiveMutation) Name() string { return "set_prompt_active" }

type deletePromptMutation struct {
	id string
}

func MutateDeletePrompt(id string) Mutation {
	return deletePromptMutation{id: id}
}

func (m deletePromptMutation) Apply(st *State) bool {
	idx := st.promptIndex(m.id)
	if idx < 0 {
		return false
	}
	st.Prompts = append(st.Prompts[:idx], st.Prompts[idx+1:]...)
	return true
}

func (m deletePromptMutation) Name() string { return "delete_prompt" }
