package store

import (
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/huandu/go-clone"
)

// State is one immutable snapshot of the application state. Snapshots handed
// out by the Store must be treated as read-only; every mutation produces a new
// snapshot.
type State struct {
	Prompts       []chat.Prompt
	Conversations []chat.Conversation
	// CurrentConversationID is empty when no conversation is active.
	CurrentConversationID string

	// Loading marks conversations with an in-flight submission.
	Loading map[string]bool
	// Pending holds the assistant draft being streamed for a conversation. It
	// is never part of the committed message history.
	Pending map[string]chat.Message
	// Unsynced marks conversations whose last remote mirror attempt failed.
	Unsynced map[string]bool

	Version int64
}

func NewState() *State {
	return &State{
		Prompts:       []chat.Prompt{},
		Conversations: []chat.Conversation{},
		Loading:       map[string]bool{},
		Pending:       map[string]chat.Message{},
		Unsynced:      map[string]bool{},
	}
}

func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	ret := clone.Clone(s).(*State)
	if ret.Loading == nil {
		ret.Loading = map[string]bool{}
	}
	if ret.Pending == nil {
		ret.Pending = map[string]chat.Message{}
	}
	if ret.Unsynced == nil {
		ret.Unsynced = map[string]bool{}
	}
	return ret
}

func (s *State) conversationIndex(id string) int {
	for i := range s.Conversations {
		if s.Conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) promptIndex(id string) int {
	for i := range s.Prompts {
		if s.Prompts[i].ID == id {
			return i
		}
	}
	return -1
}

// Conversation returns the conversation with the given id. The returned
// pointer aliases the snapshot.
func (s *State) Conversation(id string) (*chat.Conversation, bool) {
	idx := s.conversationIndex(id)
	if idx < 0 {
		return nil, false
	}
	return &s.Conversations[idx], true
}

// CurrentConversation returns the active conversation, if any.
func (s *State) CurrentConversation() (*chat.Conversation, bool) {
	if s.CurrentConversationID == "" {
		return nil, false
	}
	return s.Conversation(s.CurrentConversationID)
}

// ActivePrompt returns the single active prompt, if any.
func (s *State) ActivePrompt() (chat.Prompt, bool) {
	for _, p := range s.Prompts {
		if p.IsActive {
			return p, true
		}
	}
	return chat.Prompt{}, false
}

func (s *State) IsLoading(conversationID string) bool {
	return s.Loading[conversationID]
}

func (s *State) AnyLoading() bool {
	for _, v := range s.Loading {
		if v {
			return true
		}
	}
	return false
}
