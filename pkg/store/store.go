package store

import (
	"reflect"
	"sort"
	"sync"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Listener is called after every applied mutation with the previous and the
// new snapshot. Listeners run synchronously on the mutating goroutine, after
// the store lock has been released, so they may read or mutate the store.
type Listener func(prev, next *State)

// Store owns the canonical application state. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	state     *State
	listeners map[int]Listener
	nextID    int
	logger    zerolog.Logger
}

type Option func(*Store)

func WithInitialState(st *State) Option {
	return func(s *Store) {
		s.state = st.Clone()
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(options ...Option) *Store {
	s := &Store{
		state:     NewState(),
		listeners: map[int]Listener{},
		logger:    log.Logger,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Dispatch applies m to a private copy of the current snapshot. If the
// mutation changed anything, the copy becomes the current snapshot, the
// version is bumped and listeners are notified. It reports whether the state
// changed.
func (s *Store) Dispatch(m Mutation) bool {
	s.mu.Lock()
	prev := s.state
	next := prev.Clone()
	if !m.Apply(next) {
		s.mu.Unlock()
		s.logger.Trace().Str("mutation", m.Name()).Int64("version", prev.Version).Msg("mutation was a no-op")
		return false
	}
	next.Version = prev.Version + 1
	s.state = next

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	// registration order
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	s.logger.Trace().Str("mutation", m.Name()).Int64("version", next.Version).Msg("mutation applied")
	for _, l := range listeners {
		l(prev, next)
	}
	return true
}

// Snapshot returns the current state. The returned value must not be modified.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and returns a function removing it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Watch calls fn with the selected slice of state whenever it changes, using
// deep equality to compare the previous and new selection.
func Watch[T any](s *Store, selector func(*State) T, fn func(T)) func() {
	return s.Subscribe(func(prev, next *State) {
		a, b := selector(prev), selector(next)
		if reflect.DeepEqual(a, b) {
			return
		}
		fn(b)
	})
}

func (s *Store) SetConversations(conversations []chat.Conversation) {
	s.Dispatch(MutateSetConversations(conversations))
}

func (s *Store) AddConversation(c chat.Conversation) {
	s.Dispatch(MutateAddConversation(c))
}

func (s *Store) UpdateConversationID(oldID, newID string) {
	s.Dispatch(MutateUpdateConversationID(oldID, newID))
}

func (s *Store) UpdateConversationTitle(id, title string) {
	s.Dispatch(MutateUpdateConversationTitle(id, title))
}

func (s *Store) DeleteConversation(id string) {
	s.Dispatch(MutateDeleteConversation(id))
}

func (s *Store) SelectConversation(id string) {
	s.Dispatch(MutateSelectConversation(id))
}

func (s *Store) AddMessage(conversationID string, message chat.Message) {
	s.Dispatch(MutateAddMessage(conversationID, message))
}

func (s *Store) EditMessage(conversationID, messageID, content string) {
	s.Dispatch(MutateEditMessage(conversationID, messageID, content))
}

func (s *Store) SetLoading(conversationID string, loading bool) {
	s.Dispatch(MutateSetLoading(conversationID, loading))
}

func (s *Store) SetPending(conversationID string, message chat.Message) {
	s.Dispatch(MutateSetPending(conversationID, message))
}

func (s *Store) ClearPending(conversationID string) {
	s.Dispatch(MutateClearPending(conversationID))
}

func (s *Store) MarkUnsynced(conversationID string) {
	s.Dispatch(MutateSetUnsynced(conversationID, true))
}

func (s *Store) ClearUnsynced(conversationID string) {
	s.Dispatch(MutateSetUnsynced(conversationID, false))
}

// CreatePrompt adds a new prompt, making it the only active one.
func (s *Store) CreatePrompt(name, content string) chat.Prompt {
	p := chat.NewPrompt(name, content)
	p.IsActive = true
	s.Dispatch(MutateCreatePrompt(p))
	return p
}

func (s *Store) SetPromptActive(id string, active bool) {
	s.Dispatch(MutateSetPromptActive(id, active))
}

func (s *Store) DeletePrompt(id string) {
	s.Dispatch(MutateDeletePrompt(id))
}

func (s *Store) Conversation(id string) (chat.Conversation, bool) {
	c, ok := s.Snapshot().Conversation(id)
	if !ok {
		return chat.Conversation{}, false
	}
	return *c.Clone(), true
}

func (s *Store) CurrentConversation() (chat.Conversation, bool) {
	c, ok := s.Snapshot().CurrentConversation()
	if !ok {
		return chat.Conversation{}, false
	}
	return *c.Clone(), true
}

func (s *Store) ActivePrompt() (chat.Prompt, bool) {
	return s.Snapshot().ActivePrompt()
}

func (s *Store) IsLoading(conversationID string) bool {
	return s.Snapshot().IsLoading(conversationID)
}

func (s *Store) AnyLoading() bool {
	return s.Snapshot().AnyLoading()
}
