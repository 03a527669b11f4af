package store

import (
	"testing"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithConversation(t *testing.T) (*Store, chat.Conversation) {
	t.Helper()
	s := New()
	c := chat.NewConversation("first")
	s.AddConversation(c)
	return s, c
}

func TestAddConversationSelectsIt(t *testing.T) {
	s, c := newStoreWithConversation(t)
	st := s.Snapshot()
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, c.ID, st.CurrentConversationID)
	assert.Equal(t, int64(1), st.Version)
}

func TestAddMessageAppendsInOrder(t *testing.T) {
	s, c := newStoreWithConversation(t)
	m1 := chat.NewUserMessage("one")
	m2 := chat.NewAssistantMessage("two")
	s.AddMessage(c.ID, m1)
	s.AddMessage(c.ID, m2)

	got, ok := s.Conversation(c.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, m1, got.Messages[0])
	assert.Equal(t, m2, got.Messages[1])
}

func TestAddMessageUnknownConversationIsNoop(t *testing.T) {
	s, _ := newStoreWithConversation(t)
	before := s.Snapshot()

	notified := false
	unsubscribe := s.Subscribe(func(prev, next *State) { notified = true })
	defer unsubscribe()

	s.AddMessage("missing", chat.NewUserMessage("hi"))

	after := s.Snapshot()
	assert.False(t, notified)
	assert.Same(t, before, after)
	assert.Equal(t, before, after)
}

func TestSnapshotsAreNotMutatedInPlace(t *testing.T) {
	s, c := newStoreWithConversation(t)
	before := s.Snapshot()
	s.AddMessage(c.ID, chat.NewUserMessage("hi"))
	after := s.Snapshot()

	prevConv, ok := before.Conversation(c.ID)
	require.True(t, ok)
	assert.Empty(t, prevConv.Messages)
	nextConv, ok := after.Conversation(c.ID)
	require.True(t, ok)
	assert.Len(t, nextConv.Messages, 1)
}

func TestSubscribeReceivesPrevAndNext(t *testing.T) {
	s, c := newStoreWithConversation(t)
	var calls []int64
	unsubscribe := s.Subscribe(func(prev, next *State) {
		assert.Equal(t, prev.Version+1, next.Version)
		calls = append(calls, next.Version)
	})
	s.UpdateConversationTitle(c.ID, "renamed")
	s.UpdateConversationTitle(c.ID, "renamed")
	unsubscribe()
	s.UpdateConversationTitle(c.ID, "again")

	assert.Equal(t, []int64{2}, calls)
}

func TestListenerMayMutateStore(t *testing.T) {
	s, c := newStoreWithConversation(t)
	s.Subscribe(func(prev, next *State) {
		if _, ok := next.Pending[c.ID]; next.IsLoading(c.ID) && !ok {
			s.SetPending(c.ID, chat.NewAssistantMessage(""))
		}
	})
	s.SetLoading(c.ID, true)
	_, ok := s.Snapshot().Pending[c.ID]
	assert.True(t, ok)
}

func TestWatchFiresOnlyOnChange(t *testing.T) {
	s, c := newStoreWithConversation(t)
	var titles []string
	Watch(s, func(st *State) string {
		conv, ok := st.Conversation(c.ID)
		if !ok {
			return ""
		}
		return conv.Title
	}, func(title string) {
		titles = append(titles, title)
	})

	s.SetLoading(c.ID, true)
	s.UpdateConversationTitle(c.ID, "new title")
	s.SetLoading(c.ID, false)

	assert.Equal(t, []string{"new title"}, titles)
}

func TestSetPromptActiveIsExclusive(t *testing.T) {
	s := New()
	a := s.CreatePrompt("a", "you are a")
	b := s.CreatePrompt("b", "you are b")
	c := s.CreatePrompt("c", "you are c")

	countActive := func() int {
		n := 0
		for _, p := range s.Snapshot().Prompts {
			if p.IsActive {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, countActive())

	s.SetPromptActive(a.ID, true)
	active, ok := s.ActivePrompt()
	require.True(t, ok)
	assert.Equal(t, a.ID, active.ID)
	assert.Equal(t, 1, countActive())

	s.SetPromptActive(b.ID, false)
	active, ok = s.ActivePrompt()
	require.True(t, ok)
	assert.Equal(t, a.ID, active.ID)

	s.SetPromptActive(a.ID, false)
	_, ok = s.ActivePrompt()
	assert.False(t, ok)

	s.SetPromptActive(c.ID, true)
	s.DeletePrompt(c.ID)
	_, ok = s.ActivePrompt()
	assert.False(t, ok)
	assert.Len(t, s.Snapshot().Prompts, 2)

	version := s.Snapshot().Version
	s.SetPromptActive("missing", true)
	assert.Equal(t, version, s.Snapshot().Version)
}

func TestDeleteConversationClearsCurrentOnlyWhenMatched(t *testing.T) {
	s := New()
	a := chat.NewConversation("a")
	b := chat.NewConversation("b")
	s.AddConversation(a)
	s.AddConversation(b)
	require.Equal(t, b.ID, s.Snapshot().CurrentConversationID)

	s.DeleteConversation(a.ID)
	assert.Equal(t, b.ID, s.Snapshot().CurrentConversationID)

	s.SetLoading(b.ID, true)
	s.MarkUnsynced(b.ID)
	s.DeleteConversation(b.ID)
	st := s.Snapshot()
	assert.Equal(t, "", st.CurrentConversationID)
	assert.Empty(t, st.Conversations)
	assert.False(t, st.IsLoading(b.ID))
	assert.NotContains(t, st.Unsynced, b.ID)
}

func TestUpdateConversationIDMovesFlags(t *testing.T) {
	s, c := newStoreWithConversation(t)
	s.SetLoading(c.ID, true)
	s.SetPending(c.ID, chat.NewAssistantMessage("draft"))
	s.MarkUnsynced(c.ID)

	s.UpdateConversationID(c.ID, "remote-1")

	st := s.Snapshot()
	assert.Equal(t, "remote-1", st.CurrentConversationID)
	_, ok := st.Conversation("remote-1")
	assert.True(t, ok)
	_, ok = st.Conversation(c.ID)
	assert.False(t, ok)
	assert.True(t, st.IsLoading("remote-1"))
	assert.False(t, st.IsLoading(c.ID))
	assert.Equal(t, "draft", st.Pending["remote-1"].Content)
	assert.True(t, st.Unsynced["remote-1"])

	version := st.Version
	s.UpdateConversationID("missing", "other")
	assert.Equal(t, version, s.Snapshot().Version)
}

func TestLoadingIsPerConversation(t *testing.T) {
	s := New()
	a := chat.NewConversation("a")
	b := chat.NewConversation("b")
	s.AddConversation(a)
	s.AddConversation(b)

	s.SetLoading(a.ID, true)
	assert.True(t, s.IsLoading(a.ID))
	assert.False(t, s.IsLoading(b.ID))
	assert.True(t, s.AnyLoading())

	s.SetLoading(a.ID, false)
	assert.False(t, s.AnyLoading())
	assert.Empty(t, s.Snapshot().Loading)
}

func TestSelectConversation(t *testing.T) {
	s, c := newStoreWithConversation(t)
	s.SelectConversation("")
	assert.Equal(t, "", s.Snapshot().CurrentConversationID)

	s.SelectConversation("missing")
	assert.Equal(t, "", s.Snapshot().CurrentConversationID)

	s.SelectConversation(c.ID)
	cur, ok := s.CurrentConversation()
	require.True(t, ok)
	assert.Equal(t, c.ID, cur.ID)
}

func TestEditMessage(t *testing.T) {
	s, c := newStoreWithConversation(t)
	m := chat.NewAssistantMessage("draft")
	s.AddMessage(c.ID, m)
	s.EditMessage(c.ID, m.ID, "final")

	got, ok := s.Conversation(c.ID)
	require.True(t, ok)
	assert.Equal(t, "final", got.Messages[0].Content)
}

func TestSetConversationsReplacesCollection(t *testing.T) {
	s, _ := newStoreWithConversation(t)
	list := []chat.Conversation{chat.NewConversation("x"), chat.NewConversation("y")}
	s.SetConversations(list)

	st := s.Snapshot()
	require.Len(t, st.Conversations, 2)
	assert.Equal(t, "x", st.Conversations[0].Title)

	list[0].Title = "mutated by caller"
	assert.Equal(t, "x", s.Snapshot().Conversations[0].Title)
}
