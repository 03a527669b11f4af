package adapter

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/completion"
	"github.com/go-go-golems/chatsync/pkg/events"
	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/go-go-golems/chatsync/pkg/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBackend is a backend keeping conversations in memory. Setting fail
// makes every call return an error.
type memoryBackend struct {
	mu     sync.Mutex
	fail   bool
	nextID int
	convs  map[string]*chat.Conversation
	calls  []string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{convs: map[string]*chat.Conversation{}}
}

func (m *memoryBackend) record(op string) error {
	m.calls = append(m.calls, op)
	if m.fail {
		return errors.New("backend offline")
	}
	return nil
}

func (m *memoryBackend) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *memoryBackend) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list"); err != nil {
		return nil, err
	}
	var ret []chat.Conversation
	for _, c := range m.convs {
		ret = append(ret, *c.Clone())
	}
	return ret, nil
}

func (m *memoryBackend) CreateConversation(ctx context.Context, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create"); err != nil {
		return "", err
	}
	m.nextID++
	id := "remote-" + strconv.Itoa(m.nextID)
	m.convs[id] = &chat.Conversation{ID: id, Title: title, Messages: []chat.Message{}}
	return id, nil
}

func (m *memoryBackend) UpdateConversationTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("rename"); err != nil {
		return err
	}
	c, ok := m.convs[id]
	if !ok {
		return remote.ErrNotFound
	}
	c.Title = title
	return nil
}

func (m *memoryBackend) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete"); err != nil {
		return err
	}
	if _, ok := m.convs[id]; !ok {
		return remote.ErrNotFound
	}
	delete(m.convs, id)
	return nil
}

func (m *memoryBackend) AppendMessage(ctx context.Context, conversationID string, message chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("append"); err != nil {
		return err
	}
	c, ok := m.convs[conversationID]
	if !ok {
		return remote.ErrNotFound
	}
	c.Messages = append(c.Messages, message)
	return nil
}

func (m *memoryBackend) conversation(id string) (chat.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return *c.Clone(), true
}

// fakeCompleter replays a fixed body as the completion stream.
type fakeCompleter struct {
	body string
	err  error
	// readErr fails the body read after body was delivered.
	readErr  error
	requests []completion.Request
}

func (f *fakeCompleter) Stream(ctx context.Context, req completion.Request) (*completion.Stream, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var r io.Reader = strings.NewReader(f.body)
	if f.readErr != nil {
		r = io.MultiReader(r, iotest.ErrReader(f.readErr))
	}
	return completion.NewStreamFromReader(io.NopCloser(r)), nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func newRecorder(t *testing.T) (*events.PublisherManager, *recorder) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	msgs, err := pubSub.Subscribe(context.Background(), events.TopicChat)
	require.NoError(t, err)

	rec := &recorder{}
	pm := events.NewPublisherManager()
	pm.SubscribePublisher(events.TopicChat, pubSub)
	go func() {
		for msg := range msgs {
			e, err := events.NewEventFromJson(msg.Payload)
			if err == nil {
				rec.mu.Lock()
				rec.events = append(rec.events, e)
				rec.mu.Unlock()
			}
			msg.Ack()
		}
	}()
	return pm, rec
}

// types returns the recorded event types in publish order. gochannel may
// deliver out of order, the sequence number restores it.
func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	evs := append([]events.Event(nil), r.events...)
	r.mu.Unlock()
	sort.Slice(evs, func(i, j int) bool {
		return evs[i].Metadata().SequenceNumber < evs[j].Metadata().SequenceNumber
	})
	var ret []events.EventType
	for _, e := range evs {
		ret = append(ret, e.Type())
	}
	return ret
}

func TestSubmitStreamsIntoPendingAndCommits(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "typed frames with garbage between",
			body: `{"type":"content_block_delta","delta":{"text":"A"}}"garbage"{"type":"content_block_delta","delta":{"text":"B"}}`,
		},
		{
			name: "bare delta frames",
			body: `{"delta":{"text":"A"}}"garbage"{"delta":{"text":"B"}}`,
		},
		{
			name: "error and stop events are ignored",
			body: `{"type":"content_block_delta","delta":{"type":"text_delta","text":"A"}}` +
				`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` +
				`{"type":"message_stop"}` +
				`{"type":"content_block_delta","delta":{"type":"text_delta","text":"B"}}`,
		},
		{
			name: "cut off frame before a typed frame",
			body: `{"type":"content_block_delta","delta":{"text":"A"}}{"delta":{"te` +
				`{"type":"content_block_delta","delta":{"text":"B"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			completer := &fakeCompleter{body: tt.body}
			a := New(s, WithCompleter(completer))

			var pending []string
			s.Subscribe(func(prev, next *store.State) {
				for _, m := range next.Pending {
					pending = append(pending, m.Content)
				}
			})

			res := a.Submit(context.Background(), "", "hello there friend indeed")
			require.NoError(t, res.Err)
			assert.Equal(t, SubmitCommitted, res.Outcome)

			conv, ok := s.Conversation(res.ConversationID)
			require.True(t, ok)
			assert.Equal(t, "hello there friend...", conv.Title)
			require.Len(t, conv.Messages, 2)
			assert.Equal(t, chat.RoleUser, conv.Messages[0].Role)
			assert.Equal(t, "hello there friend indeed", conv.Messages[0].Content)
			assert.Equal(t, chat.RoleAssistant, conv.Messages[1].Role)
			assert.Equal(t, "AB", conv.Messages[1].Content)
			assert.Equal(t, res.Reply.ID, conv.Messages[1].ID)

			assert.Contains(t, pending, "A")
			assert.Contains(t, pending, "AB")

			st := s.Snapshot()
			assert.Empty(t, st.Pending)
			assert.False(t, st.IsLoading(res.ConversationID))
			assert.Equal(t, res.ConversationID, st.CurrentConversationID)

			require.Len(t, completer.requests, 1)
			require.Len(t, completer.requests[0].Messages, 1)
			assert.Equal(t, "hello there friend indeed", completer.requests[0].Messages[0].Content)
		})
	}
}

func TestSubmitSendsHistoryAndActivePrompt(t *testing.T) {
	s := store.New()
	completer := &fakeCompleter{body: `{"delta":{"text":"ok"}}`}
	a := New(s, WithCompleter(completer))
	a.CreatePrompt("pirate", "Talk like a pirate about {{ .Conversation.Title }}.")

	first := a.Submit(context.Background(), "", "ships")
	require.NoError(t, first.Err)
	second := a.Submit(context.Background(), first.ConversationID, "and sails")
	require.NoError(t, second.Err)

	require.Len(t, completer.requests, 2)
	req := completer.requests[1]
	assert.Equal(t, "Talk like a pirate about ships.", req.System)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "ships", req.Messages[0].Content)
	assert.Equal(t, "ok", req.Messages[1].Content)
	assert.Equal(t, "and sails", req.Messages[2].Content)
}

func TestSubmitFailureCommitsErrorMessage(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
	}{
		{name: "request fails", completer: &fakeCompleter{err: errors.New("connection refused")}},
		{name: "body read fails", completer: &fakeCompleter{
			body:    `{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`,
			readErr: errors.New("connection reset"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			pm, rec := newRecorder(t)
			m := metrics.New()
			b := newMemoryBackend()
			a := New(s, WithCompleter(tt.completer), WithPublisher(pm), WithMetrics(m), WithBackend(b))

			res := a.Submit(context.Background(), "", "hi")
			require.Error(t, res.Err)
			assert.Equal(t, SubmitErrored, res.Outcome)

			conv, ok := s.Conversation(res.ConversationID)
			require.True(t, ok)
			require.Len(t, conv.Messages, 2)
			assert.Equal(t, DefaultErrorMessage, conv.Messages[1].Content)
			assert.Equal(t, chat.RoleAssistant, conv.Messages[1].Role)

			assert.Equal(t, []string{"create", "append", "append"}, b.calls)
			remoteConv, ok := b.conversation(res.ConversationID)
			require.True(t, ok)
			require.Len(t, remoteConv.Messages, 2)
			assert.Equal(t, DefaultErrorMessage, remoteConv.Messages[1].Content)

			st := s.Snapshot()
			assert.Empty(t, st.Pending)
			assert.False(t, st.AnyLoading())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionsTotal.WithLabelValues("errored")))

			assert.Eventually(t, func() bool {
				types := rec.types()
				return len(types) > 0 && types[len(types)-1] == events.EventTypeError
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestSubmitEmptyStreamCommitsNothing(t *testing.T) {
	s := store.New()
	a := New(s, WithCompleter(&fakeCompleter{body: `{"type":"message_start"}{"type":"message_stop"}`}))

	res := a.Submit(context.Background(), "", "hi")
	require.NoError(t, res.Err)
	assert.Equal(t, SubmitEmpty, res.Outcome)

	conv, ok := s.Conversation(res.ConversationID)
	require.True(t, ok)
	assert.Len(t, conv.Messages, 1)
	assert.False(t, s.AnyLoading())
}

func TestSubmitRejections(t *testing.T) {
	s := store.New()
	a := New(s)
	res := a.Submit(context.Background(), "", "hi")
	assert.True(t, errors.Is(res.Err, ErrNotConfigured))
	assert.Empty(t, s.Snapshot().Conversations)

	a = New(s, WithCompleter(&fakeCompleter{}))
	res = a.Submit(context.Background(), "", "   ")
	assert.True(t, errors.Is(res.Err, ErrEmptyInput))

	res = a.Submit(context.Background(), "missing", "hi")
	assert.True(t, errors.Is(res.Err, ErrUnknownConversation))

	id := a.CreateConversation(context.Background(), "x")
	s.SetLoading(id, true)
	res = a.Submit(context.Background(), id, "hi")
	assert.True(t, errors.Is(res.Err, ErrBusy))
}

func TestInputState(t *testing.T) {
	s := store.New()
	assert.Equal(t, InputState{Enabled: false, Placeholder: placeholderNotConfigured}, New(s).InputState())

	a := New(s, WithCompleter(&fakeCompleter{}))
	assert.True(t, a.InputState().Enabled)

	id := a.CreateConversation(context.Background(), "x")
	s.SetLoading(id, true)
	assert.False(t, a.InputState().Enabled)

	other := a.CreateConversation(context.Background(), "y")
	require.Equal(t, other, s.Snapshot().CurrentConversationID)
	assert.True(t, a.InputState().Enabled)
}
