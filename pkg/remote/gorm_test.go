package remote

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteBackend(t *testing.T) *GormBackend {
	t.Helper()
	b, err := OpenGorm(GormSettings{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "chatsync.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGormBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t)

	id, err := b.CreateConversation(ctx, "hello there friend...")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	m1 := chat.NewUserMessage("hello there friend indeed")
	m2 := chat.NewAssistantMessage("hi!")
	require.NoError(t, b.AppendMessage(ctx, id, m1))
	require.NoError(t, b.AppendMessage(ctx, id, m2))
	require.NoError(t, b.UpdateConversationTitle(ctx, id, "greetings"))

	convs, err := b.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, id, convs[0].ID)
	assert.Equal(t, "greetings", convs[0].Title)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, m1.ID, convs[0].Messages[0].ID)
	assert.Equal(t, chat.RoleUser, convs[0].Messages[0].Role)
	assert.Equal(t, "hi!", convs[0].Messages[1].Content)

	require.NoError(t, b.DeleteConversation(ctx, id))
	convs, err = b.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestGormBackendErrors(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t)

	err := b.UpdateConversationTitle(ctx, "missing", "x")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = b.DeleteConversation(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = b.AppendMessage(ctx, "missing", chat.NewUserMessage("x"))
	assert.True(t, errors.Is(err, ErrNotFound))

	id, err := b.CreateConversation(ctx, "t")
	require.NoError(t, err)
	err = b.AppendMessage(ctx, id, chat.Message{ID: "m", Role: "system", Content: "x"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestOpenGormRejectsUnknownDriver(t *testing.T) {
	_, err := OpenGorm(GormSettings{Driver: "oracle"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestGormBackendAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t)

	id, err := b.CreateConversation(ctx, "t")
	require.NoError(t, err)
	m := chat.NewUserMessage("once")
	require.NoError(t, b.AppendMessage(ctx, id, m))
	require.NoError(t, b.AppendMessage(ctx, id, m))

	convs, err := b.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)
	assert.Equal(t, m.ID, convs[0].Messages[0].ID)
}
