package cmds

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConversations() []chat.Conversation {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := func(n int) []chat.Message {
		ret := make([]chat.Message, n)
		for i := range ret {
			ret[i] = chat.Message{ID: string(rune('a' + i)), Role: chat.RoleUser, Content: "hi"}
		}
		return ret
	}
	return []chat.Conversation{
		{ID: "c1", Title: "Weekend plans", Messages: msgs(2), CreatedAt: created},
		{ID: "c2", Title: "Go generics", Messages: msgs(4), CreatedAt: created},
		{ID: "c3", Title: "more GO questions", Messages: msgs(1), CreatedAt: created},
	}
}

func ids(convs []chat.Conversation) []string {
	ret := make([]string, 0, len(convs))
	for _, c := range convs {
		ret = append(ret, c.ID)
	}
	return ret
}

func TestFilterConversations(t *testing.T) {
	tests := []struct {
		name     string
		settings ListConversationsSettings
		want     []string
	}{
		{name: "all", want: []string{"c1", "c2", "c3"}},
		{name: "title glob is case insensitive", settings: ListConversationsSettings{Title: "*GO*"}, want: []string{"c2", "c3"}},
		{name: "title glob anchors", settings: ListConversationsSettings{Title: "go *"}, want: []string{"c2"}},
		{name: "min messages", settings: ListConversationsSettings{MinMessages: 2}, want: []string{"c1", "c2"}},
		{name: "limit applies after filters", settings: ListConversationsSettings{Title: "*go*", Limit: 1}, want: []string{"c2"}},
		{name: "no match", settings: ListConversationsSettings{Title: "rust"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.settings
			convs, err := filterConversations(testConversations(), &s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(convs))
		})
	}
}

func TestAddConversationRows(t *testing.T) {
	gp := middlewares.NewTableProcessor()
	require.NoError(t, addConversationRows(context.Background(), gp, testConversations()[:2]))

	rows := gp.GetTable().Rows
	require.Len(t, rows, 2)

	id, ok := rows[0].Get("id")
	require.True(t, ok)
	assert.Equal(t, "c1", id)
	title, _ := rows[1].Get("title")
	assert.Equal(t, "Go generics", title)
	messages, _ := rows[1].Get("messages")
	assert.Equal(t, 4, messages)
	created, _ := rows[0].Get("created_at")
	assert.Equal(t, "2024-05-01T12:00:00Z", created)
}

func TestListConversationsCommandDescription(t *testing.T) {
	c, err := NewListConversationsCommand(nil)
	require.NoError(t, err)
	assert.Equal(t, "list", c.Description().Name)

	cobraCmd, _, err := NewConversationsCommand(nil).Find([]string{"list"})
	require.NoError(t, err)
	for _, flag := range []string{"title", "min-messages", "limit", "output", "fields"} {
		assert.NotNil(t, cobraCmd.Flags().Lookup(flag), flag)
	}
}

func TestExportConversationYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, exportConversation(&buf, testConversations()[0], "yaml", false, ""))
	assert.Contains(t, buf.String(), "title: Weekend plans")
	assert.Error(t, exportConversation(&buf, testConversations()[0], "pdf", false, ""))
}
