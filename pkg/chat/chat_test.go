package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTitleFromInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "more than three words", input: "hello there friend indeed", want: "hello there friend..."},
		{name: "single word", input: "hi", want: "hi"},
		{name: "exactly three words", input: "one two three", want: "one two three"},
		{name: "collapses whitespace", input: "  one\ttwo\n three  four ", want: "one two three..."},
		{name: "empty", input: "", want: DefaultConversationTitle},
		{name: "whitespace only", input: " \n\t ", want: DefaultConversationTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CreateTitleFromInput(tt.input))
		})
	}
}

func TestConversationCloneIsDeep(t *testing.T) {
	c := NewConversation("title")
	c.Messages = append(c.Messages, NewUserMessage("hello"))

	cp := c.Clone()
	require.NotNil(t, cp)
	cp.Messages[0].Content = "changed"
	cp.Messages = append(cp.Messages, NewAssistantMessage("extra"))

	assert.Equal(t, "hello", c.Messages[0].Content)
	assert.Len(t, c.Messages, 1)
}

func TestMessageIndex(t *testing.T) {
	c := NewConversation("title")
	m1 := NewUserMessage("a")
	m2 := NewAssistantMessage("b")
	c.Messages = []Message{m1, m2}

	assert.Equal(t, 0, c.MessageIndex(m1.ID))
	assert.Equal(t, 1, c.MessageIndex(m2.ID))
	assert.Equal(t, -1, c.MessageIndex("missing"))

	last, ok := c.LastMessage()
	require.True(t, ok)
	assert.Equal(t, m2.ID, last.ID)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
