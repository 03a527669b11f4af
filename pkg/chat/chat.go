// Package chat holds the domain types shared by the store, the adapter and
// the remote backends: conversations, messages and system prompts.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) String() string {
	return string(r)
}

// Message is a single entry of a conversation. Content only changes through an
// explicit edit or while an assistant draft is being streamed.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// Conversation is an ordered, titled sequence of messages. Messages belong to
// the conversation by slice membership.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewConversation creates a conversation with a locally generated id.
func NewConversation(title string) Conversation {
	return Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: time.Now().UTC(),
	}
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Conversation)
}

// MessageIndex returns the index of the message with the given id, or -1.
func (c *Conversation) MessageIndex(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LastMessage returns the last message and false when the conversation is empty.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Prompt is a named system prompt. At most one prompt of a collection is active.
type Prompt struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Content  string `json:"content" yaml:"content"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

func NewPrompt(name, content string) Prompt {
	return Prompt{
		ID:      uuid.NewString(),
		Name:    name,
		Content: content,
	}
}

// DefaultConversationTitle is used when a conversation is created from empty input.
const DefaultConversationTitle = "New Chat"

const titleWordLimit = 3

// CreateTitleFromInput derives a conversation title from the first user input:
// the first three whitespace separated words, followed by "..." when the input
// had more words than that.
func CreateTitleFromInput(input string) string {
	words := strings.Fields(input)
	if len(words) == 0 {
		return DefaultConversationTitle
	}
	if len(words) <= titleWordLimit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWordLimit], " ") + "..."
}
