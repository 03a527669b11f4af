// Package remote implements the optional persistence backend conversations
// are mirrored to. A Backend can be a REST service (Client), a SQL database
// through gorm (GormBackend) or redis (RedisBackend). Server exposes any
// Backend over the REST protocol Client speaks.
package remote

import (
	"context"
	"fmt"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Backend is the remote mirror of the conversation store.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	// CreateConversation creates an empty conversation and returns the id the
	// backend assigned to it.
	CreateConversation(ctx context.Context, title string) (string, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, conversationID string, message chat.Message) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// Error is a failed REST call.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote backend returned %d: %s", e.StatusCode, e.Message)
}

// Is maps HTTP statuses onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == 404
	case ErrInvalidInput:
		return e.StatusCode == 400
	}
	return false
}

func validateMessage(m chat.Message) error {
	if m.ID == "" {
		return errors.Wrap(ErrInvalidInput, "message id is required")
	}
	if !m.Role.Valid() {
		return errors.Wrapf(ErrInvalidInput, "invalid role %q", m.Role)
	}
	return nil
}
