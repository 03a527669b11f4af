package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type RetrySettings struct {
	// Attempts is the number of retries after the first try. Zero means a
	// single try.
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base-delay"`
	MaxDelay  time.Duration `mapstructure:"max-delay"`
}

// Retrying retries failed calls of the wrapped backend with exponential
// backoff. Not-found and invalid-input errors are not retried.
type Retrying struct {
	backend  Backend
	settings RetrySettings
	// notify is called before every retry with the error and the delay.
	notify backoff.Notify
}

func NewRetrying(backend Backend, settings RetrySettings) *Retrying {
	if settings.BaseDelay <= 0 {
		settings.BaseDelay = 200 * time.Millisecond
	}
	if settings.MaxDelay <= 0 {
		settings.MaxDelay = 5 * time.Second
	}
	return &Retrying{backend: backend, settings: settings}
}

// newBackOff doubles the delay from BaseDelay up to MaxDelay, without jitter
// and without an overall time limit, for at most Attempts retries.
func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.settings.BaseDelay
	b.MaxInterval = r.settings.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.settings.Attempts)), ctx)
}

func retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidInput) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (r *Retrying) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	tries := 0
	var lastErr error
	operation := func() error {
		tries++
		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		log.Debug().Str("operation", op).Int("attempt", tries).Dur("delay", d).Err(err).Msg("Retrying remote call")
		if r.notify != nil {
			r.notify(err, d)
		}
	}

	err := backoff.RetryNotify(operation, r.newBackOff(ctx), notify)
	if err == nil {
		if tries > 1 {
			log.Info().Str("operation", op).Int("attempts", tries).Msg("Remote call succeeded after retry")
		}
		return nil
	}
	if lastErr != nil && !retryable(lastErr) {
		return lastErr
	}
	if ctx.Err() != nil && lastErr != nil {
		return errors.Wrapf(lastErr, "%s: gave up after %d attempts", op, tries)
	}
	if tries == 1 {
		return err
	}
	return errors.Wrapf(err, "%s: failed after %d attempts", op, tries)
}

func (r *Retrying) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var ret []chat.Conversation
	err := r.do(ctx, "list_conversations", func(ctx context.Context) error {
		var err error
		ret, err = r.backend.ListConversations(ctx)
		return err
	})
	return ret, err
}

// CreateConversation is retried like the other calls. A create whose response
// got lost may leave an orphan conversation on the backend.
func (r *Retrying) CreateConversation(ctx context.Context, title string) (string, error) {
	var id string
	err := r.do(ctx, "create_conversation", func(ctx context.Context) error {
		var err error
		id, err = r.backend.CreateConversation(ctx, title)
		return err
	})
	return id, err
}

func (r *Retrying) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return r.do(ctx, "update_conversation_title", func(ctx context.Context) error {
		return r.backend.UpdateConversationTitle(ctx, id, title)
	})
}

func (r *Retrying) DeleteConversation(ctx context.Context, id string) error {
	return r.do(ctx, "delete_conversation", func(ctx context.Context) error {
		return r.backend.DeleteConversation(ctx, id)
	})
}

func (r *Retrying) AppendMessage(ctx context.Context, conversationID string, message chat.Message) error {
	return r.do(ctx, "append_message", func(ctx context.Context) error {
		return r.backend.AppendMessage(ctx, conversationID, message)
	})
}

func (r *Retrying) Close() error {
	if c, ok := r.backend.(Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Backend = &Retrying{}
