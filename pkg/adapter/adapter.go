// Package adapter bridges the conversation store to an optional remote
// backend and to a streamed completion endpoint.
//
// Every user mutation is applied to the store first. When a backend is
// configured the same mutation is then mirrored remotely. Remote failures never
// reach the caller: they are logged, counted, published as events and the
// conversation is flagged unsynced until Retry manages to replay it.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/chatsync/pkg/completion"
	"github.com/go-go-golems/chatsync/pkg/events"
	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/go-go-golems/chatsync/pkg/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultErrorMessage = "Sorry, something went wrong while generating a response. Please try again."

// Completer starts a streamed completion. *completion.Client implements it.
type Completer interface {
	Stream(ctx context.Context, req completion.Request) (*completion.Stream, error)
}

type Adapter struct {
	store        *store.Store
	backend      remote.Backend
	completer    Completer
	publisher    *events.PublisherManager
	metrics      *metrics.Metrics
	errorMessage string
	model        string
	maxTokens    int
	logger       zerolog.Logger
	now          func() time.Time

	mu sync.Mutex
	// outbox holds mirror operations that still have to reach the backend,
	// per conversation, in order.
	outbox map[string][]outboxOp
	// renamed maps local conversation ids to the ids the backend assigned.
	renamed map[string]string
}

type Option func(*Adapter)

func WithBackend(b remote.Backend) Option {
	return func(a *Adapter) {
		a.backend = b
	}
}

func WithCompleter(c Completer) Option {
	return func(a *Adapter) {
		a.completer = c
	}
}

func WithPublisher(p *events.PublisherManager) Option {
	return func(a *Adapter) {
		a.publisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func WithErrorMessage(msg string) Option {
	return func(a *Adapter) {
		a.errorMessage = msg
	}
}

func WithModel(model string, maxTokens int) Option {
	return func(a *Adapter) {
		a.model = model
		a.maxTokens = maxTokens
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func New(s *store.Store, options ...Option) *Adapter {
	a := &Adapter{
		store:        s,
		errorMessage: DefaultErrorMessage,
		logger:       log.Logger,
		now:          func() time.Time { return time.Now().UTC() },
		outbox:       map[string][]outboxOp{},
		renamed:      map[string]string{},
	}
	for _, o := range options {
		o(a)
	}
	return a
}

func (a *Adapter) Store() *store.Store {
	return a.store
}

// RemoteEnabled reports whether mutations are mirrored to a backend.
func (a *Adapter) RemoteEnabled() bool {
	return a.backend != nil
}

// InputState tells a front end whether it may accept input.
type InputState struct {
	Enabled     bool
	Placeholder string
}

const (
	placeholderReady         = "Type your message..."
	placeholderBusy          = "Waiting for the response..."
	placeholderNotConfigured = "Chat is unavailable: no completion API key is configured."
)

// InputState derives the input state for the current conversation. A missing
// completer is reported here instead of failing at submit time.
func (a *Adapter) InputState() InputState {
	if a.completer == nil {
		return InputState{Enabled: false, Placeholder: placeholderNotConfigured}
	}
	st := a.store.Snapshot()
	if st.CurrentConversationID != "" && st.IsLoading(st.CurrentConversationID) {
		return InputState{Enabled: false, Placeholder: placeholderBusy}
	}
	return InputState{Enabled: true, Placeholder: placeholderReady}
}

// resolve follows reconciled ids, a conversation may have been renamed while
// an operation on it was in flight.
func (a *Adapter) resolve(id string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < 8; i++ {
		next, ok := a.renamed[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

func (a *Adapter) publish(e events.Event) {
	a.publisher.PublishBlind(e)
}
