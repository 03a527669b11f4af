package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes events to a set of watermill publishers, each
// subscribed under a topic. It stamps every outgoing event with a sequence
// number in the order Publish handles them.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], pub)
}

// Publish serializes the event to JSON and hands it to every publisher. A
// failing publisher is logged and does not stop the others.
func (s *PublisherManager) Publish(event Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	seq := s.sequenceNumber
	s.sequenceNumber++
	if setter, ok := event.(interface{ setSequenceNumber(uint64) }); ok {
		setter.setSequenceNumber(seq)
	}

	b, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}

	for topic, pubs := range s.Publishers {
		for _, pub := range pubs {
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.Metadata.Set("sequence_number", strconv.FormatUint(seq, 10))
			msg.Metadata.Set("event_type", string(event.Type()))
			msg.Metadata.Set("conversation_id", event.Metadata().ConversationID)
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Str("event_type", string(event.Type())).Msg("failed to publish")
			}
		}
	}

	return nil
}

// PublishBlind publishes and only logs failures. A nil manager is a no-op so
// callers can publish unconditionally.
func (s *PublisherManager) PublishBlind(event Event) {
	if s == nil {
		return
	}
	if err := s.Publish(event); err != nil {
		log.Warn().Err(err).Msg("failed to publish")
	}
}
