package completion

import (
	"encoding/json"
	"io"

	"github.com/go-go-golems/chatsync/pkg/sse"
	"github.com/rs/zerolog/log"
)

// Stream yields the text fragments of a streamed completion.
type Stream struct {
	body    io.ReadCloser
	reader  *sse.Reader
	skipped int
	done    bool
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: sse.NewReader(body),
	}
}

// NewStreamFromReader decodes an already opened response body.
func NewStreamFromReader(r io.ReadCloser) *Stream {
	return newStream(r)
}

// Next returns the next non-empty text fragment. It returns io.EOF once the
// body is exhausted. Malformed frames are skipped and counted; every event
// other than a text delta, message_stop and in-stream errors included, is
// ignored, so the stream only ends with the transport.
func (s *Stream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		frame, err := s.reader.Next()
		if err != nil {
			s.done = true
			if err == io.EOF {
				log.Debug().Int("skipped", s.skipped).Msg("Completion stream finished")
			}
			return "", err
		}

		var event StreamingEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			s.skipped++
			log.Debug().Err(err).Msg("Skipping malformed stream frame")
			continue
		}

		switch event.Type {
		case MessageStopType:
			log.Debug().Msg("Ignoring message_stop, reading until end of body")
			continue
		case ErrorType:
			ev := log.Debug()
			if event.Error != nil {
				ev = ev.Str("error_type", event.Error.Type).Str("error", event.Error.Message)
			}
			ev.Msg("Ignoring in-stream error event")
			continue
		}

		if text, ok := event.TextDelta(); ok {
			return text, nil
		}
		log.Trace().Object("event", event).Msg("Ignoring stream event")
	}
}

// Skipped returns how many frames could not be decoded.
func (s *Stream) Skipped() int {
	return s.skipped
}

func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
