package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc returns a router handler that writes streamed replies to w
// as they arrive. Sync failures are printed as a short YAML block.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return nil
		}

		switch p_ := e.(type) {
		case *EventPartialCompletionStart:
			isFirst = true

		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: ", name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(w, p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}

		case *EventError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}

		case *EventSyncFailed:
			v_, err := yaml.Marshal(map[string]string{
				"sync_failed":     p_.Operation,
				"conversation_id": p_.Metadata_.ConversationID,
				"error":           p_.ErrorString,
			})
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "\n%s", v_); err != nil {
				return err
			}

		case *EventConversationReconciled:
		}

		return nil
	}
}
