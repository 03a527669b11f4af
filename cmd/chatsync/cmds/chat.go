package cmds

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/chatsync/pkg/adapter"
	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/events"
	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/go-go-golems/chatsync/pkg/store"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

type chatOptions struct {
	conversation string
	printRaw     bool
	yes          bool
	style        string
}

func NewChatCommand(settings SettingsFunc) *cobra.Command {
	opts := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal, mirroring conversations to the remote backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), settings(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "Select this conversation on start")
	cmd.Flags().BoolVar(&opts.printRaw, "print-raw-events", false, "Print stream events as JSON instead of text")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().StringVar(&opts.style, "style", "dark", "glamour style for /history on a terminal")
	return cmd
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func runChat(ctx context.Context, s *config.Settings, opts chatOptions, in io.Reader, out io.Writer) error {
	backend, err := remote.Open(ctx, s.Remote)
	if err != nil {
		return errors.Wrap(err, "opening remote backend")
	}
	defer func() {
		if err := remote.Close(backend); err != nil {
			log.Warn().Err(err).Msg("Failed to close backend")
		}
	}()

	router, err := events.NewEventRouter(events.WithVerbose(s.Log.Level == "trace"))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	if opts.printRaw {
		router.AddHandler("raw", events.TopicChat, router.DumpRawEvents(out))
	} else {
		router.AddHandler("printer", events.TopicChat, events.StepPrinterFunc("assistant", out))
	}

	pm := events.NewPublisherManager()
	pm.SubscribePublisher(events.TopicChat, router.Publisher)

	options := []adapter.Option{
		adapter.WithPublisher(pm),
		adapter.WithMetrics(metrics.New()),
		adapter.WithErrorMessage(s.ErrorMessage),
		adapter.WithModel(s.Completion.Model, s.Completion.MaxTokens),
		adapter.WithLogger(log.Logger),
	}
	if backend != nil {
		options = append(options, adapter.WithBackend(backend))
	}
	if s.Completion.Configured() {
		client, err := s.Completion.NewClient()
		if err != nil {
			return err
		}
		options = append(options, adapter.WithCompleter(client))
	} else {
		log.Warn().Msg("No completion.api-key configured, chat input is disabled")
	}

	a := adapter.New(store.New(store.WithLogger(log.Logger)), options...)
	if err := a.LoadConversations(ctx); err != nil {
		_, _ = fmt.Fprintf(out, "Could not load conversations, starting with a local list: %s\n", err)
	}
	if opts.conversation != "" {
		if _, ok := a.Store().Conversation(opts.conversation); !ok {
			return errors.Errorf("unknown conversation %s", opts.conversation)
		}
		a.SelectConversation(opts.conversation)
	}

	r := &repl{adapter: a, out: out}
	if isTerminal(out) {
		r.style = opts.style
	}
	if !opts.yes && isTerminal(in) {
		r.confirm = confirmer(in, out)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}
		if err := r.Run(ctx, in); err != nil {
			return err
		}
		if ids := unsyncedIDs(a); len(ids) > 0 {
			a.Retry(context.WithoutCancel(ctx))
			if left := unsyncedIDs(a); len(left) > 0 {
				log.Warn().Strs("conversation_ids", left).Msg("Conversations were not synced to the remote backend")
			}
		}
		return nil
	})

	return eg.Wait()
}

func confirmer(in io.Reader, out io.Writer) func(string) (bool, error) {
	ui := &input.UI{Writer: out, Reader: in}
	return func(question string) (bool, error) {
		answer, err := ui.Ask(question+" [y/n]", &input.Options{
			Default:  "n",
			Required: true,
			Loop:     true,
			ValidateFunc: func(answer string) error {
				switch answer {
				case "y", "Y", "n", "N":
					return nil
				default:
					return fmt.Errorf("please enter 'y' or 'n'")
				}
			},
		})
		if err != nil {
			return false, err
		}
		return answer == "y" || answer == "Y", nil
	}
}
