package cmds

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/go-go-golems/chatsync/pkg/render"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/mattn/go-isatty"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewConversationsCommand(settings SettingsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect conversations stored in the remote backend",
	}

	listCommand, err := NewListConversationsCommand(settings)
	cobra.CheckErr(err)
	listCmd, err := cli.BuildCobraCommandFromGlazeCommand(listCommand)
	cobra.CheckErr(err)

	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as markdown or yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			concise, _ := cmd.Flags().GetBool("concise")
			style, _ := cmd.Flags().GetString("style")
			convs, err := loadConversations(cmd.Context(), settings().Remote)
			if err != nil {
				return err
			}
			for _, c := range convs {
				if c.ID == args[0] {
					return exportConversation(cmd.OutOrStdout(), c, format, concise, style)
				}
			}
			return errors.Wrap(remote.ErrNotFound, args[0])
		},
	}
	exportCmd.Flags().StringP("format", "f", "markdown", "Export format (markdown, yaml)")
	exportCmd.Flags().Bool("concise", false, "Leave out message ids and timestamps")
	exportCmd.Flags().String("style", "dark", "glamour style used when writing markdown to a terminal")

	cmd.AddCommand(listCmd, exportCmd)
	return cmd
}

func loadConversations(ctx context.Context, s remote.Settings) ([]chat.Conversation, error) {
	backend, err := openRemote(ctx, s)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := remote.Close(backend); err != nil {
			log.Warn().Err(err).Msg("Failed to close backend")
		}
	}()
	convs, err := backend.ListConversations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}
	return convs, nil
}

// ListConversationsCommand emits one row per remote conversation, so the
// glazed output flags (table, json, yaml, csv, field selection) apply.
type ListConversationsCommand struct {
	*cmds.CommandDescription
	settings SettingsFunc
}

var _ cmds.GlazeCommand = &ListConversationsCommand{}

type ListConversationsSettings struct {
	Title       string `glazed.parameter:"title"`
	MinMessages int    `glazed.parameter:"min-messages"`
	Limit       int    `glazed.parameter:"limit"`
}

func NewListConversationsCommand(settingsFunc SettingsFunc) (*ListConversationsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &ListConversationsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List conversations"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"title",
					parameters.ParameterTypeString,
					parameters.WithHelp("glob to match the title, case insensitive"),
				),
				parameters.NewParameterDefinition(
					"min-messages",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Only list conversations with at least this many messages"),
					parameters.WithDefault(0),
				),
				parameters.NewParameterDefinition(
					"limit",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Maximum number of conversations, 0 for all"),
					parameters.WithDefault(0),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
		settings: settingsFunc,
	}, nil
}

func (c *ListConversationsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ListConversationsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	convs, err := loadConversations(ctx, c.settings().Remote)
	if err != nil {
		return err
	}
	convs, err = filterConversations(convs, s)
	if err != nil {
		return err
	}
	return addConversationRows(ctx, gp, convs)
}

func filterConversations(convs []chat.Conversation, s *ListConversationsSettings) ([]chat.Conversation, error) {
	pattern := strings.ToLower(s.Title)
	ret := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		if s.Limit > 0 && len(ret) >= s.Limit {
			break
		}
		if pattern != "" {
			matching, err := glob.Match(pattern, strings.ToLower(c.Title))
			if err != nil {
				return nil, errors.Wrapf(err, "matching title glob %q", s.Title)
			}
			if !matching {
				continue
			}
		}
		if len(c.Messages) < s.MinMessages {
			continue
		}
		ret = append(ret, c)
	}
	return ret, nil
}

func addConversationRows(ctx context.Context, gp middlewares.Processor, convs []chat.Conversation) error {
	for _, c := range convs {
		row := types.NewRow(
			types.MRP("id", c.ID),
			types.MRP("title", c.Title),
			types.MRP("messages", len(c.Messages)),
			types.MRP("created_at", c.CreatedAt.Format(time.RFC3339)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func exportConversation(w io.Writer, c chat.Conversation, format string, concise bool, style string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(c)
	case "markdown", "md":
		r := &render.Renderer{Concise: concise}
		md, err := r.Markdown(c)
		if err != nil {
			return err
		}
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			md, err = render.Terminal(md, style)
			if err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, strings.TrimRight(md, "\n")+"\n")
		return err
	default:
		return errors.Errorf("unknown export format %q", format)
	}
}
