package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/chatsync/cmd/chatsync/cmds"
	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "chatsync is a local-first chat client with a synced conversation store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		if err := config.Init(viper.GetViper(), configFile); err != nil {
			return err
		}
		settings, err = config.Decode(viper.GetViper())
		if err != nil {
			return err
		}
		if err := logging.Init(settings.Log); err != nil {
			return err
		}
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Initialized")
		return nil
	},
}

func getSettings() *config.Settings {
	return settings
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to the config file (default $HOME/.chatsync/config.yaml)")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "auto", "Log format (auto, text, json)")
	pf.String("log-file", "", "Write logs to a rotating file instead of stderr")
	pf.Bool("with-caller", false, "Log the caller's file and line")

	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"log.file":        "log-file",
		"log.with-caller": "with-caller",
	} {
		cobra.CheckErr(viper.BindPFlag(key, pf.Lookup(flag)))
	}

	rootCmd.AddCommand(
		cmds.NewChatCommand(getSettings),
		cmds.NewProxyCommand(getSettings),
		cmds.NewStoreCommand(getSettings),
		cmds.NewConversationsCommand(getSettings),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
