package cmds

import (
	"net/http"
	"time"

	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/go-go-golems/chatsync/pkg/proxy"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/go-go-golems/chatsync/pkg/web"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewProxyCommand(settings SettingsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Authenticated completion proxy",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the completion proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings().Proxy
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				s.Addr = addr
			}
			if s.Token == "" {
				log.Warn().Msg("No proxy token configured, every request will be rejected")
			}
			if s.APIKey == "" {
				log.Warn().Msg("No provider API key configured, requests will fail with a configuration error")
			}

			m := metrics.New()
			p, err := proxy.New(s.Settings, proxy.WithMetrics(m))
			if err != nil {
				return errors.Wrap(err, "creating proxy")
			}
			return web.Serve(cmd.Context(), newHTTPServer(s.Addr, p.Handler()))
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides proxy.addr)")
	cmd.AddCommand(serveCmd)

	return cmd
}

func NewStoreCommand(settings SettingsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Conversation persistence server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a persistence backend over the REST protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings().StoreServer
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				s.Addr = addr
			}

			backend, err := openRemote(cmd.Context(), s.Backend)
			if err != nil {
				return err
			}
			defer func() {
				if err := remote.Close(backend); err != nil {
					log.Warn().Err(err).Msg("Failed to close backend")
				}
			}()

			options := []remote.ServerOption{remote.WithServerMetrics(metrics.New())}
			if s.APIKey != "" {
				options = append(options, remote.WithAPIKey(s.APIKey))
			} else {
				log.Warn().Msg("No store-server.api-key configured, the REST endpoints are unauthenticated")
			}
			log.Info().Str("backend", s.Backend.Kind).Msg("Starting store server")
			srv := remote.NewServer(backend, options...)
			return web.Serve(cmd.Context(), newHTTPServer(s.Addr, srv.Handler()))
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides store-server.addr)")
	cmd.AddCommand(serveCmd)

	return cmd
}
