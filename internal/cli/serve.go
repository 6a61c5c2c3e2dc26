package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/logging"
	"audiodesk/internal/server"
)

// EnvAPIKey sets the serve --api-key default.
const EnvAPIKey = "AUDIODESK_API_KEY"

func newServeCmd(s *session) *cobra.Command {
	var (
		addr   string
		apiKey string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control API",
		Long: `Start an HTTP server that drives the same controller as the desktop app.

API Endpoints:
  GET  /api/health                   Health check
  GET  /api/state                    Controls and status line
  GET  /api/task                     Current or last task
  GET  /api/events?since=N           Task events after sequence N
  POST /api/record                   {"duration": "5"}
  POST /api/slice                    {"path": "...", "split_ms": "4000"}
  POST /api/transcribe               {"path": "..."}
  POST /api/cancel                   Cancel the running task
  GET  /api/settings                 Current settings
  PUT  /api/settings                 Replace settings (partial JSON merges)
  POST /api/settings                 {"key": "...", "value": "..."}
  GET  /api/diagnostics[?refresh=true]
  POST /api/diagnostics/:id/fix
  GET  /api/models
  POST /api/models/:id/download`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv(EnvAPIKey)
			}
			return s.withServices(func(svc *bootstrap.Services) error {
				srv := server.New(svc, server.Options{
					Addr:   addr,
					APIKey: apiKey,
					Logger: logging.Component(s.logger, "http"),
				})

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					return err
				case <-cmd.Context().Done():
				}

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return <-errCh
			})
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:8765", "listen address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "require this X-API-Key header (default $"+EnvAPIKey+")")
	return cmd
}
