package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/resale/internal/app"
	"github.com/alanyoungcy/resale/internal/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Long: `Run the HTTP API, the notification dispatcher, the expired-auction
sweeper, the live event websocket and, when enabled, the archive schedule.

Example:
  resaled serve --config resale.toml
  RESALE_STORAGE_DRIVER=memory RESALE_AUTH_GATEWAY_KEY=dev resaled serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts.logger.InfoContext(ctx, "configuration loaded",
				slog.Any("config", config.RedactedConfig(opts.cfg)),
				slog.Int("pid", os.Getpid()),
			)

			application := app.New(opts.cfg, opts.logger)
			defer application.Close()

			if err := ignoreCanceled(application.Serve(ctx)); err != nil {
				return err
			}
			opts.logger.Info("resaled stopped")
			return nil
		},
	}
}
