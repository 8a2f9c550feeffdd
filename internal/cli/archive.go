package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/resale/internal/app"
)

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(opts *RootOptions) *cobra.Command {
	var (
		retentionDays int
		purge         bool
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export old sale history to object storage once",
		Long: `Export every listing sold more than --retention-days ago to S3 as JSONL and
exit. Files that already exist are left untouched, so the command is safe
to re-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("retention-days") {
				opts.cfg.Archive.RetentionDays = retentionDays
			}
			if cmd.Flags().Changed("purge") {
				opts.cfg.Archive.Purge = purge
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application := app.New(opts.cfg, opts.logger)
			defer application.Close()
			return ignoreCanceled(application.ArchiveOnce(ctx))
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "override archive.retention_days")
	cmd.Flags().BoolVar(&purge, "purge", false, "delete archived listings from the primary store")
	return cmd
}
