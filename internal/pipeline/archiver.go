// Package pipeline runs scheduled background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/resale/internal/blob/s3"
)

// SaleArchiver exports sold listings older than a cutoff.
type SaleArchiver interface {
	ArchiveSales(ctx context.Context, before time.Time) ([]s3blob.BatchResult, error)
}

// ArchiveJob moves sale history older than the retention window to cold
// storage, once per run or on a cron schedule.
type ArchiveJob struct {
	archiver      SaleArchiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiveJob creates an ArchiveJob. Sales are archived once they are
// retentionDays old.
func NewArchiveJob(archiver SaleArchiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		retentionDays: max(retentionDays, 0),
		logger:        logger.With(slog.String("component", "archive_job")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single archive run.
func (j *ArchiveJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	j.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	results, err := j.archiver.ArchiveSales(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving sales before %v: %w", cutoff, err)
	}

	var stored, skipped, purged, records int
	for _, r := range results {
		records += r.Count
		purged += r.Purged
		if r.Skipped {
			skipped++
		} else {
			stored++
		}
	}
	j.logger.InfoContext(ctx, "archive run complete",
		slog.Int("records", records),
		slog.Int("files_stored", stored),
		slog.Int("files_skipped", skipped),
		slog.Int("purged", purged),
	)
	return nil
}

// RunCron runs the job on a 5-field cron schedule until ctx is cancelled.
//
// Example: "0 3 * * *" runs at 03:00 UTC every day.
func (j *ArchiveJob) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	j.logger.InfoContext(ctx, "archive cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(j.now())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := j.Run(ctx); err != nil {
				j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
