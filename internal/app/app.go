// Package app wires the resale daemon together: storage, cache, object
// storage, notification delivery, the sale services and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/resale/internal/blob/s3"
	"github.com/alanyoungcy/resale/internal/config"
	"github.com/alanyoungcy/resale/internal/notify"
	"github.com/alanyoungcy/resale/internal/pipeline"
	"github.com/alanyoungcy/resale/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Services are the sale engine components built on top of Dependencies.
type Services struct {
	Dispatcher *notify.Dispatcher
	Listings   *service.ListingService
	Auctions   *service.AuctionService
	Offers     *service.OfferService
	Buyouts    *service.BuyoutService
	Closer     *service.AuctionCloser
	Archive    *pipeline.ArchiveJob // nil without object storage
}

func (a *App) buildServices(deps *Dependencies) *Services {
	m := a.cfg.Market
	dispatcher := notify.NewDispatcher(
		deps.Store.Notifications(),
		deps.Bus,
		deps.Alerts,
		notify.DispatcherConfig{QueueSize: m.NotifyQueueSize, Workers: m.NotifyWorkers},
		a.logger,
	)

	listings := service.NewListingService(deps.Store, deps.Cache, dispatcher, a.logger)
	auctions := service.NewAuctionService(deps.Store, listings, dispatcher, a.logger)
	svc := &Services{
		Dispatcher: dispatcher,
		Listings:   listings,
		Auctions:   auctions,
		Offers:     service.NewOfferService(deps.Store, listings, dispatcher, a.logger),
		Buyouts:    service.NewBuyoutService(deps.Store, listings, dispatcher, a.logger),
		Closer:     service.NewAuctionCloser(auctions, deps.Locks, m.SweepInterval.Duration, m.SweepBatch, a.logger),
	}

	if deps.Blobs != nil {
		blobs := s3blob.NewStore(deps.Blobs)
		archiver := s3blob.NewArchiver(blobs, blobs, listings, deps.Store.Audit(), s3blob.ArchiverConfig{
			BatchSize: a.cfg.Archive.BatchSize,
			Purge:     a.cfg.Archive.Purge,
		}, a.logger)
		svc.Archive = pipeline.NewArchiveJob(archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	return svc
}

func (a *App) wire(ctx context.Context, opts WireOptions) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, opts, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// ArchiveOnce runs a single sale archive pass and returns.
func (a *App) ArchiveOnce(ctx context.Context) error {
	deps, err := a.wire(ctx, WireOptions{ObjectStorage: true})
	if err != nil {
		return err
	}
	svc := a.buildServices(deps)

	start := time.Now()
	if err := svc.Archive.Run(ctx); err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive finished", slog.Duration("took", time.Since(start)))
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
