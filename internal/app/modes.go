package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/resale/internal/crypto"
	"github.com/alanyoungcy/resale/internal/server"
	"github.com/alanyoungcy/resale/internal/server/handler"
	"github.com/alanyoungcy/resale/internal/server/middleware"
	"github.com/alanyoungcy/resale/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// Serve wires everything and runs the HTTP API, the notification
// dispatcher, the expired-auction sweeper, the websocket hub and, when
// enabled, the archive schedule. It blocks until ctx is cancelled or one of
// them fails.
func (a *App) Serve(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting resale daemon",
		slog.String("storage", a.cfg.Storage.Driver),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx, WireOptions{})
	if err != nil {
		return err
	}
	svc := a.buildServices(deps)

	srvDeps := server.Deps{Limiter: deps.Limiter}
	if a.cfg.Auth.TokenSecret != "" {
		signer, err := crypto.NewTokenSigner(a.cfg.Auth.TokenSecret)
		if err != nil {
			return fmt.Errorf("app: token signer: %w", err)
		}
		srvDeps.Tokens = middleware.TokenVerifier(signer)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return svc.Dispatcher.Run(ctx) })
	g.Go(func() error { return svc.Closer.Run(ctx) })

	if deps.Bus != nil {
		hub := ws.NewHub(deps.Bus, a.logger, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins})
		srvDeps.Hub = hub
		g.Go(func() error { return hub.Run(ctx) })
	}

	if svc.Archive != nil {
		g.Go(func() error { return svc.Archive.RunCron(ctx, a.cfg.Archive.Cron) })
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			GatewayKey:  a.cfg.Auth.GatewayKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:        handler.NewHealthHandler(a.logger, deps.Checks...),
			Listings:      handler.NewListingHandler(svc.Listings, svc.Buyouts, a.logger),
			Auctions:      handler.NewAuctionHandler(svc.Auctions, a.logger),
			Offers:        handler.NewOfferHandler(svc.Offers, a.logger),
			Notifications: handler.NewNotificationHandler(deps.Store.Notifications(), a.logger),
		},
		srvDeps,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
