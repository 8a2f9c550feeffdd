package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/resale/internal/domain"
)

const sweeperLockKey = "auction-sweeper"

// AuctionCloser periodically closes and settles auctions whose end time has
// passed. When a LockManager is set only one replica sweeps per tick.
type AuctionCloser struct {
	auctions *AuctionService
	locks    domain.LockManager
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewAuctionCloser creates an AuctionCloser. locks may be nil.
func NewAuctionCloser(
	auctions *AuctionService,
	locks domain.LockManager,
	interval time.Duration,
	batch int,
	logger *slog.Logger,
) *AuctionCloser {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &AuctionCloser{
		auctions: auctions,
		locks:    locks,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "auction_closer")),
	}
}

// Run sweeps on every tick until ctx is cancelled. Call in a goroutine.
func (c *AuctionCloser) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Tick(ctx); err != nil {
				c.logger.ErrorContext(ctx, "auction sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs a single sweep and returns how many auctions it closed.
func (c *AuctionCloser) Tick(ctx context.Context) (int, error) {
	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, sweeperLockKey, c.interval)
		if errors.Is(err, domain.ErrLockHeld) {
			c.logger.DebugContext(ctx, "auction sweep skipped, another replica holds the lock")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer unlock()
	}

	n, err := c.auctions.SweepExpired(ctx, c.batch)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.InfoContext(ctx, "expired auctions settled", slog.Int("count", n))
	}
	return n, nil
}
