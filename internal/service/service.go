// Package service implements the sale-finalization engine: listings,
// auctions, negotiated offers and buyouts. Every sale path runs inside one
// domain.Store unit of work and routes through ListingService.TryFinalizeSale.
// Notifications and public events are collected while the unit runs and
// handed to the Outbox only after it commits.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alanyoungcy/resale/internal/domain"
)

// Outbox receives post-commit side effects. Implementations must not block.
type Outbox interface {
	Enqueue(n domain.Notification)
	Broadcast(ev domain.MarketEvent)
}

type discardOutbox struct{}

func (discardOutbox) Enqueue(domain.Notification)  {}
func (discardOutbox) Broadcast(domain.MarketEvent) {}

// base carries the dependencies shared by every service.
type base struct {
	store  domain.Store
	cache  domain.ListingCache
	outbox Outbox
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func newBase(store domain.Store, cache domain.ListingCache, outbox Outbox, logger *slog.Logger) base {
	if outbox == nil {
		outbox = discardOutbox{}
	}
	return base{
		store:  store,
		cache:  cache,
		outbox: outbox,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return ulid.Make().String() },
	}
}

// effects collects what to deliver once a unit of work has committed. A unit
// that rolls back discards its effects.
type effects struct {
	notes      []domain.Notification
	events     []domain.MarketEvent
	invalidate []string
}

func (e *effects) notify(recipient, event, message string, payload map[string]any) {
	e.notes = append(e.notes, domain.Notification{
		RecipientID: recipient,
		Event:       event,
		Message:     message,
		Payload:     payload,
	})
}

func (e *effects) publish(ev domain.MarketEvent) {
	e.events = append(e.events, ev)
}

func (e *effects) touch(listingID string) {
	if listingID != "" {
		e.invalidate = append(e.invalidate, listingID)
	}
}

// flush hands committed effects to the outbox and drops stale cache entries.
// Nothing here can fail the operation.
func (b base) flush(ctx context.Context, fx *effects) {
	for _, id := range fx.invalidate {
		if b.cache == nil {
			break
		}
		if err := b.cache.Invalidate(ctx, id); err != nil {
			b.logger.WarnContext(ctx, "service: cache invalidate failed",
				slog.String("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, n := range fx.notes {
		b.outbox.Enqueue(n)
	}
	for _, ev := range fx.events {
		b.outbox.Broadcast(ev)
	}
}

// closeCompanionAuction closes the listing's auction, if it is still active,
// as part of a sale. The listing row must already be locked by tx. It returns
// the companion auction id, or "" when the listing has none.
func (b base) closeCompanionAuction(ctx context.Context, tx domain.Repos, listingID string, at time.Time, fx *effects) (string, error) {
	a, err := tx.Auctions().GetByListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	a, err = tx.Auctions().LockByID(ctx, a.ID)
	if err != nil {
		return "", err
	}
	if a.Status != domain.AuctionStatusActive {
		return a.ID, nil
	}
	if err := tx.Auctions().UpdateStatus(ctx, a.ID, domain.AuctionStatusClosed, at); err != nil {
		return "", err
	}
	fx.publish(domain.MarketEvent{
		Type:      domain.EventAuctionClosed,
		ListingID: listingID,
		AuctionID: a.ID,
		Status:    string(domain.AuctionStatusClosed),
		At:        at,
	})
	return a.ID, nil
}

func moneyPtr(m domain.Money) *domain.Money { return &m }
