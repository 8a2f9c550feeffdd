package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/resale/internal/domain"
)

// Purchase is the sale produced by an instant buyout.
type Purchase struct {
	ListingID string       `json:"listingId"`
	BuyerID   string       `json:"buyerId"`
	Amount    domain.Money `json:"amount"`
}

// BuyoutService sells listings at their fixed buyout price.
type BuyoutService struct {
	base
	listings *ListingService
}

// NewBuyoutService creates a BuyoutService. Sales go through listings.
func NewBuyoutService(
	store domain.Store,
	listings *ListingService,
	outbox Outbox,
	logger *slog.Logger,
) *BuyoutService {
	return &BuyoutService{
		base:     newBase(store, listings.cache, outbox, logger),
		listings: listings,
	}
}

// Buyout sells the listing to buyerID at its buyout price. A settlement offer
// row with source buyout is recorded for history and an active companion
// auction is closed. Pending negotiated offers are left as they are.
func (s *BuyoutService) Buyout(ctx context.Context, listingID, buyerID string) (Purchase, error) {
	if buyerID == "" {
		return Purchase{}, domain.ErrUnauthenticated
	}

	var (
		p  Purchase
		fx effects
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		l, err := tx.Listings().LockByID(ctx, listingID)
		if err != nil {
			return err
		}
		if l.OwnerID == buyerID {
			return domain.ErrSelfBuyout
		}
		if !l.HasBuyout() {
			return domain.ErrNoBuyoutPrice
		}
		price := *l.BuyoutPrice

		sold, err := s.listings.TryFinalizeSale(ctx, tx, l.ID, buyerID, price)
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrAlreadySold
		}
		if err != nil {
			return err
		}

		now := s.now()
		settlement := domain.Offer{
			ProposalBase: domain.ProposalBase{
				ID:        s.newID(),
				BidderID:  buyerID,
				SellerID:  l.OwnerID,
				Amount:    price,
				CreatedAt: now,
			},
			ListingID: l.ID,
			Status:    domain.OfferStatusAccepted,
			Source:    domain.OfferSourceBuyout,
			DecidedAt: &now,
		}
		if err := tx.Offers().Insert(ctx, settlement); err != nil {
			return err
		}
		auctionID, err := s.closeCompanionAuction(ctx, tx, l.ID, now, &fx)
		if err != nil {
			return err
		}

		p = Purchase{ListingID: sold.ID, BuyerID: buyerID, Amount: price}
		payload := map[string]any{"listingId": sold.ID, "amount": price.String()}
		fx.notify(buyerID, domain.EventPurchased,
			fmt.Sprintf("You bought %q for %s", sold.Title, price), payload)
		fx.notify(sold.OwnerID, domain.EventListingSold,
			fmt.Sprintf("%q was bought out for %s", sold.Title, price), payload)
		fx.publish(domain.MarketEvent{
			Type:      domain.EventListingSold,
			ListingID: sold.ID,
			AuctionID: auctionID,
			Amount:    moneyPtr(price),
			At:        now,
		})
		fx.touch(sold.ID)
		return nil
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("buyout_service: buyout %q: %w", listingID, err)
	}

	s.flush(ctx, &fx)
	s.logger.InfoContext(ctx, "buyout_service: listing bought out",
		slog.String("listing_id", listingID),
		slog.String("buyer_id", buyerID),
		slog.String("amount", p.Amount.String()),
	)
	return p, nil
}
