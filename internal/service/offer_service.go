package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/resale/internal/domain"
)

// Acceptance is the sale produced by accepting an offer.
type Acceptance struct {
	ListingID string       `json:"listingId"`
	BuyerID   string       `json:"buyerId"`
	Amount    domain.Money `json:"amount"`
}

// OfferService handles negotiated offers on listings.
type OfferService struct {
	base
	listings *ListingService
}

// NewOfferService creates an OfferService. Sales go through listings.
func NewOfferService(
	store domain.Store,
	listings *ListingService,
	outbox Outbox,
	logger *slog.Logger,
) *OfferService {
	return &OfferService{
		base:     newBase(store, listings.cache, outbox, logger),
		listings: listings,
	}
}

// PlaceOffer records a pending offer. The amount must be positive and at
// least the greater of the listing's base price and the highest offer made
// on it so far. The floor is read under the listing lock, so two concurrent
// offers are judged one after the other.
func (s *OfferService) PlaceOffer(
	ctx context.Context,
	listingID, offerorID string,
	amount domain.Money,
	conversationID string,
) (domain.Offer, error) {
	if offerorID == "" {
		return domain.Offer{}, domain.ErrUnauthenticated
	}

	var (
		offer domain.Offer
		fx    effects
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		l, err := tx.Listings().LockByID(ctx, listingID)
		if err != nil {
			return err
		}
		if l.IsSold() {
			return domain.ErrAlreadySold
		}
		if l.OwnerID == offerorID {
			return domain.ErrSelfOffer
		}

		highest, _, err := tx.Offers().HighestAmount(ctx, l.ID)
		if err != nil {
			return err
		}
		floor := domain.MaxMoney(l.BasePrice, highest)
		if amount <= 0 || amount < floor {
			return domain.ErrOfferTooLow
		}

		offer = domain.Offer{
			ProposalBase: domain.ProposalBase{
				ID:        s.newID(),
				BidderID:  offerorID,
				SellerID:  l.OwnerID,
				Amount:    amount,
				CreatedAt: s.now(),
			},
			ListingID:      l.ID,
			Status:         domain.OfferStatusPending,
			Source:         domain.OfferSourceNegotiated,
			ConversationID: conversationID,
		}
		if err := tx.Offers().Insert(ctx, offer); err != nil {
			return err
		}
		fx.notify(l.OwnerID, domain.EventOfferPlaced,
			fmt.Sprintf("New offer of %s on %q", amount, l.Title),
			map[string]any{"listingId": l.ID, "offerId": offer.ID, "amount": amount.String()})
		return nil
	})
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offer_service: place offer on %q: %w", listingID, err)
	}

	s.flush(ctx, &fx)
	s.logger.InfoContext(ctx, "offer_service: offer placed",
		slog.String("listing_id", listingID),
		slog.String("offer_id", offer.ID),
		slog.String("amount", amount.String()),
	)
	return offer, nil
}

// AcceptOffer sells the listing to the offeror at the offered amount. In the
// same unit of work every other pending offer on the listing is rejected and
// a still-active companion auction is closed.
func (s *OfferService) AcceptOffer(ctx context.Context, offerID, requesterID string) (Acceptance, error) {
	if requesterID == "" {
		return Acceptance{}, domain.ErrUnauthenticated
	}
	o, err := s.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return Acceptance{}, fmt.Errorf("offer_service: accept offer: %w", err)
	}
	l, err := s.store.Listings().GetByID(ctx, o.ListingID)
	if err != nil {
		return Acceptance{}, fmt.Errorf("offer_service: accept offer: %w", err)
	}
	if l.OwnerID != requesterID {
		return Acceptance{}, domain.ErrForbidden
	}
	if !o.IsPending() {
		return Acceptance{}, domain.ErrAlreadyDecided
	}

	var (
		acc Acceptance
		fx  effects
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		if _, err := tx.Listings().LockByID(ctx, l.ID); err != nil {
			return err
		}
		o, err := tx.Offers().GetByID(ctx, offerID)
		if err != nil {
			return err
		}
		if !o.IsPending() {
			return domain.ErrAlreadyDecided
		}

		sold, err := s.listings.TryFinalizeSale(ctx, tx, l.ID, o.BidderID, o.Amount)
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrAlreadySold
		}
		if err != nil {
			return err
		}

		now := s.now()
		if _, err := tx.Offers().Decide(ctx, o.ID, domain.OfferStatusAccepted, now); err != nil {
			return err
		}
		rejected, err := tx.Offers().RejectPending(ctx, l.ID, o.ID, now)
		if err != nil {
			return err
		}
		auctionID, err := s.closeCompanionAuction(ctx, tx, l.ID, now, &fx)
		if err != nil {
			return err
		}

		acc = Acceptance{ListingID: sold.ID, BuyerID: o.BidderID, Amount: o.Amount}
		fx.notify(o.BidderID, domain.EventOfferAccepted,
			fmt.Sprintf("Your offer of %s on %q was accepted", o.Amount, sold.Title),
			map[string]any{"listingId": sold.ID, "offerId": o.ID, "amount": o.Amount.String()})
		for _, r := range rejected {
			fx.notify(r.BidderID, domain.EventOfferRejected,
				fmt.Sprintf("Your offer of %s on %q was declined", r.Amount, sold.Title),
				map[string]any{"listingId": sold.ID, "offerId": r.ID})
		}
		fx.publish(domain.MarketEvent{
			Type:      domain.EventListingSold,
			ListingID: sold.ID,
			AuctionID: auctionID,
			Amount:    moneyPtr(o.Amount),
			At:        now,
		})
		fx.touch(sold.ID)
		return nil
	})
	if err != nil {
		return Acceptance{}, fmt.Errorf("offer_service: accept offer %q: %w", offerID, err)
	}

	s.flush(ctx, &fx)
	s.logger.InfoContext(ctx, "offer_service: offer accepted",
		slog.String("offer_id", offerID),
		slog.String("listing_id", acc.ListingID),
		slog.String("amount", acc.Amount.String()),
	)
	return acc, nil
}

// RejectOffer declines a pending offer.
func (s *OfferService) RejectOffer(ctx context.Context, offerID, requesterID string) (domain.Offer, error) {
	if requesterID == "" {
		return domain.Offer{}, domain.ErrUnauthenticated
	}
	o, err := s.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offer_service: reject offer: %w", err)
	}
	if o.SellerID != requesterID {
		return domain.Offer{}, domain.ErrForbidden
	}
	if !o.IsPending() {
		return domain.Offer{}, domain.ErrAlreadyDecided
	}

	var fx effects
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		decided, err := tx.Offers().Decide(ctx, offerID, domain.OfferStatusRejected, s.now())
		if err != nil {
			return err
		}
		o = decided
		fx.notify(o.BidderID, domain.EventOfferRejected,
			fmt.Sprintf("Your offer of %s was declined", o.Amount),
			map[string]any{"listingId": o.ListingID, "offerId": o.ID})
		return nil
	})
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offer_service: reject offer %q: %w", offerID, err)
	}
	s.flush(ctx, &fx)
	return o, nil
}

// ListOffers returns the offers on a listing, highest first. Only the owner
// may see them.
func (s *OfferService) ListOffers(ctx context.Context, listingID, requesterID string) ([]domain.Offer, error) {
	if requesterID == "" {
		return nil, domain.ErrUnauthenticated
	}
	l, err := s.store.Listings().GetByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("offer_service: list offers: %w", err)
	}
	if l.OwnerID != requesterID {
		return nil, domain.ErrForbidden
	}
	offers, err := s.store.Offers().ListByListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("offer_service: list offers %q: %w", listingID, err)
	}
	return offers, nil
}
