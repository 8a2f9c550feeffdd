package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/resale/internal/domain"
)

// BidResult is returned by a successful PlaceBid.
type BidResult struct {
	Bid             domain.AuctionBid `json:"bid"`
	NewCurrentPrice domain.Money      `json:"newCurrentPrice"`
}

// Settlement is the outcome of closing an auction with settlement. Listing is
// set only when the close produced a sale.
type Settlement struct {
	Auction domain.Auction     `json:"auction"`
	Listing *domain.Listing    `json:"listing,omitempty"`
	Winner  *domain.AuctionBid `json:"winner,omitempty"`
}

// AuctionService coordinates ascending-price auctions.
type AuctionService struct {
	base
	listings *ListingService
}

// NewAuctionService creates an AuctionService. Sales go through listings.
func NewAuctionService(
	store domain.Store,
	listings *ListingService,
	outbox Outbox,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		base:     newBase(store, listings.cache, outbox, logger),
		listings: listings,
	}
}

// CreateAuction starts a standalone auction with no companion listing. Only
// professional sellers may do so.
func (s *AuctionService) CreateAuction(ctx context.Context, actor domain.Principal, in domain.NewAuction) (domain.Auction, error) {
	if !actor.Authenticated() {
		return domain.Auction{}, domain.ErrUnauthenticated
	}
	if !actor.IsPro() {
		return domain.Auction{}, domain.ErrForbidden
	}
	var start domain.Money
	if in.StartPrice != nil {
		start = *in.StartPrice
	}
	a, err := s.listings.buildAuction(in, actor.UserID, "", in.Title, in.Description, start)
	if err != nil {
		return domain.Auction{}, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		return tx.Auctions().Create(ctx, a)
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create auction: %w", err)
	}
	s.logger.InfoContext(ctx, "auction_service: standalone auction created",
		slog.String("auction_id", a.ID),
		slog.String("owner_id", a.OwnerID),
	)
	return a, nil
}

// GetAuction returns an auction by ID.
func (s *AuctionService) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	a, err := s.store.Auctions().GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: get auction %q: %w", id, err)
	}
	return a, nil
}

// ListBids returns the auction's bid history, highest first.
func (s *AuctionService) ListBids(ctx context.Context, auctionID string) ([]domain.AuctionBid, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := s.store.Bids().ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list bids %q: %w", auctionID, err)
	}
	return bids, nil
}

// lockAuction takes the row locks for an auction in the fixed order: the
// companion listing first, then the auction. listing is nil for standalone
// auctions.
func lockAuction(ctx context.Context, tx domain.Repos, a domain.Auction) (domain.Auction, *domain.Listing, error) {
	var listing *domain.Listing
	if a.ListingID != "" {
		l, err := tx.Listings().LockByID(ctx, a.ListingID)
		if err != nil {
			return domain.Auction{}, nil, err
		}
		listing = &l
	}
	locked, err := tx.Auctions().LockByID(ctx, a.ID)
	if err != nil {
		return domain.Auction{}, nil, err
	}
	return locked, listing, nil
}

// resolveOwner is the seller behind an auction: the listing owner when there
// is a companion listing, else the auction owner.
func resolveOwner(a domain.Auction, listing *domain.Listing) string {
	if listing != nil {
		return listing.OwnerID
	}
	return a.OwnerID
}

// PlaceBid raises the auction to amount. The bid must be strictly greater
// than the current price; of two equal concurrent bids exactly one wins and
// the other observes the raised price and fails with domain.ErrBidTooLow.
func (s *AuctionService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount domain.Money) (BidResult, error) {
	if bidderID == "" {
		return BidResult{}, domain.ErrUnauthenticated
	}
	a, err := s.store.Auctions().GetByID(ctx, auctionID)
	if err != nil {
		return BidResult{}, fmt.Errorf("auction_service: place bid: %w", err)
	}

	var (
		res BidResult
		fx  effects
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		a, listing, err := lockAuction(ctx, tx, a)
		if err != nil {
			return err
		}

		now := s.now()
		if !a.IsActive(now) || (listing != nil && listing.IsSold()) {
			return domain.ErrNotActive
		}
		owner := resolveOwner(a, listing)
		if bidderID == owner {
			return domain.ErrSelfBid
		}
		if amount <= a.CurrentPrice {
			return domain.ErrBidTooLow
		}

		prev, err := tx.Bids().GetWinning(ctx, a.ID)
		hadWinner := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if _, err := tx.Bids().DemoteWinning(ctx, a.ID); err != nil {
			return err
		}
		bid := domain.AuctionBid{
			ProposalBase: domain.ProposalBase{
				ID:        s.newID(),
				BidderID:  bidderID,
				SellerID:  owner,
				Amount:    amount,
				CreatedAt: now,
			},
			AuctionID: a.ID,
			Winning:   true,
		}
		if err := tx.Bids().Insert(ctx, bid); err != nil {
			return err
		}
		if err := tx.Auctions().UpdateCurrentPrice(ctx, a.ID, amount); err != nil {
			return err
		}
		res = BidResult{Bid: bid, NewCurrentPrice: amount}

		payload := map[string]any{"auctionId": a.ID, "listingId": a.ListingID, "amount": amount.String()}
		fx.notify(owner, domain.EventBidPlaced,
			fmt.Sprintf("New bid of %s on %q", amount, a.Title), payload)
		if hadWinner && prev.BidderID != bidderID {
			fx.notify(prev.BidderID, domain.EventOutbid,
				fmt.Sprintf("You were outbid on %q; current price is %s", a.Title, amount), payload)
		}
		fx.publish(domain.MarketEvent{
			Type:      domain.EventBidPlaced,
			ListingID: a.ListingID,
			AuctionID: a.ID,
			Amount:    moneyPtr(amount),
			At:        now,
		})
		fx.touch(a.ListingID)
		return nil
	})
	if err != nil {
		return BidResult{}, fmt.Errorf("auction_service: place bid on %q: %w", auctionID, err)
	}

	s.flush(ctx, &fx)
	s.logger.InfoContext(ctx, "auction_service: bid placed",
		slog.String("auction_id", auctionID),
		slog.String("bid_id", res.Bid.ID),
		slog.String("amount", amount.String()),
	)
	return res, nil
}

// CloseAuction closes an active auction on the owner's request. It never
// sells the listing.
func (s *AuctionService) CloseAuction(ctx context.Context, auctionID, requesterID string) (domain.Auction, error) {
	st, err := s.close(ctx, auctionID, requesterID, false)
	if err != nil {
		return domain.Auction{}, err
	}
	return st.Auction, nil
}

// CloseAndSettle closes an active auction and, in the same unit of work,
// sells the companion listing to the winning bidder when a winning bid
// exists, the reserve is met, and the listing is still available. Otherwise
// the auction closes without a sale and the listing stays available.
func (s *AuctionService) CloseAndSettle(ctx context.Context, auctionID, requesterID string) (Settlement, error) {
	return s.close(ctx, auctionID, requesterID, true)
}

// CancelAuction cancels an active auction on the owner's request.
func (s *AuctionService) CancelAuction(ctx context.Context, auctionID, requesterID string) (domain.Auction, error) {
	if requesterID == "" {
		return domain.Auction{}, domain.ErrUnauthenticated
	}
	a, err := s.store.Auctions().GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel auction: %w", err)
	}

	var fx effects
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		locked, _, err := lockAuction(ctx, tx, a)
		if err != nil {
			return err
		}
		if locked.OwnerID != requesterID {
			return domain.ErrForbidden
		}
		if locked.Status != domain.AuctionStatusActive {
			return domain.ErrNotActive
		}
		now := s.now()
		if err := tx.Auctions().UpdateStatus(ctx, locked.ID, domain.AuctionStatusCancelled, now); err != nil {
			return err
		}
		if a, err = tx.Auctions().GetByID(ctx, locked.ID); err != nil {
			return err
		}
		fx.publish(domain.MarketEvent{
			Type:      domain.EventAuctionClosed,
			ListingID: a.ListingID,
			AuctionID: a.ID,
			Status:    string(domain.AuctionStatusCancelled),
			At:        now,
		})
		fx.touch(a.ListingID)
		return nil
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel auction %q: %w", auctionID, err)
	}
	s.flush(ctx, &fx)
	return a, nil
}

// close runs the owner-requested close, optionally settling.
func (s *AuctionService) close(ctx context.Context, auctionID, requesterID string, settle bool) (Settlement, error) {
	if requesterID == "" {
		return Settlement{}, domain.ErrUnauthenticated
	}
	a, err := s.store.Auctions().GetByID(ctx, auctionID)
	if err != nil {
		return Settlement{}, fmt.Errorf("auction_service: close auction: %w", err)
	}

	var (
		st Settlement
		fx effects
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		fx = effects{}
		locked, listing, err := lockAuction(ctx, tx, a)
		if err != nil {
			return err
		}
		if locked.OwnerID != requesterID {
			return domain.ErrForbidden
		}
		if locked.Status != domain.AuctionStatusActive {
			return domain.ErrNotActive
		}
		st, err = s.closeLocked(ctx, tx, locked, listing, settle, &fx)
		return err
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("auction_service: close auction %q: %w", auctionID, err)
	}

	s.flush(ctx, &fx)
	s.logger.InfoContext(ctx, "auction_service: auction closed",
		slog.String("auction_id", auctionID),
		slog.Bool("sold", st.Listing != nil),
	)
	return st, nil
}

// closeLocked closes an active auction whose rows are locked by tx and, when
// settle is set, promotes the winning bid into a sale.
func (s *AuctionService) closeLocked(
	ctx context.Context,
	tx domain.Repos,
	a domain.Auction,
	listing *domain.Listing,
	settle bool,
	fx *effects,
) (Settlement, error) {
	now := s.now()
	if err := tx.Auctions().UpdateStatus(ctx, a.ID, domain.AuctionStatusClosed, now); err != nil {
		return Settlement{}, err
	}
	closed, err := tx.Auctions().GetByID(ctx, a.ID)
	if err != nil {
		return Settlement{}, err
	}
	st := Settlement{Auction: closed}
	owner := resolveOwner(a, listing)

	fx.publish(domain.MarketEvent{
		Type:      domain.EventAuctionClosed,
		ListingID: a.ListingID,
		AuctionID: a.ID,
		Amount:    moneyPtr(closed.CurrentPrice),
		Status:    string(domain.AuctionStatusClosed),
		At:        now,
	})
	fx.touch(a.ListingID)

	if !settle {
		return st, nil
	}

	winner, err := tx.Bids().GetWinning(ctx, a.ID)
	if errors.Is(err, domain.ErrNotFound) {
		fx.notify(owner, domain.EventAuctionClosed,
			fmt.Sprintf("Auction %q closed without bids", a.Title), map[string]any{"auctionId": a.ID})
		return st, nil
	}
	if err != nil {
		return Settlement{}, err
	}
	st.Winner = &winner

	payload := map[string]any{"auctionId": a.ID, "listingId": a.ListingID, "amount": winner.Amount.String()}
	if !a.ReserveMet(winner.Amount) {
		fx.notify(owner, domain.EventAuctionClosed,
			fmt.Sprintf("Auction %q closed below its reserve", a.Title), payload)
		return st, nil
	}

	if listing != nil {
		if listing.IsSold() {
			return st, nil
		}
		sold, err := s.listings.TryFinalizeSale(ctx, tx, listing.ID, winner.BidderID, winner.Amount)
		if err != nil {
			return Settlement{}, err
		}
		st.Listing = &sold
		fx.notify(owner, domain.EventListingSold,
			fmt.Sprintf("%q sold at auction for %s", sold.Title, winner.Amount), payload)
		fx.publish(domain.MarketEvent{
			Type:      domain.EventListingSold,
			ListingID: sold.ID,
			AuctionID: a.ID,
			Amount:    moneyPtr(winner.Amount),
			At:        now,
		})
	}
	fx.notify(winner.BidderID, domain.EventAuctionWon,
		fmt.Sprintf("You won %q for %s", a.Title, winner.Amount), payload)
	return st, nil
}

// SweepExpired closes and settles up to limit active auctions whose end time
// has passed. Failures on one auction are logged and do not stop the sweep.
func (s *AuctionService) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.Auctions().ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("auction_service: list expired: %w", err)
	}

	closed := 0
	for _, a := range expired {
		var fx effects
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
			fx = effects{}
			locked, listing, err := lockAuction(ctx, tx, a)
			if err != nil {
				return err
			}
			if locked.Status != domain.AuctionStatusActive || locked.IsActive(s.now()) {
				return nil
			}
			_, err = s.closeLocked(ctx, tx, locked, listing, true, &fx)
			return err
		})
		if err != nil {
			s.logger.WarnContext(ctx, "auction_service: settle expired auction failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(fx.events) > 0 {
			closed++
		}
		s.flush(ctx, &fx)
	}
	return closed, nil
}
