package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/resale/internal/domain"
)

// ListingView is a listing together with its companion auction, if any.
type ListingView struct {
	Listing domain.Listing  `json:"listing"`
	Auction *domain.Auction `json:"auction,omitempty"`
}

// ListingService owns listing lifecycle and the guarded sale transition.
type ListingService struct {
	base
}

// NewListingService creates a ListingService. cache and outbox may be nil.
func NewListingService(
	store domain.Store,
	cache domain.ListingCache,
	outbox Outbox,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{base: newBase(store, cache, outbox, logger)}
}

// TryFinalizeSale moves the listing from available to sold for buyerID at
// price. It must run inside tx, which holds (or here takes) the listing row
// lock. It returns domain.ErrConflict, and writes nothing, when the listing
// is no longer available. It is the only code path that sells a listing.
func (s *ListingService) TryFinalizeSale(
	ctx context.Context,
	tx domain.Repos,
	listingID, buyerID string,
	price domain.Money,
) (domain.Listing, error) {
	l, err := tx.Listings().LockByID(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if buyerID == "" || buyerID == l.OwnerID {
		return domain.Listing{}, domain.ErrForbidden
	}

	sold, err := tx.Listings().MarkSold(ctx, listingID, buyerID, price, s.now())
	if err != nil {
		return domain.Listing{}, err
	}

	if err := tx.Audit().Log(ctx, "sale.finalized", map[string]any{
		"listing_id": sold.ID,
		"seller_id":  sold.OwnerID,
		"buyer_id":   buyerID,
		"price":      price.String(),
	}); err != nil {
		return domain.Listing{}, err
	}
	return sold, nil
}

// CreateListing stores a new listing and, when requested, its companion
// auction in the same unit of work.
func (s *ListingService) CreateListing(ctx context.Context, actor domain.Principal, in domain.NewListing) (ListingView, error) {
	if !actor.Authenticated() {
		return ListingView{}, domain.ErrUnauthenticated
	}
	if err := in.Validate(); err != nil {
		return ListingView{}, err
	}

	now := s.now()
	l := domain.Listing{
		ID:          s.newID(),
		OwnerID:     actor.UserID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		BasePrice:   in.BasePrice,
		BuyoutPrice: in.BuyoutPrice,
		Category:    in.Category,
		Condition:   in.Condition,
		Location:    in.Location,
		State:       domain.SaleStateAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var auction *domain.Auction
	if in.Auction != nil {
		a, err := s.buildAuction(*in.Auction, actor.UserID, l.ID, l.Title, l.Description, in.BasePrice)
		if err != nil {
			return ListingView{}, err
		}
		auction = &a
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.Listings().Create(ctx, l); err != nil {
			return err
		}
		if auction != nil {
			return tx.Auctions().Create(ctx, *auction)
		}
		return nil
	})
	if err != nil {
		return ListingView{}, fmt.Errorf("listing_service: create listing: %w", err)
	}

	s.logger.InfoContext(ctx, "listing_service: listing created",
		slog.String("listing_id", l.ID),
		slog.String("owner_id", l.OwnerID),
		slog.Bool("auction", auction != nil),
	)
	return ListingView{Listing: l, Auction: auction}, nil
}

// buildAuction fills defaults for a new auction: the start price falls back
// to defaultStart and the title to the listing's.
func (s *ListingService) buildAuction(
	in domain.NewAuction,
	ownerID, listingID, title, description string,
	defaultStart domain.Money,
) (domain.Auction, error) {
	if err := in.Validate(); err != nil {
		return domain.Auction{}, err
	}
	now := s.now()
	if in.EndTime != nil && !in.EndTime.After(now) {
		return domain.Auction{}, fmt.Errorf("%w: end time must be in the future", domain.ErrInvalidInput)
	}

	start := defaultStart
	if in.StartPrice != nil {
		start = *in.StartPrice
	}
	if t := strings.TrimSpace(in.Title); t != "" {
		title = t
	}
	if in.Description != "" {
		description = in.Description
	}
	if title == "" {
		return domain.Auction{}, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}

	return domain.Auction{
		ID:           s.newID(),
		ListingID:    listingID,
		OwnerID:      ownerID,
		Title:        title,
		Description:  description,
		StartPrice:   start,
		CurrentPrice: start,
		ReservePrice: in.ReservePrice,
		Status:       domain.AuctionStatusActive,
		StartTime:    now,
		EndTime:      in.EndTime,
	}, nil
}

// GetListing returns a listing, serving from the cache when possible. The
// result is for display only; sale paths always re-read under lock.
func (s *ListingService) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		if l, err := s.cache.Get(ctx, id); err == nil {
			return l, nil
		}
		var err error
		gen, err = s.cache.Generation(ctx, id)
		cacheable = err == nil
	}

	l, err := s.store.Listings().GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get listing %q: %w", id, err)
	}

	if cacheable {
		if err := s.cache.Set(ctx, l, gen); err != nil && !errors.Is(err, domain.ErrConflict) {
			s.logger.WarnContext(ctx, "listing_service: cache set failed",
				slog.String("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return l, nil
}

// GetListingView returns the listing and its companion auction.
func (s *ListingService) GetListingView(ctx context.Context, id string) (ListingView, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil {
		return ListingView{}, err
	}
	a, err := s.store.Auctions().GetByListing(ctx, id)
	switch {
	case err == nil:
		return ListingView{Listing: l, Auction: &a}, nil
	case errors.Is(err, domain.ErrNotFound):
		return ListingView{Listing: l}, nil
	default:
		return ListingView{}, fmt.Errorf("listing_service: get auction for %q: %w", id, err)
	}
}

// DeleteListing removes an unsold listing owned by actor together with its
// offers, bids and auction.
func (s *ListingService) DeleteListing(ctx context.Context, actor domain.Principal, id string) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		l, err := tx.Listings().LockByID(ctx, id)
		if err != nil {
			return err
		}
		if l.OwnerID != actor.UserID {
			return domain.ErrForbidden
		}
		if l.IsSold() {
			return domain.ErrAlreadySold
		}
		return s.cascadeDelete(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("listing_service: delete listing %q: %w", id, err)
	}

	s.flush(ctx, &effects{invalidate: []string{id}})
	s.logger.InfoContext(ctx, "listing_service: listing deleted", slog.String("listing_id", id))
	return nil
}

// PurgeListing removes a listing and all dependent rows regardless of state.
// The archiver calls it after exporting a sale.
func (s *ListingService) PurgeListing(ctx context.Context, id string) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if _, err := tx.Listings().LockByID(ctx, id); err != nil {
			return err
		}
		if err := s.cascadeDelete(ctx, tx, id); err != nil {
			return err
		}
		return tx.Audit().Log(ctx, "listing.purged", map[string]any{"listing_id": id})
	})
	if err != nil {
		return fmt.Errorf("listing_service: purge listing %q: %w", id, err)
	}
	s.flush(ctx, &effects{invalidate: []string{id}})
	return nil
}

// cascadeDelete removes dependents first: offers, bids, auction, listing.
func (s *ListingService) cascadeDelete(ctx context.Context, tx domain.Repos, listingID string) error {
	if err := tx.Offers().DeleteByListing(ctx, listingID); err != nil {
		return err
	}

	a, err := tx.Auctions().GetByListing(ctx, listingID)
	switch {
	case err == nil:
		if _, err := tx.Auctions().LockByID(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.Bids().DeleteByAuction(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.Auctions().Delete(ctx, a.ID); err != nil {
			return err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	return tx.Listings().Delete(ctx, listingID)
}

// SaleHistory gathers everything recorded about a listing's sale.
func (s *ListingService) SaleHistory(ctx context.Context, l domain.Listing) (domain.SaleRecord, error) {
	rec := domain.SaleRecord{Listing: l}

	a, err := s.store.Auctions().GetByListing(ctx, l.ID)
	switch {
	case err == nil:
		rec.Auction = &a
		if rec.Bids, err = s.store.Bids().ListByAuction(ctx, a.ID); err != nil {
			return domain.SaleRecord{}, fmt.Errorf("listing_service: bids for %q: %w", l.ID, err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.SaleRecord{}, fmt.Errorf("listing_service: auction for %q: %w", l.ID, err)
	}

	if rec.Offers, err = s.store.Offers().ListByListing(ctx, l.ID); err != nil {
		return domain.SaleRecord{}, fmt.Errorf("listing_service: offers for %q: %w", l.ID, err)
	}
	return rec, nil
}

// ListSoldBefore pages through sold listings for archival, oldest sale first.
func (s *ListingService) ListSoldBefore(ctx context.Context, before time.Time, offset, limit int) ([]domain.Listing, error) {
	ls, err := s.store.Listings().ListSoldBefore(ctx, before, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list sold: %w", err)
	}
	return ls, nil
}
