package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/resale/internal/domain"
)

type repos struct {
	listings      listingRepo
	auctions      auctionRepo
	bids          bidRepo
	offers        offerRepo
	notifications notificationRepo
	audit         auditRepo
}

func newRepos(b backend) repos {
	return repos{
		listings:      listingRepo{b},
		auctions:      auctionRepo{b},
		bids:          bidRepo{b},
		offers:        offerRepo{b},
		notifications: notificationRepo{b},
		audit:         auditRepo{b},
	}
}

func (r repos) Listings() domain.ListingStore           { return r.listings }
func (r repos) Auctions() domain.AuctionStore           { return r.auctions }
func (r repos) Bids() domain.BidStore                   { return r.bids }
func (r repos) Offers() domain.OfferStore               { return r.offers }
func (r repos) Notifications() domain.NotificationStore { return r.notifications }
func (r repos) Audit() domain.AuditStore                { return r.audit }

// ── Listings ──

type listingRepo struct{ b backend }

func (r listingRepo) Create(_ context.Context, l domain.Listing) error {
	return r.b.write(func(st *state) error {
		if _, ok := st.listings[l.ID]; ok {
			return fmt.Errorf("memory: create listing %s: %w", l.ID, domain.ErrConflict)
		}
		st.listings[l.ID] = l
		return nil
	})
}

func (r listingRepo) GetByID(_ context.Context, id string) (domain.Listing, error) {
	var out domain.Listing
	err := r.b.read(func(st *state) error {
		l, ok := st.listings[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = l
		return nil
	})
	return out, err
}

func (r listingRepo) LockByID(ctx context.Context, id string) (domain.Listing, error) {
	if err := r.b.lockRow(ctx, "listing:"+id); err != nil {
		return domain.Listing{}, err
	}
	return r.GetByID(ctx, id)
}

func (r listingRepo) MarkSold(_ context.Context, id, buyerID string, price domain.Money, at time.Time) (domain.Listing, error) {
	var out domain.Listing
	err := r.b.write(func(st *state) error {
		l, ok := st.listings[id]
		if !ok {
			return domain.ErrNotFound
		}
		if l.State != domain.SaleStateAvailable {
			return domain.ErrConflict
		}
		buyer, salePrice, soldAt := buyerID, price, at
		l.State = domain.SaleStateSold
		l.BuyerID = &buyer
		l.SalePrice = &salePrice
		l.SoldAt = &soldAt
		l.UpdatedAt = at
		st.listings[id] = l
		out = l
		return nil
	})
	return out, err
}

func (r listingRepo) ListSoldBefore(_ context.Context, before time.Time, offset, limit int) ([]domain.Listing, error) {
	var out []domain.Listing
	err := r.b.read(func(st *state) error {
		for _, l := range st.listings {
			if l.IsSold() && l.SoldAt != nil && l.SoldAt.Before(before) {
				out = append(out, l)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Listing) int {
		return cmp.Or(a.SoldAt.Compare(*b.SoldAt), cmp.Compare(a.ID, b.ID))
	})
	return page(out, domain.ListOpts{Offset: offset, Limit: limit}), err
}

func (r listingRepo) Delete(_ context.Context, id string) error {
	return r.b.write(func(st *state) error {
		if _, ok := st.listings[id]; !ok {
			return domain.ErrNotFound
		}
		delete(st.listings, id)
		return nil
	})
}

// ── Auctions ──

type auctionRepo struct{ b backend }

func (r auctionRepo) Create(_ context.Context, a domain.Auction) error {
	return r.b.write(func(st *state) error {
		if _, ok := st.auctions[a.ID]; ok {
			return fmt.Errorf("memory: create auction %s: %w", a.ID, domain.ErrConflict)
		}
		if a.ListingID != "" {
			for _, other := range st.auctions {
				if other.ListingID == a.ListingID {
					return fmt.Errorf("memory: listing %s already has an auction: %w", a.ListingID, domain.ErrConflict)
				}
			}
		}
		st.auctions[a.ID] = a
		return nil
	})
}

func (r auctionRepo) GetByID(_ context.Context, id string) (domain.Auction, error) {
	var out domain.Auction
	err := r.b.read(func(st *state) error {
		a, ok := st.auctions[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = a
		return nil
	})
	return out, err
}

func (r auctionRepo) LockByID(ctx context.Context, id string) (domain.Auction, error) {
	if err := r.b.lockRow(ctx, "auction:"+id); err != nil {
		return domain.Auction{}, err
	}
	return r.GetByID(ctx, id)
}

func (r auctionRepo) GetByListing(_ context.Context, listingID string) (domain.Auction, error) {
	var out domain.Auction
	err := r.b.read(func(st *state) error {
		for _, a := range st.auctions {
			if a.ListingID != "" && a.ListingID == listingID {
				out = a
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r auctionRepo) UpdateCurrentPrice(_ context.Context, id string, price domain.Money) error {
	return r.b.write(func(st *state) error {
		a, ok := st.auctions[id]
		if !ok {
			return domain.ErrNotFound
		}
		a.CurrentPrice = price
		st.auctions[id] = a
		return nil
	})
}

func (r auctionRepo) UpdateStatus(_ context.Context, id string, status domain.AuctionStatus, at time.Time) error {
	if status == domain.AuctionStatusActive {
		return fmt.Errorf("memory: update auction status %s: %w: cannot reopen", id, domain.ErrInvalidInput)
	}
	return r.b.write(func(st *state) error {
		a, ok := st.auctions[id]
		if !ok {
			return domain.ErrNotFound
		}
		closedAt := at
		a.Status = status
		a.ClosedAt = &closedAt
		if a.EndTime == nil || a.EndTime.After(at) {
			end := at
			a.EndTime = &end
		}
		st.auctions[id] = a
		return nil
	})
}

func (r auctionRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	var out []domain.Auction
	err := r.b.read(func(st *state) error {
		for _, a := range st.auctions {
			if a.Status == domain.AuctionStatusActive && a.EndTime != nil && !a.EndTime.After(now) {
				out = append(out, a)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Auction) int {
		return cmp.Or(a.EndTime.Compare(*b.EndTime), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r auctionRepo) Delete(_ context.Context, id string) error {
	return r.b.write(func(st *state) error {
		if _, ok := st.auctions[id]; !ok {
			return domain.ErrNotFound
		}
		delete(st.auctions, id)
		return nil
	})
}

// ── Bids ──

type bidRepo struct{ b backend }

func (r bidRepo) Insert(_ context.Context, b domain.AuctionBid) error {
	return r.b.write(func(st *state) error {
		if _, ok := st.bids[b.ID]; ok {
			return fmt.Errorf("memory: insert bid %s: %w", b.ID, domain.ErrConflict)
		}
		if b.Winning {
			for _, other := range st.bids {
				if other.AuctionID == b.AuctionID && other.Winning {
					return fmt.Errorf("memory: auction %s already has a winning bid: %w", b.AuctionID, domain.ErrConflict)
				}
			}
		}
		st.bids[b.ID] = b
		return nil
	})
}

func (r bidRepo) DemoteWinning(_ context.Context, auctionID string) (int64, error) {
	var n int64
	err := r.b.write(func(st *state) error {
		n = 0
		for id, b := range st.bids {
			if b.AuctionID == auctionID && b.Winning {
				b.Winning = false
				st.bids[id] = b
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r bidRepo) GetWinning(_ context.Context, auctionID string) (domain.AuctionBid, error) {
	var out domain.AuctionBid
	err := r.b.read(func(st *state) error {
		for _, b := range st.bids {
			if b.AuctionID == auctionID && b.Winning {
				out = b
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r bidRepo) ListByAuction(_ context.Context, auctionID string) ([]domain.AuctionBid, error) {
	var out []domain.AuctionBid
	err := r.b.read(func(st *state) error {
		for _, b := range st.bids {
			if b.AuctionID == auctionID {
				out = append(out, b)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.AuctionBid) int {
		return compareProposals(a.ProposalBase, b.ProposalBase)
	})
	return out, err
}

func (r bidRepo) DeleteByAuction(_ context.Context, auctionID string) error {
	return r.b.write(func(st *state) error {
		for id, b := range st.bids {
			if b.AuctionID == auctionID {
				delete(st.bids, id)
			}
		}
		return nil
	})
}

// ── Offers ──

type offerRepo struct{ b backend }

func (r offerRepo) Insert(_ context.Context, o domain.Offer) error {
	return r.b.write(func(st *state) error {
		if _, ok := st.offers[o.ID]; ok {
			return fmt.Errorf("memory: insert offer %s: %w", o.ID, domain.ErrConflict)
		}
		if o.Status == domain.OfferStatusAccepted {
			for _, other := range st.offers {
				if other.ListingID == o.ListingID && other.Status == domain.OfferStatusAccepted {
					return fmt.Errorf("memory: listing %s already has an accepted offer: %w", o.ListingID, domain.ErrConflict)
				}
			}
		}
		st.offers[o.ID] = o
		return nil
	})
}

func (r offerRepo) GetByID(_ context.Context, id string) (domain.Offer, error) {
	var out domain.Offer
	err := r.b.read(func(st *state) error {
		o, ok := st.offers[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = o
		return nil
	})
	return out, err
}

func (r offerRepo) HighestAmount(_ context.Context, listingID string) (domain.Money, bool, error) {
	var (
		highest domain.Money
		found   bool
	)
	err := r.b.read(func(st *state) error {
		for _, o := range st.offers {
			if o.ListingID != listingID || o.Source != domain.OfferSourceNegotiated {
				continue
			}
			if !found || o.Amount > highest {
				highest, found = o.Amount, true
			}
		}
		return nil
	})
	return highest, found, err
}

func (r offerRepo) Decide(_ context.Context, id string, status domain.OfferStatus, at time.Time) (domain.Offer, error) {
	var out domain.Offer
	err := r.b.write(func(st *state) error {
		o, ok := st.offers[id]
		if !ok {
			return domain.ErrNotFound
		}
		if !o.IsPending() {
			return domain.ErrAlreadyDecided
		}
		if status == domain.OfferStatusAccepted {
			for _, other := range st.offers {
				if other.ListingID == o.ListingID && other.Status == domain.OfferStatusAccepted {
					return fmt.Errorf("memory: listing %s already has an accepted offer: %w", o.ListingID, domain.ErrConflict)
				}
			}
		}
		decided := at
		o.Status = status
		o.DecidedAt = &decided
		st.offers[id] = o
		out = o
		return nil
	})
	return out, err
}

func (r offerRepo) RejectPending(_ context.Context, listingID, exceptID string, at time.Time) ([]domain.Offer, error) {
	var (
		out      []domain.Offer
		recorded bool
	)
	err := r.b.write(func(st *state) error {
		var rejected []domain.Offer
		for id, o := range st.offers {
			if o.ListingID != listingID || id == exceptID || !o.IsPending() || o.Source != domain.OfferSourceNegotiated {
				continue
			}
			decided := at
			o.Status = domain.OfferStatusRejected
			o.DecidedAt = &decided
			st.offers[id] = o
			rejected = append(rejected, o)
		}
		// Replays at commit must not disturb the slice already returned.
		if !recorded {
			out, recorded = rejected, true
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Offer) int {
		return compareProposals(a.ProposalBase, b.ProposalBase)
	})
	return out, err
}

func (r offerRepo) ListByListing(_ context.Context, listingID string) ([]domain.Offer, error) {
	var out []domain.Offer
	err := r.b.read(func(st *state) error {
		for _, o := range st.offers {
			if o.ListingID == listingID {
				out = append(out, o)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Offer) int {
		return compareProposals(a.ProposalBase, b.ProposalBase)
	})
	return out, err
}

func (r offerRepo) DeleteByListing(_ context.Context, listingID string) error {
	return r.b.write(func(st *state) error {
		for id, o := range st.offers {
			if o.ListingID == listingID {
				delete(st.offers, id)
			}
		}
		return nil
	})
}

// compareProposals orders by amount desc, then newest first, then ID desc.
func compareProposals(a, b domain.ProposalBase) int {
	return cmp.Or(
		cmp.Compare(b.Amount, a.Amount),
		b.CreatedAt.Compare(a.CreatedAt),
		cmp.Compare(b.ID, a.ID),
	)
}

// ── Notifications ──

type notificationRepo struct{ b backend }

func (r notificationRepo) Create(_ context.Context, n domain.Notification) error {
	return r.b.write(func(st *state) error {
		st.notifications = append(st.notifications, n)
		return nil
	})
}

func (r notificationRepo) ListByRecipient(_ context.Context, recipientID string, opts domain.ListOpts) ([]domain.Notification, error) {
	var out []domain.Notification
	err := r.b.read(func(st *state) error {
		for _, n := range st.notifications {
			if n.RecipientID == recipientID && inWindow(n.CreatedAt, opts) {
				out = append(out, n)
			}
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b domain.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, opts), err
}

// ── Audit ──

type auditRepo struct{ b backend }

func (r auditRepo) Log(_ context.Context, event string, detail map[string]any) error {
	now := time.Now().UTC()
	return r.b.write(func(st *state) error {
		st.auditSeq++
		st.audit = append(st.audit, domain.AuditEntry{
			ID:        st.auditSeq,
			Event:     event,
			Detail:    detail,
			CreatedAt: now,
		})
		return nil
	})
}

func (r auditRepo) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := r.b.read(func(st *state) error {
		for _, e := range st.audit {
			if inWindow(e.CreatedAt, opts) {
				out = append(out, e)
			}
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b domain.AuditEntry) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return page(out, opts), err
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
