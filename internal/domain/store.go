package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and optional time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listings and owns the guarded sale transition.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	// LockByID reads the listing and holds an exclusive row lock on it until
	// the enclosing unit of work ends. Outside a unit it behaves like GetByID.
	LockByID(ctx context.Context, id string) (Listing, error)
	// MarkSold flips an available listing to sold. It returns ErrConflict
	// without writing anything when the listing is not available.
	MarkSold(ctx context.Context, id, buyerID string, price Money, at time.Time) (Listing, error)
	// ListSoldBefore pages through listings sold before the cutoff, oldest
	// sale first.
	ListSoldBefore(ctx context.Context, before time.Time, offset, limit int) ([]Listing, error)
	Delete(ctx context.Context, id string) error
}

// AuctionStore persists auctions.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	LockByID(ctx context.Context, id string) (Auction, error)
	// GetByListing returns the auction attached to a listing, or ErrNotFound.
	GetByListing(ctx context.Context, listingID string) (Auction, error)
	UpdateCurrentPrice(ctx context.Context, id string, price Money) error
	UpdateStatus(ctx context.Context, id string, status AuctionStatus, at time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	Delete(ctx context.Context, id string) error
}

// BidStore persists auction bids.
type BidStore interface {
	Insert(ctx context.Context, b AuctionBid) error
	// DemoteWinning clears the winning flag on every bid of the auction.
	DemoteWinning(ctx context.Context, auctionID string) (int64, error)
	GetWinning(ctx context.Context, auctionID string) (AuctionBid, error)
	// ListByAuction returns bids ordered by amount desc, then recency desc.
	ListByAuction(ctx context.Context, auctionID string) ([]AuctionBid, error)
	DeleteByAuction(ctx context.Context, auctionID string) error
}

// OfferStore persists offers and buyout settlement rows.
type OfferStore interface {
	Insert(ctx context.Context, o Offer) error
	GetByID(ctx context.Context, id string) (Offer, error)
	// HighestAmount returns the highest negotiated offer on the listing.
	// The bool is false when the listing has no negotiated offers.
	HighestAmount(ctx context.Context, listingID string) (Money, bool, error)
	// Decide moves a pending offer to status. It returns ErrAlreadyDecided
	// when the offer is no longer pending.
	Decide(ctx context.Context, id string, status OfferStatus, at time.Time) (Offer, error)
	// RejectPending rejects every pending negotiated offer on the listing
	// except exceptID and returns the offers it rejected.
	RejectPending(ctx context.Context, listingID, exceptID string, at time.Time) ([]Offer, error)
	// ListByListing returns offers ordered by amount desc, then recency desc.
	ListByListing(ctx context.Context, listingID string) ([]Offer, error)
	DeleteByListing(ctx context.Context, listingID string) error
}

// NotificationStore persists delivered notifications.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) error
	ListByRecipient(ctx context.Context, recipientID string, opts ListOpts) ([]Notification, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Repos groups the stores reachable inside or outside a unit of work.
type Repos interface {
	Listings() ListingStore
	Auctions() AuctionStore
	Bids() BidStore
	Offers() OfferStore
	Notifications() NotificationStore
	Audit() AuditStore
}

// Store is the injected storage handle. WithinTx runs fn as one atomic unit:
// every write made through tx commits together or not at all, and row locks
// taken through tx are held until the unit ends.
type Store interface {
	Repos
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}
