package domain

import (
	"fmt"
	"time"
)

// AuctionStatus is the auction state machine: active -> closed | cancelled.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction is an ascending-price sale process, either attached 1:1 to a
// listing or standalone (ListingID empty) for professional sellers.
type Auction struct {
	ID           string        `json:"id"`
	ListingID    string        `json:"listingId,omitempty"`
	OwnerID      string        `json:"ownerId"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	StartPrice   Money         `json:"startPrice"`
	CurrentPrice Money         `json:"currentPrice"`
	ReservePrice *Money        `json:"reservePrice,omitempty"`
	Status       AuctionStatus `json:"status"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty"`
}

// IsActive reports whether bids may still be placed at the given instant.
func (a Auction) IsActive(now time.Time) bool {
	if a.Status != AuctionStatusActive {
		return false
	}
	return a.EndTime == nil || now.Before(*a.EndTime)
}

// Standalone reports whether the auction has no companion listing.
func (a Auction) Standalone() bool {
	return a.ListingID == ""
}

// ReserveMet reports whether amount satisfies the reserve price, if any.
func (a Auction) ReserveMet(amount Money) bool {
	return a.ReservePrice == nil || amount >= *a.ReservePrice
}

// NewAuction carries the auction parameters for a new listing or a
// standalone auction.
type NewAuction struct {
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	StartPrice   *Money     `json:"startPrice,omitempty"`
	ReservePrice *Money     `json:"reservePrice,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}

// Validate checks auction parameters.
func (n NewAuction) Validate() error {
	if n.StartPrice != nil && *n.StartPrice < 0 {
		return fmt.Errorf("%w: start price must not be negative", ErrInvalidInput)
	}
	if n.ReservePrice != nil && *n.ReservePrice <= 0 {
		return fmt.Errorf("%w: reserve price must be positive", ErrInvalidInput)
	}
	return nil
}
