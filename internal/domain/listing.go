package domain

import (
	"fmt"
	"strings"
	"time"
)

// SaleState is the listing sale-state machine: available -> sold.
type SaleState string

const (
	SaleStateAvailable SaleState = "available"
	SaleStateSold      SaleState = "sold"
)

// Listing is a single item offered for sale by one user.
type Listing struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	BasePrice   Money      `json:"basePrice"`
	BuyoutPrice *Money     `json:"buyoutPrice,omitempty"`
	Category    string     `json:"category,omitempty"`
	Condition   string     `json:"condition,omitempty"`
	Location    string     `json:"location,omitempty"`
	State       SaleState  `json:"state"`
	BuyerID     *string    `json:"buyerId,omitempty"`
	SalePrice   *Money     `json:"salePrice,omitempty"`
	SoldAt      *time.Time `json:"soldAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsSold reports whether the listing has been finalized.
func (l Listing) IsSold() bool {
	return l.State == SaleStateSold
}

// HasBuyout reports whether a fixed buyout price is configured.
func (l Listing) HasBuyout() bool {
	return l.BuyoutPrice != nil
}

// NewListing carries the fields a seller submits when listing an item.
type NewListing struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	BasePrice   Money       `json:"basePrice"`
	BuyoutPrice *Money      `json:"buyoutPrice,omitempty"`
	Category    string      `json:"category"`
	Condition   string      `json:"condition"`
	Location    string      `json:"location"`
	Auction     *NewAuction `json:"auction,omitempty"`
}

// Validate checks the submission before anything is written.
func (n NewListing) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if n.BasePrice < 0 {
		return fmt.Errorf("%w: base price must not be negative", ErrInvalidInput)
	}
	if n.BuyoutPrice != nil && *n.BuyoutPrice <= 0 {
		return fmt.Errorf("%w: buyout price must be positive", ErrInvalidInput)
	}
	if n.Auction != nil {
		if err := n.Auction.Validate(); err != nil {
			return err
		}
	}
	return nil
}
