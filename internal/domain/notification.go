package domain

import "time"

// Notification events delivered to users.
const (
	EventBidPlaced     = "auction.bid_placed"
	EventOutbid        = "auction.outbid"
	EventAuctionClosed = "auction.closed"
	EventAuctionWon    = "auction.won"
	EventOfferPlaced   = "offer.placed"
	EventOfferAccepted = "offer.accepted"
	EventOfferRejected = "offer.rejected"
	EventListingSold   = "listing.sold"
	EventPurchased     = "listing.purchased"
)

// Notification is a best-effort message to a single user. It is never part of
// a sale transaction.
type Notification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipientId"`
	Event       string         `json:"event"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
