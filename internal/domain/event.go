package domain

import "time"

// MarketEvent is a public, post-commit event describing a state change on a
// listing or auction. Events are broadcast to live subscribers and appended to
// the sales stream; they carry no private negotiation details.
type MarketEvent struct {
	Type      string    `json:"type"`
	ListingID string    `json:"listingId,omitempty"`
	AuctionID string    `json:"auctionId,omitempty"`
	Amount    *Money    `json:"amount,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// AuctionChannel is the pub/sub channel for events on one auction.
func AuctionChannel(auctionID string) string { return "ch:auction:" + auctionID }

// ListingChannel is the pub/sub channel for events on one listing.
func ListingChannel(listingID string) string { return "ch:listing:" + listingID }

// Channels returns every pub/sub channel the event is published on: the
// auction channel and the listing channel, for whichever ids are set.
func (e MarketEvent) Channels() []string {
	chans := make([]string, 0, 2)
	if e.AuctionID != "" {
		chans = append(chans, AuctionChannel(e.AuctionID))
	}
	if e.ListingID != "" {
		chans = append(chans, ListingChannel(e.ListingID))
	}
	return chans
}

// SalesStream is the durable stream that receives every finalized sale.
const SalesStream = "stream:sales"
