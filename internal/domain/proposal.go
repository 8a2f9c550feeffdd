package domain

import (
	"encoding/json"
	"time"
)

// ProposalKind tags the variant of a Proposal.
type ProposalKind string

const (
	ProposalKindAuctionBid ProposalKind = "auction_bid"
	ProposalKindOffer      ProposalKind = "offer"
)

// Proposal is a monetary proposal to buy: either an AuctionBid or an Offer.
// The set of implementations is closed to this package.
type Proposal interface {
	Base() ProposalBase
	Kind() ProposalKind
	isProposal()
}

// ProposalBase holds the fields shared by every proposal variant.
type ProposalBase struct {
	ID        string    `json:"id"`
	BidderID  string    `json:"bidderId"`
	SellerID  string    `json:"sellerId"`
	Amount    Money     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuctionBid is a raise on an auction. Exactly one bid per auction is
// flagged Winning at any time once bidding has started.
type AuctionBid struct {
	ProposalBase
	AuctionID string `json:"auctionId"`
	Winning   bool   `json:"winning"`
}

func (b AuctionBid) Base() ProposalBase { return b.ProposalBase }
func (b AuctionBid) Kind() ProposalKind { return ProposalKindAuctionBid }
func (AuctionBid) isProposal()          {}

// MarshalJSON adds the variant tag.
func (b AuctionBid) MarshalJSON() ([]byte, error) {
	type plain AuctionBid
	return json.Marshal(struct {
		Kind ProposalKind `json:"kind"`
		plain
	}{b.Kind(), plain(b)})
}

// OfferStatus is the offer state machine: pending -> accepted | rejected.
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
)

// OfferSource distinguishes negotiated offers from buyout settlement rows.
type OfferSource string

const (
	OfferSourceNegotiated OfferSource = "negotiated"
	// OfferSourceBuyout rows record an instant purchase for history only and
	// never take part in pending-offer arbitration.
	OfferSourceBuyout OfferSource = "buyout"
)

// Offer is a negotiated proposal against a listing outside any auction.
// Only Status (and DecidedAt) ever change after creation.
type Offer struct {
	ProposalBase
	ListingID      string      `json:"listingId"`
	Status         OfferStatus `json:"status"`
	Source         OfferSource `json:"source"`
	ConversationID string      `json:"conversationId,omitempty"`
	DecidedAt      *time.Time  `json:"decidedAt,omitempty"`
}

func (o Offer) Base() ProposalBase { return o.ProposalBase }
func (o Offer) Kind() ProposalKind { return ProposalKindOffer }
func (Offer) isProposal()          {}

// IsPending reports whether the owner can still accept or reject the offer.
func (o Offer) IsPending() bool {
	return o.Status == OfferStatusPending
}

// MarshalJSON adds the variant tag.
func (o Offer) MarshalJSON() ([]byte, error) {
	type plain Offer
	return json.Marshal(struct {
		Kind ProposalKind `json:"kind"`
		plain
	}{o.Kind(), plain(o)})
}
