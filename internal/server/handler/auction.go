package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/service"
)

// AuctionService defines the auction operations the handler requires.
type AuctionService interface {
	CreateAuction(ctx context.Context, actor domain.Principal, in domain.NewAuction) (domain.Auction, error)
	GetAuction(ctx context.Context, id string) (domain.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]domain.AuctionBid, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount domain.Money) (service.BidResult, error)
	CloseAuction(ctx context.Context, auctionID, requesterID string) (domain.Auction, error)
	CloseAndSettle(ctx context.Context, auctionID, requesterID string) (service.Settlement, error)
	CancelAuction(ctx context.Context, auctionID, requesterID string) (domain.Auction, error)
}

// AuctionHandler serves auction endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, logger: logger}
}

// CreateAuction starts a standalone auction for a professional seller.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var in domain.NewAuction
	if err := decodeBody(r, &in); err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	actor, err := caller(r, "")
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	a, err := h.auctions.CreateAuction(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAuction returns an auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.GetAuction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type listBidsResponse struct {
	Bids []domain.AuctionBid `json:"bids"`
}

// ListBids returns the bid history, highest first.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.auctions.ListBids(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.AuctionBid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

type placeBidRequest struct {
	BidderID string        `json:"bidderId"`
	Amount   *domain.Money `json:"amount"`
}

type placeBidResponse struct {
	BidID           string       `json:"bidId"`
	NewCurrentPrice domain.Money `json:"newCurrentPrice"`
}

// PlaceBid raises an auction.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	actor, err := caller(r, req.BidderID)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "amount is required")
		return
	}

	res, err := h.auctions.PlaceBid(r.Context(), pathParam(r, "id"), actor.UserID, *req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, placeBidResponse{BidID: res.Bid.ID, NewCurrentPrice: res.NewCurrentPrice})
}

type closeAuctionRequest struct {
	RequesterID string `json:"requesterId"`
	Settle      bool   `json:"settle"`
}

type closeAuctionResponse struct {
	Auction domain.Auction     `json:"auction"`
	Listing *domain.Listing    `json:"listing,omitempty"`
	Winner  *domain.AuctionBid `json:"winner,omitempty"`
}

// CloseAuction closes an auction. With settle set, the winning bid is
// promoted into a sale when the reserve is met.
// POST /api/auctions/{id}/close
func (h *AuctionHandler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	var req closeAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "close auction", err)
		return
	}
	actor, err := caller(r, req.RequesterID)
	if err != nil {
		writeServiceError(w, r, h.logger, "close auction", err)
		return
	}

	id := pathParam(r, "id")
	if !req.Settle {
		a, err := h.auctions.CloseAuction(r.Context(), id, actor.UserID)
		if err != nil {
			writeServiceError(w, r, h.logger, "close auction", err)
			return
		}
		writeJSON(w, http.StatusOK, closeAuctionResponse{Auction: a})
		return
	}

	st, err := h.auctions.CloseAndSettle(r.Context(), id, actor.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "close auction", err)
		return
	}
	writeJSON(w, http.StatusOK, closeAuctionResponse(st))
}

// CancelAuction cancels an active auction.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	var req closeAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "cancel auction", err)
		return
	}
	actor, err := caller(r, req.RequesterID)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel auction", err)
		return
	}
	a, err := h.auctions.CancelAuction(r.Context(), pathParam(r, "id"), actor.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel auction", err)
		return
	}
	writeJSON(w, http.StatusOK, closeAuctionResponse{Auction: a})
}
