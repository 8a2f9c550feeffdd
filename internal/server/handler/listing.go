package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/service"
)

// ListingService defines the listing operations the handler requires.
type ListingService interface {
	CreateListing(ctx context.Context, actor domain.Principal, in domain.NewListing) (service.ListingView, error)
	GetListingView(ctx context.Context, id string) (service.ListingView, error)
	DeleteListing(ctx context.Context, actor domain.Principal, id string) error
}

// BuyoutService defines the buyout operation the handler requires.
type BuyoutService interface {
	Buyout(ctx context.Context, listingID, buyerID string) (service.Purchase, error)
}

// ListingHandler serves listing and buyout endpoints.
type ListingHandler struct {
	listings ListingService
	buyouts  BuyoutService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingService, buyouts BuyoutService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, buyouts: buyouts, logger: logger}
}

// CreateListing creates a listing, optionally with a companion auction.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var in domain.NewListing
	if err := decodeBody(r, &in); err != nil {
		writeServiceError(w, r, h.logger, "create listing", err)
		return
	}
	actor, err := caller(r, "")
	if err != nil {
		writeServiceError(w, r, h.logger, "create listing", err)
		return
	}

	v, err := h.listings.CreateListing(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, h.logger, "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetListing returns a listing and its companion auction.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	v, err := h.listings.GetListingView(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DeleteListing removes an unsold listing.
// DELETE /api/listings/{id}
func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r, "")
	if err != nil {
		writeServiceError(w, r, h.logger, "delete listing", err)
		return
	}
	id := pathParam(r, "id")
	if err := h.listings.DeleteListing(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, h.logger, "delete listing", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "listingId": id})
}

type buyoutRequest struct {
	BuyerID string `json:"buyerId"`
}

type buyoutResponse struct {
	ListingID string       `json:"listingId"`
	BuyerID   string       `json:"buyerId"`
	Amount    domain.Money `json:"amount"`
}

// Buyout purchases a listing at its fixed buyout price.
// POST /api/listings/{id}/buyout
func (h *ListingHandler) Buyout(w http.ResponseWriter, r *http.Request) {
	var req buyoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "buyout", err)
		return
	}
	actor, err := caller(r, req.BuyerID)
	if err != nil {
		writeServiceError(w, r, h.logger, "buyout", err)
		return
	}

	p, err := h.buyouts.Buyout(r.Context(), pathParam(r, "id"), actor.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "buyout", err)
		return
	}
	writeJSON(w, http.StatusOK, buyoutResponse(p))
}
