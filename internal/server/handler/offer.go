package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/service"
)

// OfferService defines the offer operations the handler requires.
type OfferService interface {
	PlaceOffer(ctx context.Context, listingID, offerorID string, amount domain.Money, conversationID string) (domain.Offer, error)
	AcceptOffer(ctx context.Context, offerID, requesterID string) (service.Acceptance, error)
	RejectOffer(ctx context.Context, offerID, requesterID string) (domain.Offer, error)
	ListOffers(ctx context.Context, listingID, requesterID string) ([]domain.Offer, error)
}

// OfferHandler serves negotiated-offer endpoints.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: offers, logger: logger}
}

type placeOfferRequest struct {
	OfferorID      string        `json:"offerorId"`
	Amount         *domain.Money `json:"amount"`
	ConversationID string        `json:"conversationId"`
}

type offerIDResponse struct {
	OfferID string             `json:"offerId"`
	Status  domain.OfferStatus `json:"status"`
}

// PlaceOffer records a pending offer on a listing.
// POST /api/listings/{id}/offers
func (h *OfferHandler) PlaceOffer(w http.ResponseWriter, r *http.Request) {
	var req placeOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "place offer", err)
		return
	}
	actor, err := caller(r, req.OfferorID)
	if err != nil {
		writeServiceError(w, r, h.logger, "place offer", err)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "amount is required")
		return
	}

	o, err := h.offers.PlaceOffer(r.Context(), pathParam(r, "id"), actor.UserID, *req.Amount, req.ConversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "place offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offerIDResponse{OfferID: o.ID, Status: o.Status})
}

type decideOfferRequest struct {
	RequesterID string `json:"requesterId"`
}

// AcceptOffer sells the listing to the offeror.
// POST /api/offers/{id}/accept
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req decideOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "accept offer", err)
		return
	}
	actor, err := caller(r, req.RequesterID)
	if err != nil {
		writeServiceError(w, r, h.logger, "accept offer", err)
		return
	}

	acc, err := h.offers.AcceptOffer(r.Context(), pathParam(r, "id"), actor.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "accept offer", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// RejectOffer declines a pending offer.
// POST /api/offers/{id}/reject
func (h *OfferHandler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	var req decideOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "reject offer", err)
		return
	}
	actor, err := caller(r, req.RequesterID)
	if err != nil {
		writeServiceError(w, r, h.logger, "reject offer", err)
		return
	}

	o, err := h.offers.RejectOffer(r.Context(), pathParam(r, "id"), actor.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "reject offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offerIDResponse{OfferID: o.ID, Status: o.Status})
}

type listOffersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

// ListOffers returns the listing's offers, highest first, to its owner.
// GET /api/listings/{id}/offers
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r, r.URL.Query().Get("requesterId"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list offers", err)
		return
	}
	offers, err := h.offers.ListOffers(r.Context(), pathParam(r, "id"), actor.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list offers", err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, listOffersResponse{Offers: offers})
}
