package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/resale/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// errorMapping pairs a domain outcome with its HTTP status and stable code.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrSelfBid, http.StatusForbidden, "self_bid"},
	{domain.ErrSelfOffer, http.StatusForbidden, "self_offer"},
	{domain.ErrSelfBuyout, http.StatusForbidden, "self_buyout"},
	{domain.ErrAlreadySold, http.StatusConflict, "already_sold"},
	{domain.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
	{domain.ErrNotActive, http.StatusConflict, "not_active"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrBidTooLow, http.StatusUnprocessableEntity, "bid_too_low"},
	{domain.ErrOfferTooLow, http.StatusUnprocessableEntity, "offer_too_low"},
	{domain.ErrNoBuyoutPrice, http.StatusUnprocessableEntity, "no_buyout_price"},
	{domain.ErrBusy, http.StatusServiceUnavailable, "busy"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// writeServiceError maps a service error onto the response. Expected
// outcomes become their status code; anything else is logged and hidden
// behind a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		if m.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		msg := m.err.Error()
		if m.status == http.StatusBadRequest {
			msg = err.Error()
		}
		writeError(w, m.status, m.code, msg)
		return
	}

	logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// caller returns the authenticated principal. claimed is an identity field
// taken from the request body; when set it must name the caller.
func caller(r *http.Request, claimed string) (domain.Principal, error) {
	p := domain.PrincipalFromContext(r.Context())
	if !p.Authenticated() {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	if claimed != "" && claimed != p.UserID {
		return domain.Principal{}, domain.ErrForbidden
	}
	return p, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter using Go 1.22+ routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
