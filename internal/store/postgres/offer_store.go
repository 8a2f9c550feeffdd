package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/resale/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	q querier
}

const offerSelectCols = `id, listing_id, offeror_id, seller_id, amount, status, source,
	conversation_id, created_at, decided_at`

// Insert records a new offer or buyout settlement row.
func (s *OfferStore) Insert(ctx context.Context, o domain.Offer) error {
	const query = `
		INSERT INTO offers (
			id, listing_id, offeror_id, seller_id, amount, status, source,
			conversation_id, created_at, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.q.Exec(ctx, query,
		o.ID, o.ListingID, o.BidderID, o.SellerID, int64(o.Amount),
		string(o.Status), string(o.Source), o.ConversationID, o.CreatedAt, o.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert offer %s: %w", o.ID, mapPgError(err))
	}
	return nil
}

// GetByID retrieves an offer by its ID.
func (s *OfferStore) GetByID(ctx context.Context, id string) (domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE id = $1`
	o, err := scanOffer(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %s: %w", id, err)
	}
	return o, nil
}

// HighestAmount returns the largest negotiated offer on the listing,
// regardless of its status.
func (s *OfferStore) HighestAmount(ctx context.Context, listingID string) (domain.Money, bool, error) {
	var highest *int64
	err := s.q.QueryRow(ctx,
		`SELECT MAX(amount) FROM offers WHERE listing_id = $1 AND source = 'negotiated'`, listingID,
	).Scan(&highest)
	if err != nil {
		return 0, false, fmt.Errorf("postgres: highest offer for %s: %w", listingID, mapPgError(err))
	}
	if highest == nil {
		return 0, false, nil
	}
	return domain.Money(*highest), true, nil
}

// Decide moves a pending offer to status.
func (s *OfferStore) Decide(ctx context.Context, id string, status domain.OfferStatus, at time.Time) (domain.Offer, error) {
	query := `
		UPDATE offers SET status = $2, decided_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + offerSelectCols

	o, err := scanOffer(s.q.QueryRow(ctx, query, id, string(status), at))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Offer{}, fmt.Errorf("postgres: decide offer %s: %w", id, mapPgError(err))
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return domain.Offer{}, err
	}
	return domain.Offer{}, domain.ErrAlreadyDecided
}

// RejectPending rejects every other pending negotiated offer on the listing.
func (s *OfferStore) RejectPending(ctx context.Context, listingID, exceptID string, at time.Time) ([]domain.Offer, error) {
	query := `
		UPDATE offers SET status = 'rejected', decided_at = $3
		WHERE listing_id = $1 AND id <> $2 AND status = 'pending' AND source = 'negotiated'
		RETURNING ` + offerSelectCols

	rows, err := s.q.Query(ctx, query, listingID, exceptID, at)
	if err != nil {
		return nil, fmt.Errorf("postgres: reject pending offers for %s: %w", listingID, mapPgError(err))
	}
	return collectOffers(rows)
}

// ListByListing returns every offer on the listing, highest then newest first.
func (s *OfferStore) ListByListing(ctx context.Context, listingID string) ([]domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + `
		FROM offers
		WHERE listing_id = $1
		ORDER BY amount DESC, created_at DESC, id DESC`

	rows, err := s.q.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers for %s: %w", listingID, err)
	}
	return collectOffers(rows)
}

// DeleteByListing removes every offer on the listing.
func (s *OfferStore) DeleteByListing(ctx context.Context, listingID string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM offers WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("postgres: delete offers for %s: %w", listingID, mapPgError(err))
	}
	return nil
}

func collectOffers(rows pgx.Rows) ([]domain.Offer, error) {
	defer rows.Close()
	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: offers rows: %w", mapPgError(err))
	}
	return out, nil
}

func scanOffer(row rowScanner) (domain.Offer, error) {
	var (
		o              domain.Offer
		amount         int64
		status, source string
	)
	err := row.Scan(
		&o.ID, &o.ListingID, &o.BidderID, &o.SellerID, &amount, &status, &source,
		&o.ConversationID, &o.CreatedAt, &o.DecidedAt,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	o.Amount = domain.Money(amount)
	o.Status = domain.OfferStatus(status)
	o.Source = domain.OfferSource(source)
	return o, nil
}
