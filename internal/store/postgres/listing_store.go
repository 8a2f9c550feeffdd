package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/resale/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	q querier
}

const listingSelectCols = `id, owner_id, title, description, base_price, buyout_price,
	category, item_condition, location, state, buyer_id, sale_price, sold_at,
	created_at, updated_at`

// Create inserts a new listing.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			id, owner_id, title, description, base_price, buyout_price,
			category, item_condition, location, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.q.Exec(ctx, query,
		l.ID, l.OwnerID, l.Title, l.Description,
		int64(l.BasePrice), moneyArg(l.BuyoutPrice),
		l.Category, l.Condition, l.Location, string(l.State),
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create listing %s: %w", l.ID, mapPgError(err))
	}
	return nil
}

// GetByID retrieves a listing by its ID.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings WHERE id = $1`
	l, err := scanListing(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// LockByID reads the listing with SELECT ... FOR UPDATE.
func (s *ListingStore) LockByID(ctx context.Context, id string) (domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings WHERE id = $1 FOR UPDATE`
	l, err := scanListing(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: lock listing %s: %w", id, mapPgError(err))
	}
	return l, nil
}

// MarkSold is the guarded available -> sold update.
func (s *ListingStore) MarkSold(ctx context.Context, id, buyerID string, price domain.Money, at time.Time) (domain.Listing, error) {
	query := `
		UPDATE listings
		SET state = 'sold', buyer_id = $2, sale_price = $3, sold_at = $4, updated_at = $4
		WHERE id = $1 AND state = 'available'
		RETURNING ` + listingSelectCols

	l, err := scanListing(s.q.QueryRow(ctx, query, id, buyerID, int64(price), at))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("postgres: mark listing %s sold: %w", id, mapPgError(err))
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: check listing %s: %w", id, mapPgError(err))
	}
	if !exists {
		return domain.Listing{}, domain.ErrNotFound
	}
	return domain.Listing{}, domain.ErrConflict
}

// ListSoldBefore returns sold listings whose sale happened before the cutoff,
// oldest first.
func (s *ListingStore) ListSoldBefore(ctx context.Context, before time.Time, offset, limit int) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + `
		FROM listings
		WHERE state = 'sold' AND sold_at < $1
		ORDER BY sold_at ASC, id ASC
		OFFSET $2 LIMIT $3`

	rows, err := s.q.Query(ctx, query, before, max(offset, 0), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sold listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sold listings rows: %w", err)
	}
	return out, nil
}

// Delete removes a listing row. Dependent rows must be removed first.
func (s *ListingStore) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", id, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l                    domain.Listing
		basePrice            int64
		buyoutPrice, salePrc *int64
		state                string
	)
	err := row.Scan(
		&l.ID, &l.OwnerID, &l.Title, &l.Description, &basePrice, &buyoutPrice,
		&l.Category, &l.Condition, &l.Location, &state, &l.BuyerID, &salePrc, &l.SoldAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.BasePrice = domain.Money(basePrice)
	l.BuyoutPrice = moneyPtr(buyoutPrice)
	l.SalePrice = moneyPtr(salePrc)
	l.State = domain.SaleState(state)
	return l, nil
}
