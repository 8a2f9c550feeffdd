package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/resale/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	q querier
}

const auctionSelectCols = `id, listing_id, owner_id, title, description, start_price,
	current_price, reserve_price, status, start_time, end_time, closed_at`

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, listing_id, owner_id, title, description, start_price,
			current_price, reserve_price, status, start_time, end_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.q.Exec(ctx, query,
		a.ID, nullString(a.ListingID), a.OwnerID, a.Title, a.Description,
		int64(a.StartPrice), int64(a.CurrentPrice), moneyArg(a.ReservePrice),
		string(a.Status), a.StartTime, a.EndTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, mapPgError(err))
	}
	return nil
}

// GetByID retrieves an auction by its ID.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	return s.getOne(ctx, "get auction "+id, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
}

// LockByID reads the auction with SELECT ... FOR UPDATE.
func (s *AuctionStore) LockByID(ctx context.Context, id string) (domain.Auction, error) {
	return s.getOne(ctx, "lock auction "+id, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
}

// GetByListing returns the auction attached to the listing.
func (s *AuctionStore) GetByListing(ctx context.Context, listingID string) (domain.Auction, error) {
	return s.getOne(ctx, "get auction for listing "+listingID,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE listing_id = $1`, listingID)
}

func (s *AuctionStore) getOne(ctx context.Context, op, query string, arg string) (domain.Auction, error) {
	a, err := scanAuction(s.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: %s: %w", op, mapPgError(err))
	}
	return a, nil
}

// UpdateCurrentPrice sets the auction's current price.
func (s *AuctionStore) UpdateCurrentPrice(ctx context.Context, id string, price domain.Money) error {
	tag, err := s.q.Exec(ctx, `UPDATE auctions SET current_price = $2 WHERE id = $1`, id, int64(price))
	if err != nil {
		return fmt.Errorf("postgres: update auction price %s: %w", id, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves the auction to a terminal status, stamps closed_at and
// pulls a later (or missing) end_time back to at.
func (s *AuctionStore) UpdateStatus(ctx context.Context, id string, status domain.AuctionStatus, at time.Time) error {
	const query = `
		UPDATE auctions
		SET status = $2,
		    closed_at = $3,
		    end_time = CASE WHEN end_time IS NULL OR end_time > $3 THEN $3 ELSE end_time END
		WHERE id = $1`

	if status == domain.AuctionStatusActive {
		return fmt.Errorf("postgres: update auction status %s: %w: cannot reopen", id, domain.ErrInvalidInput)
	}
	tag, err := s.q.Exec(ctx, query, id, string(status), at)
	if err != nil {
		return fmt.Errorf("postgres: update auction status %s: %w", id, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListExpired returns active auctions whose end time is at or before now.
func (s *AuctionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + `
		FROM auctions
		WHERE status = 'active' AND end_time IS NOT NULL AND end_time <= $1
		ORDER BY end_time ASC
		LIMIT $2`

	rows, err := s.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list expired auctions rows: %w", err)
	}
	return out, nil
}

// Delete removes an auction row.
func (s *AuctionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM auctions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete auction %s: %w", id, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAuction(row rowScanner) (domain.Auction, error) {
	var (
		a                  domain.Auction
		listingID          *string
		startPrice, curPrc int64
		reserve            *int64
		status             string
	)
	err := row.Scan(
		&a.ID, &listingID, &a.OwnerID, &a.Title, &a.Description, &startPrice,
		&curPrc, &reserve, &status, &a.StartTime, &a.EndTime, &a.ClosedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	if listingID != nil {
		a.ListingID = *listingID
	}
	a.StartPrice = domain.Money(startPrice)
	a.CurrentPrice = domain.Money(curPrc)
	a.ReservePrice = moneyPtr(reserve)
	a.Status = domain.AuctionStatus(status)
	return a, nil
}
