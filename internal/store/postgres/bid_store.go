package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/resale/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	q querier
}

const bidSelectCols = `id, auction_id, bidder_id, seller_id, amount, winning, created_at`

// Insert records a new bid.
func (s *BidStore) Insert(ctx context.Context, b domain.AuctionBid) error {
	const query = `
		INSERT INTO auction_bids (id, auction_id, bidder_id, seller_id, amount, winning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.q.Exec(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.SellerID, int64(b.Amount), b.Winning, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, mapPgError(err))
	}
	return nil
}

// DemoteWinning clears the winning flag for every bid on the auction.
func (s *BidStore) DemoteWinning(ctx context.Context, auctionID string) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE auction_bids SET winning = FALSE WHERE auction_id = $1 AND winning`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("postgres: demote bids for %s: %w", auctionID, mapPgError(err))
	}
	return tag.RowsAffected(), nil
}

// GetWinning returns the auction's winning bid.
func (s *BidStore) GetWinning(ctx context.Context, auctionID string) (domain.AuctionBid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM auction_bids WHERE auction_id = $1 AND winning`
	b, err := scanBid(s.q.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuctionBid{}, domain.ErrNotFound
		}
		return domain.AuctionBid{}, fmt.Errorf("postgres: get winning bid for %s: %w", auctionID, err)
	}
	return b, nil
}

// ListByAuction returns the bid history, highest first.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.AuctionBid, error) {
	query := `SELECT ` + bidSelectCols + `
		FROM auction_bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at DESC, id DESC`

	rows, err := s.q.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.AuctionBid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return out, nil
}

// DeleteByAuction removes every bid on the auction.
func (s *BidStore) DeleteByAuction(ctx context.Context, auctionID string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM auction_bids WHERE auction_id = $1`, auctionID); err != nil {
		return fmt.Errorf("postgres: delete bids for %s: %w", auctionID, mapPgError(err))
	}
	return nil
}

func scanBid(row rowScanner) (domain.AuctionBid, error) {
	var (
		b      domain.AuctionBid
		amount int64
	)
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.SellerID, &amount, &b.Winning, &b.CreatedAt); err != nil {
		return domain.AuctionBid{}, err
	}
	b.Amount = domain.Money(amount)
	return b, nil
}
