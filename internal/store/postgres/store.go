package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/resale/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every repo works
// unchanged inside and outside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLSTATE codes that mean "could not get the row in time, try again".
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// repos bundles the per-table stores over one querier.
type repos struct {
	listings      *ListingStore
	auctions      *AuctionStore
	bids          *BidStore
	offers        *OfferStore
	notifications *NotificationStore
	audit         *AuditStore
}

func newRepos(q querier) repos {
	return repos{
		listings:      &ListingStore{q: q},
		auctions:      &AuctionStore{q: q},
		bids:          &BidStore{q: q},
		offers:        &OfferStore{q: q},
		notifications: &NotificationStore{q: q},
		audit:         &AuditStore{q: q},
	}
}

func (r repos) Listings() domain.ListingStore           { return r.listings }
func (r repos) Auctions() domain.AuctionStore           { return r.auctions }
func (r repos) Bids() domain.BidStore                   { return r.bids }
func (r repos) Offers() domain.OfferStore               { return r.offers }
func (r repos) Notifications() domain.NotificationStore { return r.notifications }
func (r repos) Audit() domain.AuditStore                { return r.audit }

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	repos
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore creates a Store. lockTimeout bounds every row-lock wait inside
// WithinTx; zero leaves the server default in place.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{
		repos:       newRepos(pool),
		pool:        pool,
		lockTimeout: lockTimeout,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. Lock waits longer than the
// configured timeout, deadlocks and serialization failures surface as
// domain.ErrBusy.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", mapPgError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: set lock_timeout: %w", err)
		}
	}

	if err := fn(ctx, newRepos(tx)); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapPgError(err))
	}
	return nil
}

// mapPgError converts lock contention failures into domain.ErrBusy while
// keeping the original error in the chain.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBusy) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %w", domain.ErrBusy, err)
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func moneyArg(m *domain.Money) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}

func moneyPtr(v *int64) *domain.Money {
	if v == nil {
		return nil
	}
	m := domain.Money(*v)
	return &m
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
