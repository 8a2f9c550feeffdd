package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/domain"
)

// These tests run against a live database and are skipped unless
// RESALE_TEST_PG_DSN points at one. Rows use fresh ids and are removed
// afterwards, so a shared development database is fine.
func openTestStore(t *testing.T, lockTimeout time.Duration) *Store {
	t.Helper()
	dsn := os.Getenv("RESALE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RESALE_TEST_PG_DSN not set")
	}

	c, err := New(t.Context(), ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = c.RunMigrations(t.Context())
	require.NoError(t, err)
	return NewStore(c.Pool(), lockTimeout)
}

func createTestListing(t *testing.T, s *Store) domain.Listing {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	l := domain.Listing{
		ID:        uuid.NewString(),
		OwnerID:   "seller",
		Title:     "Desk lamp",
		BasePrice: domain.MustParseMoney("20"),
		State:     domain.SaleStateAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Listings().Create(t.Context(), l))
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.Offers().DeleteByListing(ctx, l.ID)
		_ = s.Listings().Delete(ctx, l.ID)
	})
	return l
}

func insertTestOffer(t *testing.T, s *Store, listingID, bidder, amount string) domain.Offer {
	t.Helper()
	o := domain.Offer{
		ProposalBase: domain.ProposalBase{
			ID:        uuid.NewString(),
			BidderID:  bidder,
			SellerID:  "seller",
			Amount:    domain.MustParseMoney(amount),
			CreatedAt: time.Now().UTC(),
		},
		ListingID: listingID,
		Status:    domain.OfferStatusPending,
		Source:    domain.OfferSourceNegotiated,
	}
	require.NoError(t, s.Offers().Insert(t.Context(), o))
	return o
}

func TestPostgresMarkSoldOnlyOnce(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := t.Context()
	l := createTestListing(t, s)
	at := time.Now().UTC()

	sold, err := s.Listings().MarkSold(ctx, l.ID, "alice", domain.MustParseMoney("25"), at)
	require.NoError(t, err)
	assert.True(t, sold.IsSold())
	require.NotNil(t, sold.BuyerID)
	assert.Equal(t, "alice", *sold.BuyerID)
	assert.Equal(t, domain.MustParseMoney("25"), *sold.SalePrice)

	_, err = s.Listings().MarkSold(ctx, l.ID, "bob", domain.MustParseMoney("30"), at)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.Listings().GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", *got.BuyerID, "the losing write changed nothing")

	_, err = s.Listings().MarkSold(ctx, uuid.NewString(), "bob", domain.MustParseMoney("30"), at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresDecideAndRejectPending(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := t.Context()
	l := createTestListing(t, s)

	winner := insertTestOffer(t, s, l.ID, "alice", "30")
	insertTestOffer(t, s, l.ID, "bob", "25")
	insertTestOffer(t, s, l.ID, "carol", "22")

	highest, ok, err := s.Offers().HighestAmount(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.MustParseMoney("30"), highest)

	now := time.Now().UTC()
	accepted, err := s.Offers().Decide(ctx, winner.ID, domain.OfferStatusAccepted, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusAccepted, accepted.Status)

	_, err = s.Offers().Decide(ctx, winner.ID, domain.OfferStatusRejected, now)
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	_, err = s.Offers().Decide(ctx, uuid.NewString(), domain.OfferStatusRejected, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rejected, err := s.Offers().RejectPending(ctx, l.ID, winner.ID, now)
	require.NoError(t, err)
	assert.Len(t, rejected, 2)
	for _, o := range rejected {
		assert.Equal(t, domain.OfferStatusRejected, o.Status)
		assert.NotEqual(t, winner.ID, o.ID)
	}

	again, err := s.Offers().RejectPending(ctx, l.ID, winner.ID, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPostgresLockTimeoutIsBusy(t *testing.T) {
	s := openTestStore(t, 200*time.Millisecond)
	ctx := t.Context()
	l := createTestListing(t, s)

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- s.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
			if _, err := tx.Listings().LockByID(ctx, l.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	select {
	case <-locked:
	case err := <-holder:
		t.Fatalf("holder failed before locking: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("holder never took the lock")
	}

	start := time.Now()
	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		_, err := tx.Listings().LockByID(ctx, l.ID)
		return err
	})
	close(release)

	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.True(t, domain.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NoError(t, <-holder)
}

func TestPostgresWithinTxRollsBack(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := t.Context()
	l := createTestListing(t, s)

	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if _, err := tx.Listings().MarkSold(ctx, l.ID, "alice", domain.MustParseMoney("25"), time.Now().UTC()); err != nil {
			return err
		}
		return domain.ErrForbidden
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := s.Listings().GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSold())
}
