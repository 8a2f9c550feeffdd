package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/domain"
)

func (h *harness) createAuctionListing(t *testing.T, start string, auction domain.NewAuction) ListingView {
	t.Helper()
	v := h.createListing(t, domain.NewListing{BasePrice: money(start), BuyoutPrice: moneyRef("1000"), Auction: &auction})
	require.NotNil(t, v.Auction)
	return v
}

func TestPlaceBidRaisesPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{})
	assert.Equal(t, money("50.00"), v.Auction.CurrentPrice)
	assert.Equal(t, "Road bike", v.Auction.Title)

	first, err := h.auctions.PlaceBid(ctx, v.Auction.ID, "alice", money("60.00"))
	require.NoError(t, err)
	assert.Equal(t, money("60.00"), first.NewCurrentPrice)
	assert.True(t, first.Bid.Winning)
	assert.Equal(t, "seller", first.Bid.SellerID)

	second, err := h.auctions.PlaceBid(ctx, v.Auction.ID, "bob", money("75.00"))
	require.NoError(t, err)

	bids, err := h.auctions.ListBids(ctx, v.Auction.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, second.Bid.ID, bids[0].ID)
	assert.True(t, bids[0].Winning)
	assert.False(t, bids[1].Winning)

	a, err := h.auctions.GetAuction(ctx, v.Auction.ID)
	require.NoError(t, err)
	assert.Equal(t, money("75.00"), a.CurrentPrice)

	assert.Equal(t, []string{domain.EventBidPlaced, domain.EventBidPlaced}, h.outbox.eventsFor("seller"))
	assert.Equal(t, []string{domain.EventOutbid}, h.outbox.eventsFor("alice"))
	assert.Equal(t, 2, h.outbox.published(domain.EventBidPlaced))
}

func TestPlaceBidErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{})
	id := v.Auction.ID

	_, err := h.auctions.PlaceBid(ctx, id, "", money("60"))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = h.auctions.PlaceBid(ctx, "missing", "alice", money("60"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.auctions.PlaceBid(ctx, id, "seller", money("60"))
	assert.ErrorIs(t, err, domain.ErrSelfBid)
	_, err = h.auctions.PlaceBid(ctx, id, "alice", money("50.00"))
	assert.ErrorIs(t, err, domain.ErrBidTooLow, "equal to the current price")

	_, err = h.auctions.CloseAuction(ctx, id, "seller")
	require.NoError(t, err)
	_, err = h.auctions.PlaceBid(ctx, id, "alice", money("60"))
	assert.ErrorIs(t, err, domain.ErrNotActive)
	_, err = h.auctions.PlaceBid(ctx, id, "seller", money("60"))
	assert.ErrorIs(t, err, domain.ErrNotActive, "inactive auction is reported before self-bid")
}

func TestPlaceBidAfterSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{})

	_, err := h.buyouts.Buyout(ctx, v.Listing.ID, "carol")
	require.NoError(t, err)

	_, err = h.auctions.PlaceBid(ctx, v.Auction.ID, "alice", money("60"))
	assert.ErrorIs(t, err, domain.ErrNotActive)

	a, err := h.auctions.GetAuction(ctx, v.Auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusClosed, a.Status, "buyout closes the companion auction")
}

func TestEqualConcurrentBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, bidder := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, bidder string) {
			defer wg.Done()
			_, errs[i] = h.auctions.PlaceBid(ctx, v.Auction.ID, bidder, money("60.00"))
		}(i, bidder)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrBidTooLow)
	}
	assert.Equal(t, 1, ok)

	bids, err := h.auctions.ListBids(ctx, v.Auction.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Winning)

	a, err := h.auctions.GetAuction(ctx, v.Auction.ID)
	require.NoError(t, err)
	assert.Equal(t, money("60.00"), a.CurrentPrice)
}

func TestConcurrentBidsKeepPriceMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "1.00", domain.NewAuction{})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won []BidResult
	)
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.auctions.PlaceBid(ctx, v.Auction.ID, fmt.Sprintf("bidder-%d", i), domain.MoneyFromMinor(int64(100+i)))
			if err != nil {
				return
			}
			mu.Lock()
			won = append(won, res)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.NotEmpty(t, won)

	bids, err := h.auctions.ListBids(ctx, v.Auction.ID)
	require.NoError(t, err)
	require.Len(t, bids, len(won))

	winners := 0
	for i, b := range bids {
		if b.Winning {
			winners++
			assert.Zero(t, i, "only the highest bid is winning")
		}
		if i > 0 {
			assert.False(t, b.CreatedAt.After(bids[i-1].CreatedAt), "a lower bid landed after a higher one")
		}
	}
	assert.Equal(t, 1, winners)

	a, err := h.auctions.GetAuction(ctx, v.Auction.ID)
	require.NoError(t, err)
	assert.Equal(t, bids[0].Amount, a.CurrentPrice)
}

func TestCloseAuction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{})
	_, err := h.auctions.PlaceBid(ctx, v.Auction.ID, "alice", money("60"))
	require.NoError(t, err)

	_, err = h.auctions.CloseAuction(ctx, v.Auction.ID, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = h.auctions.CloseAuction(ctx, v.Auction.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	a, err := h.auctions.CloseAuction(ctx, v.Auction.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusClosed, a.Status)
	require.NotNil(t, a.ClosedAt)
	require.NotNil(t, a.EndTime)
	assert.False(t, a.EndTime.After(*a.ClosedAt))
	assert.False(t, h.listing(t, v.Listing.ID).IsSold(), "closing alone never sells")

	_, err = h.auctions.CloseAuction(ctx, v.Auction.ID, "seller")
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestCloseAndSettleSellsToWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{ReservePrice: moneyRef("55")})

	pending, err := h.offers.PlaceOffer(ctx, v.Listing.ID, "dave", money("60"), "")
	require.NoError(t, err)
	_, err = h.auctions.PlaceBid(ctx, v.Auction.ID, "alice", money("60"))
	require.NoError(t, err)
	_, err = h.auctions.PlaceBid(ctx, v.Auction.ID, "bob", money("70"))
	require.NoError(t, err)

	st, err := h.auctions.CloseAndSettle(ctx, v.Auction.ID, "seller")
	require.NoError(t, err)
	require.NotNil(t, st.Listing)
	require.NotNil(t, st.Winner)
	assert.Equal(t, "bob", st.Winner.BidderID)
	assert.Equal(t, domain.AuctionStatusClosed, st.Auction.Status)

	l := h.listing(t, v.Listing.ID)
	assert.True(t, l.IsSold())
	assert.Equal(t, "bob", *l.BuyerID)
	assert.Equal(t, money("70"), *l.SalePrice)
	assert.Equal(t, domain.OfferStatusPending, h.offer(t, pending.ID).Status)

	assert.Contains(t, h.outbox.eventsFor("bob"), domain.EventAuctionWon)
	assert.Contains(t, h.outbox.eventsFor("seller"), domain.EventListingSold)
	assert.Equal(t, 1, h.outbox.published(domain.EventListingSold))

	_, err = h.offers.AcceptOffer(ctx, pending.ID, "seller")
	assert.ErrorIs(t, err, domain.ErrAlreadySold)
}

func TestSettledSaleReachesBothChannels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "10.00", domain.NewAuction{})

	_, err := h.auctions.PlaceBid(ctx, v.Auction.ID, "alice", money("20"))
	require.NoError(t, err)
	_, err = h.auctions.CloseAndSettle(ctx, v.Auction.ID, "seller")
	require.NoError(t, err)

	listingCh := domain.ListingChannel(v.Listing.ID)
	auctionCh := domain.AuctionChannel(v.Auction.ID)
	assert.Equal(t, 1, h.outbox.publishedOn(domain.EventListingSold, listingCh))
	assert.Equal(t, 1, h.outbox.publishedOn(domain.EventListingSold, auctionCh))
	assert.Equal(t, 1, h.outbox.publishedOn(domain.EventAuctionClosed, listingCh))
	assert.Equal(t, 1, h.outbox.publishedOn(domain.EventAuctionClosed, auctionCh))
}

func TestCloseAndSettleBelowReserve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{ReservePrice: moneyRef("100")})
	_, err := h.auctions.PlaceBid(ctx, v.Auction.ID, "alice", money("60"))
	require.NoError(t, err)

	st, err := h.auctions.CloseAndSettle(ctx, v.Auction.ID, "seller")
	require.NoError(t, err)
	assert.Nil(t, st.Listing)
	require.NotNil(t, st.Winner)
	assert.Equal(t, domain.AuctionStatusClosed, st.Auction.Status)
	assert.False(t, h.listing(t, v.Listing.ID).IsSold())
	assert.NotContains(t, h.outbox.eventsFor("alice"), domain.EventAuctionWon)
	assert.Contains(t, h.outbox.eventsFor("seller"), domain.EventAuctionClosed)
}

func TestCancelAuction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.createAuctionListing(t, "50.00", domain.NewAuction{})

	_, err := h.auctions.CancelAuction(ctx, v.Auction.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	a, err := h.auctions.CancelAuction(ctx, v.Auction.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusCancelled, a.Status)

	_, err = h.auctions.CancelAuction(ctx, v.Auction.ID, "seller")
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestCreateStandaloneAuction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auctions.CreateAuction(ctx, member("seller"), domain.NewAuction{Title: "Lot"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	pro := domain.Principal{UserID: "shop", Role: domain.RolePro}
	_, err = h.auctions.CreateAuction(ctx, pro, domain.NewAuction{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	a, err := h.auctions.CreateAuction(ctx, pro, domain.NewAuction{Title: "Lot", StartPrice: moneyRef("5")})
	require.NoError(t, err)
	assert.True(t, a.Standalone())
	assert.Equal(t, money("5"), a.CurrentPrice)

	_, err = h.auctions.PlaceBid(ctx, a.ID, "shop", money("6"))
	assert.ErrorIs(t, err, domain.ErrSelfBid)
	_, err = h.auctions.PlaceBid(ctx, a.ID, "alice", money("6"))
	require.NoError(t, err)

	st, err := h.auctions.CloseAndSettle(ctx, a.ID, "shop")
	require.NoError(t, err)
	assert.Nil(t, st.Listing)
	require.NotNil(t, st.Winner)
	assert.Contains(t, h.outbox.eventsFor("alice"), domain.EventAuctionWon)
}

type stubLocks struct {
	err   error
	calls int
}

func (l *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

func TestSweepExpiredSettles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	end := time.Now().Add(time.Hour)
	sold := h.createAuctionListing(t, "10", domain.NewAuction{EndTime: &end})
	unsold := h.createAuctionListing(t, "10", domain.NewAuction{EndTime: &end})
	open := h.createAuctionListing(t, "10", domain.NewAuction{})

	_, err := h.auctions.PlaceBid(ctx, sold.Auction.ID, "alice", money("20"))
	require.NoError(t, err)

	later := end.Add(time.Minute).UTC()
	h.auctions.now = func() time.Time { return later }

	locks := &stubLocks{}
	closer := NewAuctionCloser(h.auctions, locks, time.Minute, 10, h.auctions.logger)
	n, err := closer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, locks.calls)

	assert.True(t, h.listing(t, sold.Listing.ID).IsSold())
	assert.False(t, h.listing(t, unsold.Listing.ID).IsSold())

	for _, id := range []string{sold.Auction.ID, unsold.Auction.ID} {
		a, err := h.auctions.GetAuction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.AuctionStatusClosed, a.Status)
	}
	a, err := h.auctions.GetAuction(ctx, open.Auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusActive, a.Status, "open-ended auctions never expire")

	n, err = closer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuctionCloserSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	locks := &stubLocks{err: domain.ErrLockHeld}
	closer := NewAuctionCloser(h.auctions, locks, time.Minute, 10, h.auctions.logger)

	n, err := closer.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
