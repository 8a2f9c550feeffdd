package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "auction-sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("resale:lock:auction-sweeper"))

	_, err = lm.Acquire(ctx, "auction-sweeper", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("resale:lock:auction-sweeper"))

	unlock2, err := lm.Acquire(ctx, "auction-sweeper", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockUnlockKeepsSuccessorLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists("resale:lock:k"), "stale holder must not release the new lock")
}

func TestRateLimiterAllow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 2, time.Minute)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		now = now.Add(time.Millisecond)
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(2 * time.Minute)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "window slides")
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 1, time.Hour)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, "k"))

	ctx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx, "k"), context.DeadlineExceeded)
}

func TestListingCache(t *testing.T) {
	c, mr := newTestClient(t)
	lc := NewListingCache(c, time.Minute)
	ctx := context.Background()

	_, err := lc.Get(ctx, "L1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	buyout := domain.MustParseMoney("250")
	in := domain.Listing{
		ID:          "L1",
		OwnerID:     "seller",
		Title:       "Lamp",
		BasePrice:   domain.MustParseMoney("19.99"),
		BuyoutPrice: &buyout,
		State:       domain.SaleStateAvailable,
		CreatedAt:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	gen, err := lc.Generation(ctx, "L1")
	require.NoError(t, err)
	assert.Zero(t, gen)
	require.NoError(t, lc.Set(ctx, in, gen))
	assert.Equal(t, time.Minute, mr.TTL("resale:listing:L1"))

	out, err := lc.Get(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	require.NoError(t, lc.Invalidate(ctx, "L1"))
	_, err = lc.Get(ctx, "L1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// a reader holding the old generation cannot repopulate the entry
	assert.ErrorIs(t, lc.Set(ctx, in, gen), domain.ErrConflict)
	_, err = lc.Get(ctx, "L1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	gen, err = lc.Generation(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	require.NoError(t, lc.Set(ctx, in, gen))
	_, err = lc.Get(ctx, "L1")
	assert.NoError(t, err)
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := sb.Subscribe(ctx, "ch:auction:*")
	require.NoError(t, err)

	require.NoError(t, sb.Publish(ctx, "ch:auction:A1", []byte(`{"type":"bid.placed"}`)))

	select {
	case msg := <-msgs:
		assert.Equal(t, "ch:auction:A1", msg.Channel)
		assert.JSONEq(t, `{"type":"bid.placed"}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-msgs
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := sb.StreamRead(ctx, domain.SalesStream, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, domain.SalesStream, []byte("one")))
	require.NoError(t, sb.StreamAppend(ctx, domain.SalesStream, []byte("two")))

	msgs, err = sb.StreamRead(ctx, domain.SalesStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))

	rest, err := sb.StreamRead(ctx, domain.SalesStream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "two", string(rest[0].Payload))
}
