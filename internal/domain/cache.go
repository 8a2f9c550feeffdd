package domain

import (
	"context"
	"time"
)

// ListingCache provides fast listing lookups. Entries are invalidated after
// every committed change to the listing. Readers take the Generation before
// loading from the store and pass it to Set, which refuses with ErrConflict
// when an invalidation happened in between.
type ListingCache interface {
	Generation(ctx context.Context, id string) (int64, error)
	Set(ctx context.Context, l Listing, gen int64) error
	Get(ctx context.Context, id string) (Listing, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BusMessage is a pub/sub message together with the channel it arrived on.
type BusMessage struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe accepts exact channel names or glob patterns ("ch:auction:*").
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
