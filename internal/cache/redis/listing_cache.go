package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/resale/internal/domain"
)

//go:embed scripts/set_if_generation.lua
var setIfGenerationLua string

// DefaultListingTTL bounds how long a listing stays cached without a write.
const DefaultListingTTL = 5 * time.Minute

// generationTTL keeps the invalidation counter well past any in-flight read.
const generationTTL = 24 * time.Hour

// ListingCache implements domain.ListingCache. Each listing is a hash under
// resale:listing:{id} whose "data" field holds the JSON record, next to a
// counter resale:listing:{id}:gen bumped on every invalidation. The cache only
// serves reads; sale decisions always go to the store.
type ListingCache struct {
	rdb   *redis.Client
	ttl   time.Duration
	setSc *redis.Script
}

// NewListingCache creates a ListingCache. A non-positive ttl selects
// DefaultListingTTL.
func NewListingCache(c *Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	return &ListingCache{rdb: c.Underlying(), ttl: ttl, setSc: redis.NewScript(setIfGenerationLua)}
}

func listingKey(id string) string { return "resale:listing:" + id }

func generationKey(id string) string { return "resale:listing:" + id + ":gen" }

// Generation returns the invalidation counter for the listing, 0 if unset.
func (lc *ListingCache) Generation(ctx context.Context, id string) (int64, error) {
	gen, err := lc.rdb.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get generation %s: %w", id, err)
	}
	return gen, nil
}

// Set stores the listing if its generation is still gen. It returns
// domain.ErrConflict, and stores nothing, when an invalidation ran since.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing, gen int64) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", l.ID, err)
	}

	stored, err := lc.setSc.Run(ctx, lc.rdb,
		[]string{listingKey(l.ID), generationKey(l.ID)},
		gen, data, string(l.State), lc.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.ID, err)
	}
	if stored == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Get returns the cached listing or domain.ErrNotFound.
func (lc *ListingCache) Get(ctx context.Context, id string) (domain.Listing, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", id, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", id, err)
	}
	return l, nil
}

// Invalidate drops the cached listing and bumps its generation, so a reader
// that loaded the row earlier cannot store it back.
func (lc *ListingCache) Invalidate(ctx context.Context, id string) error {
	pipe := lc.rdb.TxPipeline()
	pipe.Del(ctx, listingKey(id))
	pipe.Incr(ctx, generationKey(id))
	pipe.Expire(ctx, generationKey(id), generationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", id, err)
	}
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
