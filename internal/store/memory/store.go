// Package memory implements domain.Store in process memory. It honours the
// same unit-of-work and row-lock contract as the PostgreSQL store and backs
// development mode and the service tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/resale/internal/domain"
)

// DefaultLockTimeout bounds row-lock waits when none is configured.
const DefaultLockTimeout = 3 * time.Second

type state struct {
	listings      map[string]domain.Listing
	auctions      map[string]domain.Auction
	bids          map[string]domain.AuctionBid
	offers        map[string]domain.Offer
	notifications []domain.Notification
	audit         []domain.AuditEntry
	auditSeq      int64
}

func newState() *state {
	return &state{
		listings: make(map[string]domain.Listing),
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string]domain.AuctionBid),
		offers:   make(map[string]domain.Offer),
	}
}

func (s *state) clone() *state {
	c := &state{
		listings:      make(map[string]domain.Listing, len(s.listings)),
		auctions:      make(map[string]domain.Auction, len(s.auctions)),
		bids:          make(map[string]domain.AuctionBid, len(s.bids)),
		offers:        make(map[string]domain.Offer, len(s.offers)),
		notifications: append([]domain.Notification(nil), s.notifications...),
		audit:         append([]domain.AuditEntry(nil), s.audit...),
		auditSeq:      s.auditSeq,
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	return c
}

// mutation is a write recorded by a unit of work. It must be deterministic
// so it can be replayed onto newer committed state.
type mutation func(*state) error

// backend is what the repos run against: live state, or a unit of work.
type backend interface {
	read(fn func(*state) error) error
	write(fn mutation) error
	lockRow(ctx context.Context, key string) error
}

// Store implements domain.Store.
type Store struct {
	repos
	mu          sync.RWMutex
	live        *state
	locks       *lockTable
	lockTimeout time.Duration
}

// New creates an empty Store. A non-positive lockTimeout selects
// DefaultLockTimeout.
func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	s := &Store{
		live:        newState(),
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
	}
	s.repos = newRepos(liveBackend{s})
	return s
}

// WithinTx runs fn against a private working copy. Writes become visible to
// others only when fn returns nil; row locks are released when the unit ends.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repos) error) error {
	t := &txBackend{store: s, held: make(map[string]struct{})}
	s.mu.RLock()
	t.work = s.live.clone()
	s.mu.RUnlock()
	defer t.release()

	if err := fn(ctx, newRepos(t)); err != nil {
		return err
	}
	return s.commit(t.log)
}

func (s *Store) commit(log []mutation) error {
	if len(log) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.live.clone()
	for _, m := range log {
		if err := m(next); err != nil {
			return fmt.Errorf("memory: commit: %w", err)
		}
	}
	s.live = next
	return nil
}

// liveBackend applies each call directly to committed state.
type liveBackend struct {
	s *Store
}

func (b liveBackend) read(fn func(*state) error) error {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return fn(b.s.live)
}

func (b liveBackend) write(fn mutation) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return fn(b.s.live)
}

func (liveBackend) lockRow(context.Context, string) error { return nil }

// txBackend is one unit of work. Its working copy is rebuilt from committed
// state every time a new row lock is taken, so reads after a lock observe
// everything the previous holder committed.
type txBackend struct {
	store *Store
	work  *state
	log   []mutation
	held  map[string]struct{}
}

func (t *txBackend) read(fn func(*state) error) error {
	return fn(t.work)
}

func (t *txBackend) write(fn mutation) error {
	if err := fn(t.work); err != nil {
		return err
	}
	t.log = append(t.log, fn)
	return nil
}

func (t *txBackend) lockRow(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key, t.store.lockTimeout); err != nil {
		return err
	}
	t.held[key] = struct{}{}

	t.store.mu.RLock()
	work := t.store.live.clone()
	t.store.mu.RUnlock()
	for _, m := range t.log {
		if err := m(work); err != nil {
			return fmt.Errorf("memory: replay after locking %s: %w", key, err)
		}
	}
	t.work = work
	return nil
}

func (t *txBackend) release() {
	for key := range t.held {
		t.store.locks.release(key)
	}
	t.held = nil
}

// lockTable hands out one exclusive lock per row key.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (lt *lockTable) slot(key string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.slots[key] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := lt.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("memory: lock %s: %w", key, domain.ErrBusy)
	case <-ctx.Done():
		return fmt.Errorf("memory: lock %s: %w", key, ctx.Err())
	}
}

func (lt *lockTable) release(key string) {
	<-lt.slot(key)
}
