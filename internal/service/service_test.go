package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/store/memory"
)

type recordingOutbox struct {
	mu     sync.Mutex
	notes  []domain.Notification
	events []domain.MarketEvent
}

func (o *recordingOutbox) Enqueue(n domain.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, n)
}

func (o *recordingOutbox) Broadcast(ev domain.MarketEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingOutbox) eventsFor(recipient string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, n := range o.notes {
		if n.RecipientID == recipient {
			out = append(out, n.Event)
		}
	}
	return out
}

func (o *recordingOutbox) published(typ string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, ev := range o.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// publishedOn counts events of type typ that would reach channel.
func (o *recordingOutbox) publishedOn(typ, channel string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, ev := range o.events {
		if ev.Type == typ && slices.Contains(ev.Channels(), channel) {
			n++
		}
	}
	return n
}

type harness struct {
	store    *memory.Store
	outbox   *recordingOutbox
	listings *ListingService
	auctions *AuctionService
	offers   *OfferService
	buyouts  *BuyoutService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(2 * time.Second)
	outbox := &recordingOutbox{}
	listings := NewListingService(store, nil, outbox, logger)
	return &harness{
		store:    store,
		outbox:   outbox,
		listings: listings,
		auctions: NewAuctionService(store, listings, outbox, logger),
		offers:   NewOfferService(store, listings, outbox, logger),
		buyouts:  NewBuyoutService(store, listings, outbox, logger),
	}
}

func money(s string) domain.Money { return domain.MustParseMoney(s) }

func moneyRef(s string) *domain.Money {
	m := domain.MustParseMoney(s)
	return &m
}

func member(id string) domain.Principal {
	return domain.Principal{UserID: id, Role: domain.RoleMember}
}

func (h *harness) createListing(t *testing.T, in domain.NewListing) ListingView {
	t.Helper()
	if in.Title == "" {
		in.Title = "Road bike"
	}
	v, err := h.listings.CreateListing(context.Background(), member("seller"), in)
	require.NoError(t, err)
	return v
}

func (h *harness) listing(t *testing.T, id string) domain.Listing {
	t.Helper()
	l, err := h.store.Listings().GetByID(context.Background(), id)
	require.NoError(t, err)
	return l
}

func (h *harness) offer(t *testing.T, id string) domain.Offer {
	t.Helper()
	o, err := h.store.Offers().GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func errorsAnyOf(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
