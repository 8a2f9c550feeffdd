package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) counts(channel, stream string) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel]), len(b.streamed[stream])
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{domain.EventListingSold}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, domain.EventBidPlaced, "bid", "x"))
	require.NoError(t, n.Notify(ctx, domain.EventListingSold, "sold", "x"))
	require.NoError(t, n.NotifyAll(ctx, "all", "x"))
	assert.Equal(t, []string{"sold", "all"}, s.titles)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, good.count(), "remaining senders still run")
}

func TestDispatcherDeliversAfterEnqueue(t *testing.T) {
	store := memory.New(time.Second)
	bus := newFakeBus()
	alerts := &recordingSender{}
	d := NewDispatcher(store.Notifications(), bus,
		NewNotifier([]Sender{alerts}, []string{domain.EventListingSold}, discardLogger()),
		DispatcherConfig{QueueSize: 16, Workers: 2}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	price := domain.MustParseMoney("150")
	d.Enqueue(domain.Notification{RecipientID: "seller", Event: domain.EventListingSold, Message: "sold"})
	d.Enqueue(domain.Notification{RecipientID: "bidder", Event: domain.EventOutbid, Message: "outbid"})
	d.Broadcast(domain.MarketEvent{Type: domain.EventListingSold, ListingID: "L1", Amount: &price})

	require.Eventually(t, func() bool {
		delivered, _ := d.Stats()
		return delivered == 3
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.Notifications().ListByRecipient(ctx, "seller", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	published, streamed := bus.counts("ch:listing:L1", domain.SalesStream)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, streamed)

	var ev domain.MarketEvent
	require.NoError(t, json.Unmarshal(bus.published["ch:listing:L1"][0], &ev))
	assert.Equal(t, price, *ev.Amount)

	assert.Equal(t, 1, alerts.count(), "only allow-listed events reach operators")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherPublishesOnEveryChannel(t *testing.T) {
	store := memory.New(time.Second)
	bus := newFakeBus()
	d := NewDispatcher(store.Notifications(), bus, nil, DispatcherConfig{QueueSize: 4, Workers: 1}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Broadcast(domain.MarketEvent{Type: domain.EventListingSold, ListingID: "L1", AuctionID: "A1"})
	require.Eventually(t, func() bool {
		delivered, _ := d.Stats()
		return delivered == 1
	}, 2*time.Second, 10*time.Millisecond)

	onListing, streamed := bus.counts("ch:listing:L1", domain.SalesStream)
	onAuction, _ := bus.counts("ch:auction:A1", domain.SalesStream)
	assert.Equal(t, 1, onListing)
	assert.Equal(t, 1, onAuction)
	assert.Equal(t, 1, streamed, "a sale is streamed once")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	store := memory.New(time.Second)
	d := NewDispatcher(store.Notifications(), nil, nil, DispatcherConfig{QueueSize: 1, Workers: 1}, discardLogger())

	d.Enqueue(domain.Notification{RecipientID: "a"})
	d.Enqueue(domain.Notification{RecipientID: "b"})
	d.Broadcast(domain.MarketEvent{ListingID: "L1"})

	_, dropped := d.Stats()
	assert.Equal(t, int64(2), dropped)
}

func TestTelegramSender(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	s, err := newTelegramSender("TOKEN", "42", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "Sold", "listing L1"))

	assert.Equal(t, "42", form["chat_id"])
	assert.Equal(t, "*Sold*\nlisting L1", form["text"])
	assert.Equal(t, "Markdown", form["parse_mode"])

	require.NoError(t, s.Send(context.Background(), "listing.sold → bob_99", `"*Lamp* [v2]" sold`))
	assert.Equal(t, "*listing.sold → bob\\_99*\n\"\\*Lamp\\* \\[v2]\" sold", form["text"])

	_, err = NewTelegramSender("TOKEN", "not-a-number")
	assert.Error(t, err)
}

func TestDiscordSender(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Sold", "listing L1"))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Sold", payload.Embeds[0].Title)
	assert.Equal(t, "listing L1", payload.Embeds[0].Description)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()
	err := NewDiscordSender(failing.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
