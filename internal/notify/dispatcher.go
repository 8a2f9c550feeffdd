package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/resale/internal/domain"
)

const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 4

	deliveryTimeout = 5 * time.Second
)

// DispatcherConfig sizes the delivery queue.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
}

// item is one unit of queued work: a user notification or a public event.
type item struct {
	notification *domain.Notification
	event        *domain.MarketEvent
}

// Dispatcher is the fire-and-forget delivery path used after a unit of work
// commits. Enqueue and Broadcast never block the caller: when the queue is
// full the item is dropped and logged. Delivery failures are logged and
// swallowed, so nothing here can affect a sale outcome.
type Dispatcher struct {
	store   domain.NotificationStore
	bus     domain.SignalBus
	alerts  *Notifier
	queue   chan item
	workers int
	logger  *slog.Logger
	now     func() time.Time

	dropped   atomic.Int64
	delivered atomic.Int64
}

// NewDispatcher creates a Dispatcher. bus and alerts may be nil.
func NewDispatcher(
	store domain.NotificationStore,
	bus domain.SignalBus,
	alerts *Notifier,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Dispatcher{
		store:   store,
		bus:     bus,
		alerts:  alerts,
		queue:   make(chan item, cfg.QueueSize),
		workers: cfg.Workers,
		logger:  logger.With(slog.String("component", "dispatcher")),
		now:     time.Now,
	}
}

// Enqueue schedules a user notification.
func (d *Dispatcher) Enqueue(n domain.Notification) {
	d.offer(item{notification: &n}, slog.String("event", n.Event), slog.String("recipient", n.RecipientID))
}

// Broadcast schedules a public market event.
func (d *Dispatcher) Broadcast(ev domain.MarketEvent) {
	d.offer(item{event: &ev}, slog.String("event", ev.Type), slog.Any("channels", ev.Channels()))
}

func (d *Dispatcher) offer(it item, attrs ...any) {
	select {
	case d.queue <- it:
	default:
		d.dropped.Add(1)
		d.logger.Warn("dispatcher: queue full, dropping", attrs...)
	}
}

// Stats returns the number of delivered and dropped items so far.
func (d *Dispatcher) Stats() (delivered, dropped int64) {
	return d.delivered.Load(), d.dropped.Load()
}

// Run starts the workers and blocks until ctx is cancelled. Items still
// queued at shutdown are abandoned.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started", slog.Int("workers", d.workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case it := <-d.queue:
					d.handle(ctx, it)
				}
			}
		})
	}
	err := g.Wait()
	d.logger.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) handle(ctx context.Context, it item) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	switch {
	case it.notification != nil:
		d.deliverNotification(ctx, *it.notification)
	case it.event != nil:
		d.deliverEvent(ctx, *it.event)
	}
	d.delivered.Add(1)
}

func (d *Dispatcher) deliverNotification(ctx context.Context, n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}

	if err := d.store.Create(ctx, n); err != nil {
		d.logger.WarnContext(ctx, "dispatcher: persist notification failed",
			slog.String("event", n.Event),
			slog.String("recipient", n.RecipientID),
			slog.String("error", err.Error()),
		)
	}

	if d.alerts.Enabled() {
		title := fmt.Sprintf("%s → %s", n.Event, n.RecipientID)
		if err := d.alerts.Notify(ctx, n.Event, title, n.Message); err != nil {
			d.logger.WarnContext(ctx, "dispatcher: operator alert failed",
				slog.String("event", n.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (d *Dispatcher) deliverEvent(ctx context.Context, ev domain.MarketEvent) {
	if d.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.WarnContext(ctx, "dispatcher: marshal event failed", slog.String("error", err.Error()))
		return
	}

	for _, ch := range ev.Channels() {
		if err := d.bus.Publish(ctx, ch, payload); err != nil {
			d.logger.WarnContext(ctx, "dispatcher: publish event failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
		}
	}
	if ev.Type == domain.EventListingSold {
		if err := d.bus.StreamAppend(ctx, domain.SalesStream, payload); err != nil {
			d.logger.WarnContext(ctx, "dispatcher: append sale stream failed",
				slog.String("listing_id", ev.ListingID),
				slog.String("error", err.Error()),
			)
		}
	}
}
