package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tradersutopia/billingd/internal/reconcile"
	"github.com/tradersutopia/billingd/internal/store"
)

// ErrEventInFlight is returned when the same event id is delivered again
// while the first delivery is still being processed. The transport should
// answer non-2xx so the provider retries later; by then the first attempt
// has either committed (retry becomes a duplicate) or failed (retry runs).
var ErrEventInFlight = errors.New("event is already being processed")

// Event is one inbound billing event, already signature-verified by the
// transport. OccurredAt is the provider's timestamp, not the delivery time.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Data       json.RawMessage
}

// Notifier receives fire-and-forget user notifications. Implementations
// must swallow their own failures; ingest never waits on delivery.
type Notifier interface {
	Notify(ctx context.Context, accountID int64, kind, title, message, metadata string)
}

// Invalidator drops cached access decisions for an account.
type Invalidator interface {
	Invalidate(accountID int64)
}

// Streamer publishes reconciliation outcomes to live observers (the admin
// dashboard feed). Best-effort.
type Streamer interface {
	BroadcastJSON(v any)
}

// StreamEvent is the shape published on the admin feed.
type StreamEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	AccountID int64     `json:"account_id"`
	Status    string    `json:"status,omitempty"`
	Applied   bool      `json:"applied"`
	At        time.Time `json:"at"`
}

// Ingestor is the entry point for provider events: idempotency guard,
// dispatch by event family, then cache invalidation and best-effort
// notification. Safe for concurrent use and for redelivery of previously
// seen event ids.
type Ingestor struct {
	events      *store.EventStore
	reconciler  *reconcile.Reconciler
	invalidator Invalidator
	notifier    Notifier
	streamer    Streamer
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(events *store.EventStore, rec *reconcile.Reconciler, invalidator Invalidator, notifier Notifier, streamer Streamer, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		events:      events,
		reconciler:  rec,
		invalidator: invalidator,
		notifier:    notifier,
		streamer:    streamer,
		logger:      logger,
		inflight:    make(map[string]struct{}),
	}
}

// Ingest applies one event. Returns nil for duplicates and for event types
// we do not track. A reconcile.ValidationError means the payload is
// malformed and must not be retried; any other error is transient and the
// event stays unapplied so redelivery can succeed later.
func (i *Ingestor) Ingest(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event id is required")
	}

	i.mu.Lock()
	if _, busy := i.inflight[ev.ID]; busy {
		i.mu.Unlock()
		return ErrEventInFlight
	}
	i.inflight[ev.ID] = struct{}{}
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		delete(i.inflight, ev.ID)
		i.mu.Unlock()
	}()

	applied, err := i.events.Applied(ev.ID)
	if err != nil {
		return fmt.Errorf("check idempotency: %w", err)
	}
	if applied {
		i.logger.Debug("duplicate event ignored", "event_id", ev.ID, "event_type", ev.Type)
		return nil
	}

	out, err := i.dispatch(ctx, ev)
	if err != nil {
		if reconcile.IsValidation(err) {
			// Malformed payloads are dropped, not retried: mark applied so
			// redelivery becomes a duplicate.
			i.logger.Error("event rejected", "event_id", ev.ID, "event_type", ev.Type, "error", err)
			if markErr := i.events.MarkApplied(ev.ID, ev.Type); markErr != nil {
				i.logger.Error("mark rejected event", "event_id", ev.ID, "error", markErr)
			}
			return err
		}
		// Transient: leave the event unapplied for retry.
		return fmt.Errorf("handle %s: %w", ev.Type, err)
	}

	// Subscription-touching paths mark the event applied inside the upsert
	// transaction; everything else is marked here. INSERT OR IGNORE makes
	// the double call harmless.
	if err := i.events.MarkApplied(ev.ID, ev.Type); err != nil {
		return fmt.Errorf("mark event applied: %w", err)
	}

	if out == nil || out.AccountID == 0 {
		return nil
	}

	if i.invalidator != nil {
		i.invalidator.Invalidate(out.AccountID)
	}

	if i.streamer != nil {
		i.streamer.BroadcastJSON(StreamEvent{
			EventID:   ev.ID,
			EventType: ev.Type,
			AccountID: out.AccountID,
			Status:    string(out.Status),
			Applied:   out.Applied,
			At:        time.Now().UTC(),
		})
	}

	if out.Notice != nil && i.notifier != nil {
		n := *out.Notice
		accountID := out.AccountID
		go i.notifier.Notify(context.WithoutCancel(ctx), accountID, n.Kind, n.Title, n.Message, n.Metadata)
	}

	return nil
}

func (i *Ingestor) dispatch(ctx context.Context, ev Event) (*reconcile.Outcome, error) {
	switch {
	case strings.HasPrefix(ev.Type, "customer.subscription."):
		return i.reconciler.HandleSubscriptionLifecycle(ctx, ev.ID, ev.Type, ev.OccurredAt, ev.Data)
	case strings.HasPrefix(ev.Type, "invoice."):
		return i.reconciler.HandleInvoice(ctx, ev.ID, ev.Type, ev.OccurredAt, ev.Data)
	case ev.Type == "checkout.session.completed":
		return i.reconciler.HandleCheckoutCompleted(ctx, ev.ID, ev.OccurredAt, ev.Data)
	case strings.HasPrefix(ev.Type, "customer."):
		return i.reconciler.HandleCustomer(ctx, ev.ID, ev.Type, ev.OccurredAt, ev.Data)
	default:
		// Forward compatibility: unknown types are accepted, logged, and
		// never treated as failure.
		i.logger.Info("event type not tracked", "event_id", ev.ID, "event_type", ev.Type)
		return nil, nil
	}
}
