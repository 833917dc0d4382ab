package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tradersutopia/billingd/internal/access"
	"github.com/tradersutopia/billingd/internal/database"
	"github.com/tradersutopia/billingd/internal/model"
	"github.com/tradersutopia/billingd/internal/reconcile"
	"github.com/tradersutopia/billingd/internal/store"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	ch    chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan struct{}, 16)}
}

func (n *recordingNotifier) Notify(ctx context.Context, accountID int64, kind, title, message, metadata string) {
	n.mu.Lock()
	n.calls = append(n.calls, kind)
	n.mu.Unlock()
	n.ch <- struct{}{}
}

func (n *recordingNotifier) waitForCall(t *testing.T) {
	t.Helper()
	select {
	case <-n.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	db       *sql.DB
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	events   *store.EventStore
	eval     *access.Evaluator
	notifier *recordingNotifier
	ingestor *Ingestor
}

func setup(t *testing.T, allowedProducts []string) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		accounts: store.NewAccountStore(db),
		subs:     store.NewSubscriptionStore(db),
		events:   store.NewEventStore(db),
		notifier: newRecordingNotifier(),
	}
	cache := access.NewCache(access.DefaultCacheWindow)
	f.eval = access.NewEvaluator(f.accounts, f.subs, cache, nil, allowedProducts, nil)
	rec := reconcile.New(f.accounts, f.subs, nil, nil)
	f.ingestor = New(f.events, rec, f.eval, f.notifier, nil, nil)
	return f
}

func (f *fixture) linkedAccount(t *testing.T, customerID string) *model.Account {
	t.Helper()
	a, err := f.accounts.Create("user_"+customerID, customerID+"@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := f.accounts.UpdateStripeCustomerID(a.ID, customerID); err != nil {
		t.Fatalf("link customer: %v", err)
	}
	return a
}

func subscriptionEvent(id, eventType, subID, customer, status string, occurredAt time.Time, periodEnd time.Time) Event {
	return Event{
		ID:         id,
		Type:       eventType,
		OccurredAt: occurredAt,
		Data: json.RawMessage(fmt.Sprintf(
			`{"id":%q,"customer":%q,"status":%q,"current_period_end":%d,"items":{"data":[{"price":{"product":"prod_A"}}]}}`,
			subID, customer, status, periodEnd.Unix())),
	}
}

func TestIngestIdempotentRedelivery(t *testing.T) {
	f := setup(t, nil)
	a := f.linkedAccount(t, "cus_1")

	now := time.Now().UTC().Truncate(time.Second)
	ev := Event{
		ID:         "evt_1",
		Type:       "invoice.paid",
		OccurredAt: now,
		Data: json.RawMessage(fmt.Sprintf(
			`{"id":"in_1","customer":"cus_1","subscription":"sub_1","paid":true,"period_end":%d}`,
			now.Add(30*24*time.Hour).Unix())),
	}

	if err := f.ingestor.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	f.notifier.waitForCall(t)

	first, _ := f.subs.GetByAccountID(a.ID)

	// Redelivery: same state, no second notification.
	if err := f.ingestor.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("redelivery must succeed: %v", err)
	}

	second, _ := f.subs.GetByAccountID(a.ID)
	if first.Status != second.Status || !first.LastReconciledAt.Equal(*second.LastReconciledAt) {
		t.Error("redelivery changed subscription state")
	}
	if got := f.notifier.count(); got != 1 {
		t.Errorf("notifier calls = %d, want 1", got)
	}
}

func TestIngestUnknownTypeAccepted(t *testing.T) {
	f := setup(t, nil)

	ev := Event{
		ID:         "evt_1",
		Type:       "entitlements.active_entitlement_summary.updated",
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	if err := f.ingestor.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("unknown type must not fail: %v", err)
	}

	applied, _ := f.events.Applied("evt_1")
	if !applied {
		t.Error("unknown type should be marked applied")
	}
}

func TestIngestValidationErrorDropped(t *testing.T) {
	f := setup(t, nil)

	ev := Event{
		ID:         "evt_1",
		Type:       "customer.subscription.updated",
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{"id":"","customer":""}`),
	}
	err := f.ingestor.Ingest(context.Background(), ev)
	if !reconcile.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// Dropped means redelivery is a clean duplicate.
	applied, _ := f.events.Applied("evt_1")
	if !applied {
		t.Error("validation failure should still mark the event applied")
	}
	if err := f.ingestor.Ingest(context.Background(), ev); err != nil {
		t.Errorf("redelivery of dropped event: %v", err)
	}
}

func TestIngestInvalidatesCachedDecision(t *testing.T) {
	f := setup(t, nil)
	a := f.linkedAccount(t, "cus_1")

	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)

	if err := f.ingestor.Ingest(context.Background(),
		subscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "cus_1", "active", now, end)); err != nil {
		t.Fatalf("ingest created: %v", err)
	}

	d, err := f.eval.Evaluate(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.HasAccess {
		t.Fatalf("decision = %+v, want access", d)
	}

	// Cancellation must bust the cached positive decision immediately.
	if err := f.ingestor.Ingest(context.Background(),
		subscriptionEvent("evt_2", "customer.subscription.deleted", "sub_1", "cus_1", "canceled", now.Add(time.Minute), end)); err != nil {
		t.Fatalf("ingest deleted: %v", err)
	}
	f.notifier.waitForCall(t)

	d, err = f.eval.Evaluate(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("evaluate after cancel: %v", err)
	}
	if d.HasAccess || d.Reason != access.ReasonCancelled {
		t.Errorf("decision = %+v, want no access / cancelled", d)
	}
}

func TestIngestCheckoutThenDeleteScenario(t *testing.T) {
	f := setup(t, []string{"prod_A"})

	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)

	// checkout.session.completed provisions cus_1 with sub_1 / prod_A.
	checkout := Event{
		ID:         "evt_1",
		Type:       "checkout.session.completed",
		OccurredAt: now,
		Data: json.RawMessage(
			`{"id":"cs_1","mode":"subscription","customer":"cus_1","subscription":"sub_1",
			  "client_reference_id":"user_1","customer_details":{"email":"alice@example.com"},
			  "metadata":{"product_id":"prod_A"}}`),
	}
	if err := f.ingestor.Ingest(context.Background(), checkout); err != nil {
		t.Fatalf("ingest checkout: %v", err)
	}
	f.notifier.waitForCall(t)

	d, err := f.eval.EvaluateByExternalRef(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.HasAccess {
		t.Fatalf("decision = %+v, want access after checkout", d)
	}

	// customer.subscription.deleted revokes it.
	if err := f.ingestor.Ingest(context.Background(),
		subscriptionEvent("evt_2", "customer.subscription.deleted", "sub_1", "cus_1", "canceled", now.Add(time.Hour), end)); err != nil {
		t.Fatalf("ingest deleted: %v", err)
	}

	d, err = f.eval.EvaluateByExternalRef(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("evaluate after delete: %v", err)
	}
	if d.HasAccess || d.Reason != access.ReasonCancelled {
		t.Errorf("decision = %+v, want no access / cancelled", d)
	}
}

func TestIngestMissingEventID(t *testing.T) {
	f := setup(t, nil)

	err := f.ingestor.Ingest(context.Background(), Event{Type: "invoice.paid"})
	if err == nil {
		t.Fatal("expected error for missing event id")
	}
}
