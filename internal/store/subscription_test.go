package store

import (
	"testing"
	"time"

	"github.com/tradersutopia/billingd/internal/model"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestSubscriptionReconcileInsert(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(30 * 24 * time.Hour)

	applied, err := ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		StripeProductID:      strPtr("prod_A"),
		Status:               model.StatusActive,
		CurrentPeriodStart:   timePtr(now),
		CurrentPeriodEnd:     timePtr(end),
		AutoRenew:            true,
		OccurredAt:           now,
	}, "evt_1", "customer.subscription.created")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !applied {
		t.Fatal("expected insert to apply")
	}

	sub, err := ss.GetByAccountID(a.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub == nil {
		t.Fatal("expected subscription, got nil")
	}
	if sub.Status != model.StatusActive {
		t.Errorf("status = %q, want %q", sub.Status, model.StatusActive)
	}
	if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID != "sub_1" {
		t.Error("stripe subscription id not persisted")
	}
	if sub.LastReconciledAt == nil || !sub.LastReconciledAt.Equal(now) {
		t.Errorf("last_reconciled_at = %v, want %v", sub.LastReconciledAt, now)
	}
}

func TestSubscriptionReconcileStaleEventDiscarded(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	t1 := time.Now().UTC().Truncate(time.Second)
	t0 := t1.Add(-time.Hour)

	// Newer event lands first.
	applied, err := ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusActive,
		AutoRenew:            true,
		OccurredAt:           t1,
	}, "evt_new", "customer.subscription.updated")
	if err != nil || !applied {
		t.Fatalf("reconcile newer: applied=%v err=%v", applied, err)
	}

	// Older cancellation delivered late must not regress state.
	applied, err = ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusCancelled,
		CancelledAt:          timePtr(t0),
		OccurredAt:           t0,
	}, "evt_old", "customer.subscription.deleted")
	if err != nil {
		t.Fatalf("reconcile older: %v", err)
	}
	if applied {
		t.Error("stale event should not apply")
	}

	sub, _ := ss.GetByAccountID(a.ID)
	if sub.Status != model.StatusActive {
		t.Errorf("status = %q, want %q after stale event", sub.Status, model.StatusActive)
	}

	// The stale event is still marked applied so the provider stops retrying.
	es := NewEventStore(db)
	done, err := es.Applied("evt_old")
	if err != nil {
		t.Fatalf("check applied: %v", err)
	}
	if !done {
		t.Error("stale event should still be marked applied")
	}
}

func TestSubscriptionReconcilePreservesWindowOnDelete(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	t0 := time.Now().UTC().Truncate(time.Second)
	end := t0.Add(30 * 24 * time.Hour)

	ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusActive,
		CurrentPeriodStart:   timePtr(t0),
		CurrentPeriodEnd:     timePtr(end),
		AutoRenew:            true,
		OccurredAt:           t0,
	}, "evt_1", "customer.subscription.created")

	// Deletion carries no window fields; existing ones must survive.
	ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusCancelled,
		CancelledAt:          timePtr(t0.Add(time.Minute)),
		OccurredAt:           t0.Add(time.Minute),
	}, "evt_2", "customer.subscription.deleted")

	sub, _ := ss.GetByAccountID(a.ID)
	if sub.Status != model.StatusCancelled {
		t.Errorf("status = %q, want cancelled", sub.Status)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(end) {
		t.Errorf("current_period_end lost on delete: %v", sub.CurrentPeriodEnd)
	}
	if sub.CancelledAt == nil {
		t.Error("cancelled_at not set")
	}
}

func TestSubscriptionReconcileSubscriptionRefNeverCleared(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	t0 := time.Now().UTC().Truncate(time.Second)

	ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusActive,
		AutoRenew:            true,
		OccurredAt:           t0,
	}, "evt_1", "customer.subscription.created")

	// An invoice event may carry no subscription ref.
	ss.Reconcile(a.ID, SubscriptionUpdate{
		Status:     model.StatusActive,
		AutoRenew:  true,
		OccurredAt: t0.Add(time.Minute),
	}, "evt_2", "invoice.paid")

	sub, _ := ss.GetByAccountID(a.ID)
	if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID != "sub_1" {
		t.Error("subscription ref must not be cleared by a ref-less event")
	}
}

func TestSubscriptionDemoteExpired(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	past := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusActive,
		CurrentPeriodEnd:     timePtr(past),
		AutoRenew:            true,
		OccurredAt:           past.Add(-30 * 24 * time.Hour),
	}, "evt_1", "customer.subscription.created")

	if err := ss.DemoteExpired(a.ID, time.Now().UTC()); err != nil {
		t.Fatalf("demote expired: %v", err)
	}

	sub, _ := ss.GetByAccountID(a.ID)
	if sub.Status != model.StatusExpired {
		t.Errorf("status = %q, want expired", sub.Status)
	}
}

func TestSubscriptionDemoteExpiredLeavesCurrentWindow(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusActive,
		CurrentPeriodEnd:     timePtr(now.Add(24 * time.Hour)),
		AutoRenew:            true,
		OccurredAt:           now,
	}, "evt_1", "customer.subscription.created")

	if err := ss.DemoteExpired(a.ID, now); err != nil {
		t.Fatalf("demote expired: %v", err)
	}

	sub, _ := ss.GetByAccountID(a.ID)
	if sub.Status != model.StatusActive {
		t.Errorf("status = %q, want active (window not yet passed)", sub.Status)
	}
}

func TestSubscriptionGetByStripeID(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	ss.Reconcile(a.ID, SubscriptionUpdate{
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               model.StatusActive,
		AutoRenew:            true,
		OccurredAt:           now,
	}, "evt_1", "customer.subscription.created")

	sub, err := ss.GetByStripeID("sub_1")
	if err != nil {
		t.Fatalf("get by stripe id: %v", err)
	}
	if sub == nil || sub.AccountID != a.ID {
		t.Fatal("expected subscription for sub_1")
	}
}
