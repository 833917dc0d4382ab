package store

import "testing"

func TestPushSubscriptionUpsertAndList(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ps := NewPushSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")

	sub, err := ps.Upsert(a.ID, "https://push.example.com/ep1", "p256dh-key", "auth-key")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.Endpoint != "https://push.example.com/ep1" {
		t.Errorf("endpoint = %q", sub.Endpoint)
	}

	subs, err := ps.ListByAccountID(a.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
}

func TestPushSubscriptionUpsertRebindsKeys(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ps := NewPushSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")

	if _, err := ps.Upsert(a.ID, "https://push.example.com/ep1", "old-p256dh", "old-auth"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	sub, err := ps.Upsert(a.ID, "https://push.example.com/ep1", "new-p256dh", "new-auth")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if sub.P256dhKey != "new-p256dh" || sub.AuthKey != "new-auth" {
		t.Errorf("keys not rebound: %q %q", sub.P256dhKey, sub.AuthKey)
	}

	subs, _ := ps.ListByAccountID(a.ID)
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription after rebind, got %d", len(subs))
	}
}

func TestPushSubscriptionDeleteByEndpoint(t *testing.T) {
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ps := NewPushSubscriptionStore(db)

	a, _ := as.Create("user_1", "alice@example.com")
	if _, err := ps.Upsert(a.ID, "https://push.example.com/ep1", "k", "a"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := ps.DeleteByEndpoint("https://push.example.com/ep1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	subs, _ := ps.ListByAccountID(a.ID)
	if len(subs) != 0 {
		t.Errorf("expected 0 subscriptions after delete, got %d", len(subs))
	}

	// Deleting an unknown endpoint is a no-op.
	if err := ps.DeleteByEndpoint("https://push.example.com/missing"); err != nil {
		t.Errorf("delete unknown endpoint: %v", err)
	}
}
