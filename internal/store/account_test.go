package store

import (
	"testing"
)

func TestAccountCreate(t *testing.T) {
	as := NewAccountStore(setupTestDB(t))

	a, err := as.Create("user_1", "alice@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if a.ExternalRef != "user_1" {
		t.Errorf("external_ref = %q, want %q", a.ExternalRef, "user_1")
	}
	if a.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", a.Email, "alice@example.com")
	}
	if a.IsAdmin {
		t.Error("new account should not be admin")
	}
	if a.StripeCustomerID != nil {
		t.Error("new account should have no stripe customer id")
	}
}

func TestAccountGetByExternalRef(t *testing.T) {
	as := NewAccountStore(setupTestDB(t))

	created, _ := as.Create("user_1", "alice@example.com")

	a, err := as.GetByExternalRef("user_1")
	if err != nil {
		t.Fatalf("get by external ref: %v", err)
	}
	if a == nil {
		t.Fatal("expected account, got nil")
	}
	if a.ID != created.ID {
		t.Errorf("id = %d, want %d", a.ID, created.ID)
	}

	missing, err := as.GetByExternalRef("user_999")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown external ref")
	}
}

func TestAccountGetByStripeCustomerID(t *testing.T) {
	as := NewAccountStore(setupTestDB(t))

	created, _ := as.Create("user_1", "alice@example.com")
	if err := as.UpdateStripeCustomerID(created.ID, "cus_123"); err != nil {
		t.Fatalf("update stripe customer id: %v", err)
	}

	a, err := as.GetByStripeCustomerID("cus_123")
	if err != nil {
		t.Fatalf("get by stripe customer id: %v", err)
	}
	if a == nil {
		t.Fatal("expected account, got nil")
	}
	if a.StripeCustomerID == nil || *a.StripeCustomerID != "cus_123" {
		t.Errorf("stripe customer id not persisted")
	}
}

func TestAccountSetAdmin(t *testing.T) {
	as := NewAccountStore(setupTestDB(t))

	a, _ := as.Create("user_1", "alice@example.com")
	if err := as.SetAdmin(a.ID, true); err != nil {
		t.Fatalf("set admin: %v", err)
	}

	got, _ := as.GetByID(a.ID)
	if !got.IsAdmin {
		t.Error("expected is_admin = true")
	}
}

func TestAccountDelete(t *testing.T) {
	as := NewAccountStore(setupTestDB(t))

	a, _ := as.Create("user_1", "alice@example.com")
	if err := as.Delete(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := as.GetByID(a.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}
