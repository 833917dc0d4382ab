package store

import (
	"testing"
)

func TestEventAppliedLifecycle(t *testing.T) {
	es := NewEventStore(setupTestDB(t))

	applied, err := es.Applied("evt_1")
	if err != nil {
		t.Fatalf("check applied: %v", err)
	}
	if applied {
		t.Error("unseen event should not be applied")
	}

	if err := es.MarkApplied("evt_1", "invoice.paid"); err != nil {
		t.Fatalf("mark applied: %v", err)
	}

	applied, err = es.Applied("evt_1")
	if err != nil {
		t.Fatalf("check applied: %v", err)
	}
	if !applied {
		t.Error("marked event should be applied")
	}

	ev, err := es.Get("evt_1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev == nil || ev.EventType != "invoice.paid" {
		t.Errorf("event = %+v, want type invoice.paid", ev)
	}
}

func TestEventMarkAppliedIdempotent(t *testing.T) {
	es := NewEventStore(setupTestDB(t))

	if err := es.MarkApplied("evt_1", "invoice.paid"); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := es.MarkApplied("evt_1", "invoice.paid"); err != nil {
		t.Fatalf("second mark should be a no-op: %v", err)
	}
}
