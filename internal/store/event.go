package store

import (
	"database/sql"
	"fmt"

	"github.com/tradersutopia/billingd/internal/model"
)

// EventStore tracks applied provider event ids. Rows are written inside the
// same transaction as the subscription upsert (see SubscriptionStore.Reconcile)
// so an event is never marked applied before its effects are durable.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Applied reports whether eventID has already been fully processed.
func (s *EventStore) Applied(eventID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM webhook_events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event applied: %w", err)
	}
	return true, nil
}

// MarkApplied records an event that completed without a subscription write
// (unknown customer, no-op types). Idempotent.
func (s *EventStore) MarkApplied(eventID, eventType string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO webhook_events (event_id, event_type) VALUES (?, ?)`,
		eventID, eventType,
	)
	if err != nil {
		return fmt.Errorf("mark event applied: %w", err)
	}
	return nil
}

func (s *EventStore) Get(eventID string) (*model.WebhookEvent, error) {
	row := s.db.QueryRow(
		`SELECT event_id, event_type, applied_at FROM webhook_events WHERE event_id = ?`,
		eventID,
	)
	var ev model.WebhookEvent
	err := row.Scan(&ev.EventID, &ev.EventType, &ev.AppliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}
