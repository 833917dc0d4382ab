package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tradersutopia/billingd/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// SubscriptionUpdate is the full desired state derived from one provider
// event. OccurredAt is the provider's event timestamp and drives the
// last-write-wins guard; it is stored as last_reconciled_at when applied.
type SubscriptionUpdate struct {
	StripeSubscriptionID *string
	StripeProductID      *string
	Status               model.SubscriptionStatus
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	AutoRenew            bool
	CancelledAt          *time.Time
	OccurredAt           time.Time
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var stripeSubID, productID sql.NullString
	var periodStart, periodEnd, cancelledAt, reconciledAt sql.NullTime
	var autoRenew int
	err := scanner.Scan(
		&sub.ID, &sub.AccountID, &stripeSubID, &productID, &sub.Status,
		&periodStart, &periodEnd, &autoRenew, &cancelledAt, &reconciledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeSubID.Valid {
		sub.StripeSubscriptionID = &stripeSubID.String
	}
	if productID.Valid {
		sub.StripeProductID = &productID.String
	}
	if periodStart.Valid {
		sub.CurrentPeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}
	if reconciledAt.Valid {
		sub.LastReconciledAt = &reconciledAt.Time
	}
	sub.AutoRenew = autoRenew != 0
	return &sub, nil
}

const subscriptionCols = `id, account_id, stripe_subscription_id, stripe_product_id, status, current_period_start, current_period_end, auto_renew, cancelled_at, last_reconciled_at, created_at, updated_at`

func (s *SubscriptionStore) GetByAccountID(accountID int64) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ?`,
		accountID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by account: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByStripeID(stripeSubID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`,
		stripeSubID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// Reconcile applies upd to the account's subscription row and marks the
// event applied, in one transaction. The upsert is guarded by OccurredAt:
// a row whose last_reconciled_at is newer than upd.OccurredAt is left
// untouched (the event is stale), but the event is still marked applied so
// the provider stops redelivering it. Returns whether the row changed.
func (s *SubscriptionStore) Reconcile(accountID int64, upd SubscriptionUpdate, eventID, eventType string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	autoRenew := 0
	if upd.AutoRenew {
		autoRenew = 1
	}

	result, err := tx.Exec(`
		INSERT INTO subscriptions (
			account_id, stripe_subscription_id, stripe_product_id, status,
			current_period_start, current_period_end, auto_renew, cancelled_at,
			last_reconciled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			stripe_subscription_id = COALESCE(excluded.stripe_subscription_id, stripe_subscription_id),
			stripe_product_id = COALESCE(excluded.stripe_product_id, stripe_product_id),
			status = excluded.status,
			current_period_start = COALESCE(excluded.current_period_start, current_period_start),
			current_period_end = COALESCE(excluded.current_period_end, current_period_end),
			auto_renew = excluded.auto_renew,
			cancelled_at = COALESCE(excluded.cancelled_at, cancelled_at),
			last_reconciled_at = excluded.last_reconciled_at,
			updated_at = CURRENT_TIMESTAMP
		WHERE last_reconciled_at IS NULL OR last_reconciled_at <= excluded.last_reconciled_at`,
		accountID, upd.StripeSubscriptionID, upd.StripeProductID, string(upd.Status),
		upd.CurrentPeriodStart, upd.CurrentPeriodEnd, autoRenew, upd.CancelledAt,
		upd.OccurredAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert subscription: %w", err)
	}
	applied, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if eventID != "" {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO webhook_events (event_id, event_type) VALUES (?, ?)`,
			eventID, eventType,
		); err != nil {
			return false, fmt.Errorf("mark event applied: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reconcile: %w", err)
	}
	return applied > 0, nil
}

// DemoteExpired flips an active subscription whose paid window has passed
// to expired. Called by the access evaluator when it observes a stale row,
// so a missed webhook never leaves an account silently active.
func (s *SubscriptionStore) DemoteExpired(accountID int64, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE account_id = ? AND status = ? AND current_period_end IS NOT NULL AND current_period_end <= ?`,
		string(model.StatusExpired), accountID, string(model.StatusActive), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("demote expired subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) Delete(accountID int64) error {
	_, err := s.db.Exec(`DELETE FROM subscriptions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
