package store

import (
	"database/sql"
	"fmt"

	"github.com/tradersutopia/billingd/internal/model"
)

type PushSubscriptionStore struct {
	db *sql.DB
}

func NewPushSubscriptionStore(db *sql.DB) *PushSubscriptionStore {
	return &PushSubscriptionStore{db: db}
}

const pushCols = `id, account_id, endpoint, p256dh_key, auth_key, created_at`

func scanPushSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var ps model.PushSubscription
	err := scanner.Scan(&ps.ID, &ps.AccountID, &ps.Endpoint, &ps.P256dhKey, &ps.AuthKey, &ps.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

// Upsert registers a push endpoint for an account. Browsers periodically
// rotate subscription keys for the same endpoint, so a conflict rebinds
// rather than failing the unique constraint.
func (s *PushSubscriptionStore) Upsert(accountID int64, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (account_id, endpoint, p256dh_key, auth_key)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET account_id = excluded.account_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		accountID, endpoint, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return s.getByEndpoint(endpoint)
}

func (s *PushSubscriptionStore) getByEndpoint(endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRow(`SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	ps, err := scanPushSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return ps, nil
}

func (s *PushSubscriptionStore) ListByAccountID(accountID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+pushCols+` FROM push_subscriptions WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by account: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		ps, err := scanPushSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *ps)
	}
	return subs, rows.Err()
}

func (s *PushSubscriptionStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
