package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tradersutopia/billingd/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationCols = `id, account_id, kind, title, message, metadata, created_at`

func (s *NotificationStore) Create(accountID int64, kind, title, message, metadata string) (*model.Notification, error) {
	if metadata == "" {
		metadata = "{}"
	}
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO notifications (id, account_id, kind, title, message, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		id, accountID, kind, title, message, metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return s.GetByID(id)
}

func (s *NotificationStore) GetByID(id string) (*model.Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	var n model.Notification
	err := row.Scan(&n.ID, &n.AccountID, &n.Kind, &n.Title, &n.Message, &n.Metadata, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

func (s *NotificationStore) ListByAccountID(accountID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Kind, &n.Title, &n.Message, &n.Metadata, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountByKind returns how many notifications of a kind exist for an account.
// The ingest idempotency tests use this to assert no double-send.
func (s *NotificationStore) CountByKind(accountID int64, kind string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE account_id = ? AND kind = ?`,
		accountID, kind,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}
