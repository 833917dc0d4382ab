package model

import "time"

// SubscriptionStatus is the local subscription state vocabulary. Provider
// statuses are mapped into this set at the ingest boundary and never leak
// past it.
type SubscriptionStatus string

const (
	StatusFree      SubscriptionStatus = "free"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPaused    SubscriptionStatus = "paused"
	StatusExpired   SubscriptionStatus = "expired"
)

type Account struct {
	ID               int64     `json:"id"`
	ExternalRef      string    `json:"external_ref"`
	Email            string    `json:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id"`
	IsAdmin          bool      `json:"is_admin"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Subscription is the canonical, locally owned view of an account's
// billing state. One row per account; the reconciler is the only writer.
type Subscription struct {
	ID                   int64              `json:"id"`
	AccountID            int64              `json:"account_id"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id"`
	StripeProductID      *string            `json:"stripe_product_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end"`
	AutoRenew            bool               `json:"auto_renew"`
	CancelledAt          *time.Time         `json:"cancelled_at"`
	LastReconciledAt     *time.Time         `json:"last_reconciled_at"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// WebhookEvent records an already-applied provider event id. A row exists
// only once the reconciler's write for that event has committed, so the
// table doubles as the idempotency guard.
type WebhookEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	AppliedAt time.Time `json:"applied_at"`
}

type PushSubscription struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is the audit record of a notifier call. Delivery is
// best-effort; the row is written whether or not any push endpoint
// accepted the message.
type Notification struct {
	ID        string    `json:"id"`
	AccountID int64     `json:"account_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupStatus tracks a snapshot through upload.
type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusUploading BackupStatus = "uploading"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
)

// Backup is one encrypted database snapshot in object storage.
type Backup struct {
	ID          int64        `json:"id"`
	Filename    string       `json:"filename"`
	S3Key       string       `json:"s3_key"`
	Status      BackupStatus `json:"status"`
	SizeBytes   int64        `json:"size_bytes"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
