package access

import "time"

// Reason explains an access decision. Absence of access is a normal
// outcome, never an error.
type Reason string

const (
	ReasonAdminBypass    Reason = "admin_bypass"
	ReasonActive         Reason = "active"
	ReasonInvalidProduct Reason = "invalid_product"
	ReasonCancelled      Reason = "cancelled"
	ReasonExpired        Reason = "expired"
	ReasonNone           Reason = "none"
)

// Decision is the derived access verdict for one account. It is computed
// from the canonical subscription row and may be cached until ExpiresAt.
type Decision struct {
	AccountID   int64     `json:"account_id"`
	HasAccess   bool      `json:"has_access"`
	Reason      Reason    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Token       string    `json:"token,omitempty"`
}
