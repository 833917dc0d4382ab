package reconcile

import (
	"strings"

	"github.com/tradersutopia/billingd/internal/model"
)

// mapProviderStatus translates the provider's status vocabulary into the
// local enum. Unknown statuses fail closed: they must never grant access.
func mapProviderStatus(status string) model.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return model.StatusActive
	case "past_due", "unpaid":
		return model.StatusPastDue
	case "canceled", "cancelled":
		return model.StatusCancelled
	case "paused":
		return model.StatusPaused
	case "incomplete", "incomplete_expired":
		return model.StatusExpired
	default:
		return model.StatusExpired
	}
}

// inActiveSet reports whether the provider still considers the
// subscription paying. Used by the invoice-failed grace policy: access is
// revoked only once the subscription has left this set.
func inActiveSet(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	default:
		return false
	}
}
