package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradersutopia/billingd/internal/model"
	"github.com/tradersutopia/billingd/internal/store"
)

// defaultWindow is the conservative paid window assumed when the provider
// omits a period end. Short enough that a missed follow-up event cannot
// grant access indefinitely.
const defaultWindow = 30 * 24 * time.Hour

// ProviderSubscription is the reconciler's view of a subscription fetched
// directly from the billing provider, used only as a consistency fallback.
type ProviderSubscription struct {
	ID                 string
	Customer           string
	Status             string
	ProductID          string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// ProviderClient is the read-only fallback to the billing provider. It is
// never used on the primary write path; a nil client disables fallback
// lookups and the reconciler degrades to payload-only reconciliation.
type ProviderClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}

// Notice describes a user-facing notification the ingest layer should hand
// to the notifier after a successful apply. Delivery is best-effort.
type Notice struct {
	Kind     string
	Title    string
	Message  string
	Metadata string
}

// Outcome reports what a reconciliation did. AccountID is 0 when the event
// could not be tied to a local account (logged and skipped, not an error).
type Outcome struct {
	AccountID int64
	Applied   bool
	Status    model.SubscriptionStatus
	Notice    *Notice
}

// Reconciler maps provider events onto canonical subscription rows. It is
// the only writer of the subscriptions table.
type Reconciler struct {
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	provider ProviderClient
	logger   *slog.Logger
}

func New(accounts *store.AccountStore, subs *store.SubscriptionStore, provider ProviderClient, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{accounts: accounts, subs: subs, provider: provider, logger: logger}
}

// HandleSubscriptionLifecycle processes customer.subscription.* events.
func (r *Reconciler) HandleSubscriptionLifecycle(ctx context.Context, eventID, eventType string, occurredAt time.Time, raw json.RawMessage) (*Outcome, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, validationErrorf("decode subscription payload: %v", err)
	}
	if p.ID == "" || p.Customer == "" {
		return nil, validationErrorf("subscription event %s missing identifiers", eventID)
	}

	account, err := r.resolveAccount(p.Customer, p.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		r.logger.Warn("subscription event for unknown customer",
			"event_id", eventID, "event_type", eventType, "customer", p.Customer)
		return &Outcome{}, nil
	}

	upd := store.SubscriptionUpdate{
		StripeSubscriptionID: &p.ID,
		AutoRenew:            !p.CancelAtPeriodEnd,
		OccurredAt:           occurredAt,
	}
	if product := p.firstProductID(); product != "" {
		upd.StripeProductID = &product
	}
	start, end := p.periodWindow()
	if start > 0 {
		t := time.Unix(start, 0).UTC()
		upd.CurrentPeriodStart = &t
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		upd.CurrentPeriodEnd = &t
	}

	var notice *Notice
	switch eventType {
	case "customer.subscription.deleted":
		upd.Status = model.StatusCancelled
		upd.AutoRenew = false
		cancelledAt := occurredAt
		if p.CanceledAt > 0 {
			cancelledAt = time.Unix(p.CanceledAt, 0).UTC()
		}
		upd.CancelledAt = &cancelledAt
		notice = &Notice{
			Kind:    "subscription_cancelled",
			Title:   "Subscription cancelled",
			Message: "Your TradersUtopia membership has ended.",
		}
	case "customer.subscription.paused":
		upd.Status = model.StatusPaused
		// Window fields stay untouched; pausing revokes access instantly
		// without losing the paid period.
		upd.CurrentPeriodStart = nil
		upd.CurrentPeriodEnd = nil
	case "customer.subscription.resumed":
		upd.Status = model.StatusActive
		upd.CurrentPeriodStart = nil
		upd.CurrentPeriodEnd = nil
	default: // created / updated
		if p.PauseCollection != nil && p.PauseCollection.Behavior != "" {
			upd.Status = model.StatusPaused
		} else {
			upd.Status = mapProviderStatus(p.Status)
		}
		if upd.Status == model.StatusActive && end == 0 {
			// Provider inconsistency: an active subscription without a
			// period end. Assume a conservative window instead of failing.
			r.logger.Warn("active subscription missing period end, assuming default window",
				"event_id", eventID, "subscription", p.ID)
			t := occurredAt.Add(defaultWindow)
			upd.CurrentPeriodEnd = &t
		}
	}

	applied, err := r.subs.Reconcile(account.ID, upd, eventID, eventType)
	if err != nil {
		return nil, fmt.Errorf("reconcile subscription: %w", err)
	}
	if !applied {
		notice = nil
	}
	return &Outcome{AccountID: account.ID, Applied: applied, Status: upd.Status, Notice: notice}, nil
}

// HandleInvoice processes invoice.* events.
func (r *Reconciler) HandleInvoice(ctx context.Context, eventID, eventType string, occurredAt time.Time, raw json.RawMessage) (*Outcome, error) {
	var p invoicePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, validationErrorf("decode invoice payload: %v", err)
	}
	if p.Customer == "" {
		return nil, validationErrorf("invoice event %s missing customer", eventID)
	}

	account, err := r.resolveAccount(p.Customer, p.subscriptionID())
	if err != nil {
		return nil, err
	}
	if account == nil {
		r.logger.Warn("invoice event for unknown customer",
			"event_id", eventID, "event_type", eventType, "customer", p.Customer)
		return &Outcome{}, nil
	}

	switch eventType {
	case "invoice.paid", "invoice.payment_succeeded":
		if !p.Paid {
			// Event type promises a successful charge but the payload
			// disagrees; do not force the subscription active from it.
			r.logger.Warn("invoice event not marked paid, ignoring",
				"event_id", eventID, "event_type", eventType, "invoice", p.ID)
			return &Outcome{AccountID: account.ID}, nil
		}
		return r.applyInvoicePaid(ctx, account, &p, eventID, eventType, occurredAt)
	case "invoice.payment_failed":
		return r.applyInvoiceFailed(ctx, account, &p, eventID, eventType, occurredAt)
	case "invoice.upcoming":
		// Renewal reminder only; no state change.
		return &Outcome{AccountID: account.ID, Notice: &Notice{
			Kind:    "renewal_upcoming",
			Title:   "Upcoming renewal",
			Message: "Your TradersUtopia membership renews soon.",
		}}, nil
	default:
		return &Outcome{AccountID: account.ID}, nil
	}
}

// applyInvoicePaid re-derives subscription state from the paid invoice.
// Invoices can race ahead of the subscription.updated event, so a
// successful charge forces the row active for the invoiced period. When a
// provider client is available the linked subscription is fetched for an
// authoritative view.
func (r *Reconciler) applyInvoicePaid(ctx context.Context, account *model.Account, p *invoicePayload, eventID, eventType string, occurredAt time.Time) (*Outcome, error) {
	upd := store.SubscriptionUpdate{
		Status:     model.StatusActive,
		AutoRenew:  true,
		OccurredAt: occurredAt,
	}
	if subID := p.subscriptionID(); subID != "" {
		upd.StripeSubscriptionID = &subID
	}
	if product := p.firstProductID(); product != "" {
		upd.StripeProductID = &product
	}
	if p.PeriodStart > 0 {
		t := time.Unix(p.PeriodStart, 0).UTC()
		upd.CurrentPeriodStart = &t
	}
	if p.PeriodEnd > 0 {
		t := time.Unix(p.PeriodEnd, 0).UTC()
		upd.CurrentPeriodEnd = &t
	}

	if r.provider != nil && p.subscriptionID() != "" {
		if ps, err := r.provider.GetSubscription(ctx, p.subscriptionID()); err != nil {
			// Fallback only; payload-derived state is still written.
			r.logger.Warn("provider lookup failed during invoice re-sync",
				"event_id", eventID, "subscription", p.subscriptionID(), "error", err)
		} else if ps != nil {
			upd.Status = mapProviderStatus(ps.Status)
			upd.AutoRenew = !ps.CancelAtPeriodEnd
			if ps.ProductID != "" {
				upd.StripeProductID = &ps.ProductID
			}
			if !ps.CurrentPeriodStart.IsZero() {
				t := ps.CurrentPeriodStart.UTC()
				upd.CurrentPeriodStart = &t
			}
			if !ps.CurrentPeriodEnd.IsZero() {
				t := ps.CurrentPeriodEnd.UTC()
				upd.CurrentPeriodEnd = &t
			}
		}
	}

	if upd.Status == model.StatusActive && upd.CurrentPeriodEnd == nil {
		r.logger.Warn("paid invoice missing period end, assuming default window",
			"event_id", eventID, "invoice", p.ID)
		t := occurredAt.Add(defaultWindow)
		upd.CurrentPeriodEnd = &t
	}

	applied, err := r.subs.Reconcile(account.ID, upd, eventID, eventType)
	if err != nil {
		return nil, fmt.Errorf("reconcile invoice paid: %w", err)
	}
	out := &Outcome{AccountID: account.ID, Applied: applied, Status: upd.Status}
	if applied && upd.Status == model.StatusActive {
		out.Notice = &Notice{
			Kind:     "payment_success",
			Title:    "Payment received",
			Message:  "Your TradersUtopia membership is active.",
			Metadata: fmt.Sprintf(`{"invoice":%q}`, p.ID),
		}
	}
	return out, nil
}

// applyInvoiceFailed applies the grace policy: a failed attempt alone never
// revokes access. State moves to past_due only once the provider has no
// retry scheduled, and access is ultimately revoked by the subscription
// lifecycle events that follow.
func (r *Reconciler) applyInvoiceFailed(ctx context.Context, account *model.Account, p *invoicePayload, eventID, eventType string, occurredAt time.Time) (*Outcome, error) {
	notice := &Notice{
		Kind:     "payment_failed",
		Title:    "Payment failed",
		Message:  "We could not charge your payment method. Please update it to keep access.",
		Metadata: fmt.Sprintf(`{"invoice":%q,"attempt":%d}`, p.ID, p.AttemptCount),
	}

	if p.NextPaymentAttempt > 0 {
		// Provider will retry; keep current access.
		r.logger.Info("invoice payment failed, retry pending",
			"event_id", eventID, "invoice", p.ID, "attempt", p.AttemptCount)
		return &Outcome{AccountID: account.ID, Notice: notice}, nil
	}

	if r.provider != nil && p.subscriptionID() != "" {
		if ps, err := r.provider.GetSubscription(ctx, p.subscriptionID()); err == nil && ps != nil && inActiveSet(ps.Status) {
			// Provider still reports the subscription paying; do not demote.
			return &Outcome{AccountID: account.ID, Notice: notice}, nil
		}
	}

	upd := store.SubscriptionUpdate{
		Status:     model.StatusPastDue,
		AutoRenew:  true,
		OccurredAt: occurredAt,
	}
	if subID := p.subscriptionID(); subID != "" {
		upd.StripeSubscriptionID = &subID
	}
	applied, err := r.subs.Reconcile(account.ID, upd, eventID, eventType)
	if err != nil {
		return nil, fmt.Errorf("reconcile invoice failed: %w", err)
	}
	if !applied {
		notice = nil
	}
	return &Outcome{AccountID: account.ID, Applied: applied, Status: model.StatusPastDue, Notice: notice}, nil
}

// HandleCheckoutCompleted provisions the subscription row for a finished
// checkout. The session's client_reference_id carries the application's
// account ref; the account is created on the fly when checkout ran before
// the account store heard of the user.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, eventID string, occurredAt time.Time, raw json.RawMessage) (*Outcome, error) {
	var p checkoutSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, validationErrorf("decode checkout session payload: %v", err)
	}
	if p.Mode != "" && p.Mode != "subscription" {
		return &Outcome{}, nil
	}
	if p.Customer == "" {
		return nil, validationErrorf("checkout session %s missing customer", p.ID)
	}

	account, err := r.accounts.GetByStripeCustomerID(p.Customer)
	if err != nil {
		return nil, fmt.Errorf("get account by customer: %w", err)
	}
	if account == nil && p.ClientReferenceID != "" {
		account, err = r.accounts.GetByExternalRef(p.ClientReferenceID)
		if err != nil {
			return nil, fmt.Errorf("get account by external ref: %w", err)
		}
	}
	if account == nil {
		email := p.email()
		if email == "" {
			return nil, validationErrorf("checkout session %s has no account linkage", p.ID)
		}
		account, err = r.accounts.GetByEmail(email)
		if err != nil {
			return nil, fmt.Errorf("get account by email: %w", err)
		}
		if account == nil {
			ref := p.ClientReferenceID
			if ref == "" {
				ref = p.Customer
			}
			account, err = r.accounts.Create(ref, email)
			if err != nil {
				return nil, fmt.Errorf("create account: %w", err)
			}
		}
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID != p.Customer {
		if err := r.accounts.UpdateStripeCustomerID(account.ID, p.Customer); err != nil {
			return nil, fmt.Errorf("link stripe customer: %w", err)
		}
	}

	upd := store.SubscriptionUpdate{
		Status:     model.StatusActive,
		AutoRenew:  true,
		OccurredAt: occurredAt,
	}
	if p.Subscription != "" {
		upd.StripeSubscriptionID = &p.Subscription
	}
	if product := p.Metadata["product_id"]; product != "" {
		upd.StripeProductID = &product
	}

	// The session payload has no billing window; fetch the subscription for
	// the real one, falling back to the conservative default.
	if r.provider != nil && p.Subscription != "" {
		if ps, err := r.provider.GetSubscription(ctx, p.Subscription); err != nil {
			r.logger.Warn("provider lookup failed after checkout",
				"event_id", eventID, "subscription", p.Subscription, "error", err)
		} else if ps != nil {
			upd.Status = mapProviderStatus(ps.Status)
			upd.AutoRenew = !ps.CancelAtPeriodEnd
			if ps.ProductID != "" {
				upd.StripeProductID = &ps.ProductID
			}
			if !ps.CurrentPeriodStart.IsZero() {
				t := ps.CurrentPeriodStart.UTC()
				upd.CurrentPeriodStart = &t
			}
			if !ps.CurrentPeriodEnd.IsZero() {
				t := ps.CurrentPeriodEnd.UTC()
				upd.CurrentPeriodEnd = &t
			}
		}
	}
	if upd.Status == model.StatusActive && upd.CurrentPeriodEnd == nil {
		t := occurredAt.Add(defaultWindow)
		upd.CurrentPeriodEnd = &t
	}

	applied, err := r.subs.Reconcile(account.ID, upd, eventID, "checkout.session.completed")
	if err != nil {
		return nil, fmt.Errorf("reconcile checkout: %w", err)
	}
	out := &Outcome{AccountID: account.ID, Applied: applied, Status: upd.Status}
	if applied {
		out.Notice = &Notice{
			Kind:    "subscription_started",
			Title:   "Welcome to TradersUtopia",
			Message: "Your membership is active. Enjoy full access.",
		}
	}
	return out, nil
}

// HandleCustomer processes customer.created/updated/deleted.
func (r *Reconciler) HandleCustomer(ctx context.Context, eventID, eventType string, occurredAt time.Time, raw json.RawMessage) (*Outcome, error) {
	var p customerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, validationErrorf("decode customer payload: %v", err)
	}
	if p.ID == "" {
		return nil, validationErrorf("customer event %s missing id", eventID)
	}

	switch eventType {
	case "customer.deleted":
		account, err := r.accounts.GetByStripeCustomerID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("get account by customer: %w", err)
		}
		if account == nil {
			return &Outcome{}, nil
		}
		// Terminal: the paying entity is gone, revoke regardless of
		// whatever the subscription row says.
		cancelledAt := occurredAt
		upd := store.SubscriptionUpdate{
			Status:      model.StatusCancelled,
			AutoRenew:   false,
			CancelledAt: &cancelledAt,
			OccurredAt:  occurredAt,
		}
		applied, err := r.subs.Reconcile(account.ID, upd, eventID, eventType)
		if err != nil {
			return nil, fmt.Errorf("reconcile customer deleted: %w", err)
		}
		return &Outcome{AccountID: account.ID, Applied: applied, Status: model.StatusCancelled}, nil

	default: // created / updated
		if p.Email == "" {
			return &Outcome{}, nil
		}
		account, err := r.accounts.GetByEmail(p.Email)
		if err != nil {
			return nil, fmt.Errorf("get account by email: %w", err)
		}
		if account == nil {
			return &Outcome{}, nil
		}
		if account.StripeCustomerID == nil {
			if err := r.accounts.UpdateStripeCustomerID(account.ID, p.ID); err != nil {
				return nil, fmt.Errorf("link stripe customer: %w", err)
			}
		}
		return &Outcome{AccountID: account.ID}, nil
	}
}

// resolveAccount finds the local account for a provider customer ref,
// falling back to the subscription ref for rows linked before the customer
// mapping existed.
func (r *Reconciler) resolveAccount(customerID, subscriptionID string) (*model.Account, error) {
	account, err := r.accounts.GetByStripeCustomerID(customerID)
	if err != nil {
		return nil, fmt.Errorf("get account by customer: %w", err)
	}
	if account != nil {
		return account, nil
	}
	if subscriptionID == "" {
		return nil, nil
	}
	sub, err := r.subs.GetByStripeID(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	if sub == nil {
		return nil, nil
	}
	account, err = r.accounts.GetByID(sub.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}
