package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradersutopia/billingd/internal/model"
	"github.com/tradersutopia/billingd/internal/store"
)

// Evaluator derives access decisions from canonical subscription state.
// It is the single source of truth for "has paid access": request handlers
// must consult it instead of reading subscription fields directly.
//
// Policy: access is lost immediately when a cancellation event has been
// reconciled, even if the paid window has not technically ended.
type Evaluator struct {
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	cache    *Cache
	tokens   *TokenIssuer

	allowedProducts map[string]struct{}
	now             func() time.Time
	logger          *slog.Logger
}

func NewEvaluator(accounts *store.AccountStore, subs *store.SubscriptionStore, cache *Cache, tokens *TokenIssuer, allowedProducts []string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedProducts))
	for _, p := range allowedProducts {
		allowed[p] = struct{}{}
	}
	return &Evaluator{
		accounts:        accounts,
		subs:            subs,
		cache:           cache,
		tokens:          tokens,
		allowedProducts: allowed,
		now:             time.Now,
		logger:          logger,
	}
}

// Evaluate returns the (possibly cached) access decision for an account.
func (e *Evaluator) Evaluate(ctx context.Context, accountID int64) (Decision, error) {
	if e.cache == nil {
		return e.evaluate(accountID)
	}
	return e.cache.GetOrCompute(accountID, func() (Decision, error) {
		return e.evaluate(accountID)
	})
}

// EvaluateByExternalRef resolves the application-level account ref first.
// Unknown accounts get a plain "none" decision rather than an error.
func (e *Evaluator) EvaluateByExternalRef(ctx context.Context, externalRef string) (Decision, error) {
	account, err := e.accounts.GetByExternalRef(externalRef)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve account: %w", err)
	}
	if account == nil {
		now := e.now().UTC()
		return Decision{HasAccess: false, Reason: ReasonNone, EvaluatedAt: now, ExpiresAt: now}, nil
	}
	d, err := e.Evaluate(ctx, account.ID)
	if err != nil {
		return Decision{}, err
	}
	if d.HasAccess && e.tokens != nil && d.Token == "" {
		token, err := e.tokens.Issue(account.ExternalRef, d)
		if err != nil {
			// Token is a convenience; the decision stands without it.
			e.logger.Warn("issue entitlement token", "account_id", account.ID, "error", err)
		} else {
			d.Token = token
		}
	}
	return d, nil
}

// Invalidate drops the cached decision for an account. The ingest layer
// calls this synchronously after every applied reconciliation.
func (e *Evaluator) Invalidate(accountID int64) {
	if e.cache != nil {
		e.cache.Invalidate(accountID)
	}
}

func (e *Evaluator) evaluate(accountID int64) (Decision, error) {
	now := e.now().UTC()
	d := Decision{AccountID: accountID, HasAccess: false, Reason: ReasonNone, EvaluatedAt: now, ExpiresAt: now}

	account, err := e.accounts.GetByID(accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return d, nil
	}

	if account.IsAdmin {
		d.HasAccess = true
		d.Reason = ReasonAdminBypass
		return d, nil
	}

	sub, err := e.subs.GetByAccountID(accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return d, nil
	}

	switch sub.Status {
	case model.StatusActive:
		// Always re-check the window; a missed webhook must never leave
		// an account silently active.
		if sub.CurrentPeriodEnd == nil || !now.Before(*sub.CurrentPeriodEnd) {
			d.Reason = ReasonExpired
			if err := e.subs.DemoteExpired(accountID, now); err != nil {
				e.logger.Warn("demote expired subscription", "account_id", accountID, "error", err)
			}
			return d, nil
		}
		if !e.productAllowed(sub.StripeProductID) {
			d.Reason = ReasonInvalidProduct
			return d, nil
		}
		d.HasAccess = true
		d.Reason = ReasonActive
		return d, nil

	case model.StatusCancelled:
		d.Reason = ReasonCancelled
		return d, nil

	case model.StatusExpired:
		d.Reason = ReasonExpired
		return d, nil

	default: // free, past_due, paused
		return d, nil
	}
}

func (e *Evaluator) productAllowed(productID *string) bool {
	if len(e.allowedProducts) == 0 {
		// No allowlist configured: any product grants access.
		return true
	}
	if productID == nil {
		return false
	}
	_, ok := e.allowedProducts[*productID]
	return ok
}
