package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradersutopia/billingd/internal/reconcile"

	"github.com/sethvargo/go-retry"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	AnnualPriceID string
	SuccessURL    string
	CancelURL     string
}

// Client wraps the Stripe SDK behind the small surface the service
// needs: webhook verification, subscription lookup, and session
// creation for checkout and the billing portal.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}

// GetSubscription fetches a subscription from Stripe, retrying transient
// failures with exponential backoff. A missing subscription returns
// (nil, nil) so callers can fall back to webhook-derived state.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*reconcile.ProviderSubscription, error) {
	var sub *stripe.Subscription

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := subscription.Get(subscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			var stripeErr *stripe.Error
			if errors.As(err, &stripeErr) {
				switch {
				case stripeErr.Code == stripe.ErrorCodeResourceMissing:
					sub = nil
					return nil
				case stripeErr.HTTPStatusCode >= 500 || stripeErr.Code == stripe.ErrorCodeRateLimit:
					return retry.RetryableError(err)
				}
				return err
			}
			// Network-level failure
			return retry.RetryableError(err)
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	if sub == nil {
		return nil, nil
	}

	ps := &reconcile.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		ps.Customer = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil && item.Price.Product != nil {
			ps.ProductID = item.Price.Product.ID
		}
		if item.CurrentPeriodStart > 0 {
			ps.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			ps.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return ps, nil
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(email string) (string, error) {
	cust, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(email),
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout. externalRef is
// carried as the session's client_reference_id so the completed-checkout
// webhook can link the subscription back to the account.
func (c *Client) CreateCheckoutSession(customerID, priceID, externalRef string) (string, error) {
	if priceID == "" {
		priceID = c.cfg.PriceID
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if externalRef != "" {
		params.ClientReferenceID = stripe.String(externalRef)
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession returns a URL where the customer can manage
// their subscription.
func (c *Client) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// PriceIDForInterval maps a billing interval to the configured price.
func (c *Client) PriceIDForInterval(interval string) string {
	if interval == "annual" && c.cfg.AnnualPriceID != "" {
		return c.cfg.AnnualPriceID
	}
	return c.cfg.PriceID
}
