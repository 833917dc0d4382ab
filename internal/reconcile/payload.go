package reconcile

// Lean payload structs decoded from event.Data.Raw. Only the fields the
// reconciler reads are declared; everything else in the provider's payload
// is ignored on purpose.

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CanceledAt         int64  `json:"canceled_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	PauseCollection    *struct {
		Behavior string `json:"behavior"`
	} `json:"pause_collection"`
	Items struct {
		Data []struct {
			Price struct {
				ID      string `json:"id"`
				Product string `json:"product"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// firstProductID returns the product ref of the first line item, or "".
func (p *subscriptionPayload) firstProductID() string {
	for _, item := range p.Items.Data {
		if item.Price.Product != "" {
			return item.Price.Product
		}
	}
	return ""
}

// periodWindow prefers the subscription-level window and falls back to the
// first line item's window (newer API versions moved the fields there).
func (p *subscriptionPayload) periodWindow() (start, end int64) {
	start, end = p.CurrentPeriodStart, p.CurrentPeriodEnd
	if end == 0 && len(p.Items.Data) > 0 {
		start = p.Items.Data[0].CurrentPeriodStart
		end = p.Items.Data[0].CurrentPeriodEnd
	}
	return start, end
}

type invoicePayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Subscription       string `json:"subscription"`
	Paid               bool   `json:"paid"`
	AttemptCount       int64  `json:"attempt_count"`
	NextPaymentAttempt int64  `json:"next_payment_attempt"`
	PeriodStart        int64  `json:"period_start"`
	PeriodEnd          int64  `json:"period_end"`
	Parent             *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Price *struct {
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// subscriptionID handles both the legacy top-level field and the newer
// parent.subscription_details location.
func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return p.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (p *invoicePayload) firstProductID() string {
	for _, line := range p.Lines.Data {
		if line.Price != nil && line.Price.Product != "" {
			return line.Price.Product
		}
	}
	return ""
}

type checkoutSessionPayload struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

func (p *checkoutSessionPayload) email() string {
	if p.CustomerEmail != "" {
		return p.CustomerEmail
	}
	return p.CustomerDetails.Email
}

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
