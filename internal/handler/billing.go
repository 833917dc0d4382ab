package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradersutopia/billingd/internal/store"
)

// BillingProvider is the slice of the payment provider the billing
// endpoints need.
type BillingProvider interface {
	CreateCustomer(email string) (string, error)
	CreateCheckoutSession(customerID, priceID, externalRef string) (string, error)
	CreateBillingPortalSession(customerID, returnURL string) (string, error)
	PriceIDForInterval(interval string) string
}

// BillingHandler starts checkout and billing portal sessions.
type BillingHandler struct {
	provider BillingProvider
	accounts *store.AccountStore
	logger   *slog.Logger
}

func NewBillingHandler(provider BillingProvider, accounts *store.AccountStore, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{provider: provider, accounts: accounts, logger: logger}
}

type checkoutRequest struct {
	AccountRef string `json:"account_ref"`
	Email      string `json:"email"`
	Interval   string `json:"interval"`
}

// CreateCheckoutSession handles POST /api/checkout. The account is
// created on first contact so checkout can run before any other part of
// the application has seen the user.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountRef == "" {
		writeError(w, http.StatusBadRequest, "account_ref is required")
		return
	}
	if req.Interval == "" {
		req.Interval = "monthly"
	}

	account, err := h.accounts.GetByExternalRef(req.AccountRef)
	if err != nil {
		h.logger.Error("get account", "ref", req.AccountRef, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if account == nil {
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required for a new account")
			return
		}
		account, err = h.accounts.Create(req.AccountRef, req.Email)
		if err != nil {
			h.logger.Error("create account", "ref", req.AccountRef, "error", err)
			writeError(w, http.StatusInternalServerError, "create account failed")
			return
		}
	}

	customerID := ""
	if account.StripeCustomerID != nil {
		customerID = *account.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.provider.CreateCustomer(account.Email)
		if err != nil {
			h.logger.Error("create customer", "account_id", account.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "create customer failed")
			return
		}
		if err := h.accounts.UpdateStripeCustomerID(account.ID, customerID); err != nil {
			h.logger.Error("link customer", "account_id", account.ID, "error", err)
		}
	}

	priceID := h.provider.PriceIDForInterval(req.Interval)
	url, err := h.provider.CreateCheckoutSession(customerID, priceID, account.ExternalRef)
	if err != nil {
		h.logger.Error("create checkout session", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "create checkout session failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type portalRequest struct {
	AccountRef string `json:"account_ref"`
	ReturnURL  string `json:"return_url"`
}

// BillingPortal handles POST /api/billing-portal.
func (h *BillingHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountRef == "" {
		writeError(w, http.StatusBadRequest, "account_ref is required")
		return
	}

	account, err := h.accounts.GetByExternalRef(req.AccountRef)
	if err != nil {
		h.logger.Error("get account", "ref", req.AccountRef, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if account.StripeCustomerID == nil {
		writeError(w, http.StatusBadRequest, "no billing account")
		return
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = "/account/billing"
	}

	url, err := h.provider.CreateBillingPortalSession(*account.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("create portal session", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "create portal session failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
