package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradersutopia/billingd/internal/notify"
	"github.com/tradersutopia/billingd/internal/store"
)

// PushHandler manages browser push subscriptions for billing alerts.
type PushHandler struct {
	accounts      *store.AccountStore
	subscriptions *store.PushSubscriptionStore
	sender        *notify.WebPushSender
	logger        *slog.Logger
}

func NewPushHandler(accounts *store.AccountStore, subs *store.PushSubscriptionStore, sender *notify.WebPushSender, logger *slog.Logger) *PushHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushHandler{accounts: accounts, subscriptions: subs, sender: sender, logger: logger}
}

type subscribeRequest struct {
	AccountRef string `json:"account_ref"`
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
}

// Subscribe handles POST /api/push/subscribe.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountRef == "" || req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "account_ref, endpoint, p256dh, and auth are required")
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

	sub, err := h.subscriptions.Upsert(account.ID, req.Endpoint, req.P256dh, req.Auth)
	if err != nil {
		h.logger.Error("upsert push subscription", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles POST /api/push/unsubscribe. Browsers identify a
// subscription by endpoint URL, not by id.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if err := h.subscriptions.DeleteByEndpoint(req.Endpoint); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VAPIDPublicKey handles GET /api/push/vapid-key.
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusNotFound, "push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": h.sender.VAPIDPublicKey()})
}
