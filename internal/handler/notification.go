package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tradersutopia/billingd/internal/store"
)

// NotificationHandler exposes the per-account notification history.
type NotificationHandler struct {
	accounts      *store.AccountStore
	notifications *store.NotificationStore
	logger        *slog.Logger
}

func NewNotificationHandler(accounts *store.AccountStore, notifications *store.NotificationStore, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{accounts: accounts, notifications: notifications, logger: logger}
}

// List handles GET /api/notifications/{ref}.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "account ref is required")
		return
	}

	account, err := h.accounts.GetByExternalRef(ref)
	if err != nil {
		h.logger.Error("get account", "ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	list, err := h.notifications.ListByAccountID(account.ID, limit)
	if err != nil {
		h.logger.Error("list notifications", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	writeJSON(w, http.StatusOK, list)
}
