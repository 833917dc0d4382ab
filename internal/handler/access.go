package handler

import (
	"log/slog"
	"net/http"

	"github.com/tradersutopia/billingd/internal/access"
)

// AccessHandler answers entitlement queries for the application frontends.
type AccessHandler struct {
	evaluator *access.Evaluator
	logger    *slog.Logger
}

func NewAccessHandler(evaluator *access.Evaluator, logger *slog.Logger) *AccessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{evaluator: evaluator, logger: logger}
}

// Get handles GET /api/access/{ref}. Unknown refs are a normal negative
// decision, not an error.
func (h *AccessHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "account ref is required")
		return
	}

	d, err := h.evaluator.EvaluateByExternalRef(r.Context(), ref)
	if err != nil {
		h.logger.Error("evaluate access", "ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, d)
}
