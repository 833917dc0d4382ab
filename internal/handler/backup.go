package handler

import (
	"log/slog"
	"net/http"

	"github.com/tradersutopia/billingd/internal/backup"
	"github.com/tradersutopia/billingd/internal/store"
)

// BackupHandler exposes admin control over database snapshots.
type BackupHandler struct {
	manager *backup.Manager
	backups *store.BackupStore
	logger  *slog.Logger
}

func NewBackupHandler(manager *backup.Manager, backups *store.BackupStore, logger *slog.Logger) *BackupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupHandler{manager: manager, backups: backups, logger: logger}
}

// Run handles POST /api/admin/backups.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusConflict, "backups not configured")
		return
	}

	id, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int64{"backup_id": id})
}

// List handles GET /api/admin/backups.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.backups.List(50)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Status handles GET /api/admin/backups/status.
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}
