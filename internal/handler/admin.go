package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/openlms/tokenenrol/internal/enrol"
)

type AdminHandler struct {
	engine   *enrol.Engine
	notifier *enrol.Notifier
	logger   *slog.Logger
}

func NewAdminHandler(engine *enrol.Engine, notifier *enrol.Notifier, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{engine: engine, notifier: notifier, logger: logger}
}

type syncRequest struct {
	CourseID int64 `json:"course_id"`
}

// Sync handles POST /api/admin/sync: runs reconciliation immediately, over
// one course or all of them.
func (h *AdminHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	report, err := h.engine.Run(req.CourseID)
	if err != nil {
		h.logger.Error("reconciliation run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Notify handles POST /api/admin/notify: triggers an expiry notification
// pass. The notifier's own day/hour gate still applies.
func (h *AdminHandler) Notify(w http.ResponseWriter, r *http.Request) {
	report, err := h.notifier.Run()
	if err != nil {
		h.logger.Error("notification run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "notification run failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
