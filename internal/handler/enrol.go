package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/openlms/tokenenrol/internal/enrol"
	"github.com/openlms/tokenenrol/internal/store"
)

type EnrolHandler struct {
	gateway   *enrol.Gateway
	eval      *enrol.Evaluator
	instances *store.InstanceStore
	logger    *slog.Logger
}

func NewEnrolHandler(gateway *enrol.Gateway, eval *enrol.Evaluator, instances *store.InstanceStore, logger *slog.Logger) *EnrolHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrolHandler{gateway: gateway, eval: eval, instances: instances, logger: logger}
}

type enrolRequest struct {
	CourseID   int64  `json:"course_id"`
	InstanceID int64  `json:"instance_id"`
	UserID     int64  `json:"user_id"`
	Token      string `json:"token"`
}

// Redeem handles POST /api/enrol. A failed redemption is still a 200: the
// outcome is carried by status and warnings, not the HTTP code.
func (h *EnrolHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req enrolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.CourseID <= 0 && req.InstanceID <= 0 {
		writeError(w, http.StatusBadRequest, "course_id or instance_id is required")
		return
	}

	var result *enrol.RedeemResult
	var err error
	if req.InstanceID > 0 {
		result, err = h.gateway.RedeemInstance(req.InstanceID, req.UserID, req.Token)
	} else {
		result, err = h.gateway.RedeemCourse(req.CourseID, req.UserID, req.Token)
	}
	if err != nil {
		h.logger.Error("redeem failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enrolment failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// InstanceInfo handles GET /api/enrol/instances/{id}. The token prompt
// fields appear only while self-enrolment is actually available.
func (h *EnrolHandler) InstanceInfo(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	inst, err := h.instances.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load instance")
		return
	}
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	reason, err := h.eval.Available(inst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to evaluate availability")
		return
	}

	info := map[string]any{
		"id":        inst.ID,
		"course_id": inst.CourseID,
		"name":      inst.Name,
		"status":    inst.Status,
	}
	if reason.Allowed() {
		info["requiredparam"] = "enroltoken"
		info["followup"] = "get_instance_info"
	} else {
		info["reason"] = reason.Message
	}
	writeJSON(w, http.StatusOK, info)
}

// SelfUnenrol handles DELETE /api/courses/{id}/enrolments/self.
func (h *EnrolHandler) SelfUnenrol(w http.ResponseWriter, r *http.Request) {
	courseID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	switch err := h.gateway.SelfUnenrol(courseID, userID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "unenrolled"})
	case errors.Is(err, enrol.ErrNotEnrolled):
		writeError(w, http.StatusNotFound, "not enrolled in this course")
	case errors.Is(err, enrol.ErrUnenrolNotAllowed):
		writeError(w, http.StatusForbidden, "self unenrolment is not allowed")
	default:
		h.logger.Error("self unenrol failed", "error", err)
		writeError(w, http.StatusInternalServerError, "unenrolment failed")
	}
}
