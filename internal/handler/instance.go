package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

// InstanceDefaults are the method-level settings a new instance inherits
// when the create request leaves a field unset.
type InstanceDefaults struct {
	RoleID            int64
	EnrolPeriod       int64
	ExpiryNotify      string
	ExpiryThreshold   int64
	InactivityTimeout int64
	MaxEnrolled       int
	WelcomeMode       string
}

type InstanceHandler struct {
	instances *store.InstanceStore
	courses   *store.CourseStore
	defaults  InstanceDefaults
	logger    *slog.Logger
}

func NewInstanceHandler(instances *store.InstanceStore, courses *store.CourseStore, defaults InstanceDefaults, logger *slog.Logger) *InstanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.ExpiryNotify == "" {
		defaults.ExpiryNotify = model.NotifyNone
	}
	if defaults.WelcomeMode == "" {
		defaults.WelcomeMode = model.WelcomeNone
	}
	if defaults.ExpiryThreshold == 0 {
		defaults.ExpiryThreshold = 86400
	}
	return &InstanceHandler{instances: instances, courses: courses, defaults: defaults, logger: logger}
}

// instanceRequest uses pointers so an omitted field can fall back to the
// method defaults on create, or keep the stored value on update.
type instanceRequest struct {
	Name              *string `json:"name"`
	Status            *int    `json:"status"`
	RoleID            *int64  `json:"role_id"`
	EnrolStart        *int64  `json:"enrol_start"`
	EnrolEnd          *int64  `json:"enrol_end"`
	EnrolPeriod       *int64  `json:"enrol_period"`
	ExpiryNotify      *string `json:"expiry_notify"`
	ExpiryThreshold   *int64  `json:"expiry_threshold"`
	InactivityTimeout *int64  `json:"inactivity_timeout"`
	MaxEnrolled       *int    `json:"max_enrolled"`
	AllowNew          *bool   `json:"allow_new"`
	CohortID          *int64  `json:"cohort_id"`
	WelcomeMode       *string `json:"welcome_mode"`
	WelcomeMessage    *string `json:"welcome_message"`
}

func (req *instanceRequest) apply(inst *model.Instance) {
	if req.Name != nil {
		inst.Name = *req.Name
	}
	if req.Status != nil {
		inst.Status = *req.Status
	}
	if req.RoleID != nil {
		inst.RoleID = *req.RoleID
	}
	if req.EnrolStart != nil {
		inst.EnrolStart = *req.EnrolStart
	}
	if req.EnrolEnd != nil {
		inst.EnrolEnd = *req.EnrolEnd
	}
	if req.EnrolPeriod != nil {
		inst.EnrolPeriod = *req.EnrolPeriod
	}
	if req.ExpiryNotify != nil {
		inst.ExpiryNotify = *req.ExpiryNotify
	}
	if req.ExpiryThreshold != nil {
		inst.ExpiryThreshold = *req.ExpiryThreshold
	}
	if req.InactivityTimeout != nil {
		inst.InactivityTimeout = *req.InactivityTimeout
	}
	if req.MaxEnrolled != nil {
		inst.MaxEnrolled = *req.MaxEnrolled
	}
	if req.AllowNew != nil {
		inst.AllowNew = *req.AllowNew
	}
	if req.CohortID != nil {
		inst.CohortID = *req.CohortID
	}
	if req.WelcomeMode != nil {
		inst.WelcomeMode = *req.WelcomeMode
	}
	if req.WelcomeMessage != nil {
		inst.WelcomeMessage = *req.WelcomeMessage
	}
}

func validateInstance(inst *model.Instance) string {
	if inst.RoleID <= 0 {
		return "role_id is required"
	}
	if inst.EnrolEnd != 0 && inst.EnrolStart != 0 && inst.EnrolEnd < inst.EnrolStart {
		return "enrolment end date cannot be earlier than start date"
	}
	if inst.MaxEnrolled < 0 {
		return "max_enrolled cannot be negative"
	}
	switch inst.ExpiryNotify {
	case model.NotifyNone, model.NotifyEnroller, model.NotifyAll:
	default:
		return "invalid expiry_notify mode"
	}
	if inst.ExpiryNotify != model.NotifyNone && inst.ExpiryThreshold < 86400 {
		return "expiry notification threshold must be at least 1 day"
	}
	switch inst.WelcomeMode {
	case model.WelcomeNone, model.WelcomeCourseContact, model.WelcomeKeyHolder, model.WelcomeNoReply:
	default:
		return "invalid welcome_mode"
	}
	return ""
}

// Create handles POST /api/admin/courses/{id}/instances.
func (h *InstanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	courseID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	course, err := h.courses.GetByID(courseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load course")
		return
	}
	if course == nil {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}

	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	inst := &model.Instance{
		CourseID:          courseID,
		RoleID:            h.defaults.RoleID,
		EnrolPeriod:       h.defaults.EnrolPeriod,
		ExpiryNotify:      h.defaults.ExpiryNotify,
		ExpiryThreshold:   h.defaults.ExpiryThreshold,
		InactivityTimeout: h.defaults.InactivityTimeout,
		MaxEnrolled:       h.defaults.MaxEnrolled,
		WelcomeMode:       h.defaults.WelcomeMode,
		AllowNew:          true,
	}
	req.apply(inst)
	if msg := validateInstance(inst); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := h.instances.Create(inst)
	if err != nil {
		h.logger.Error("instance create failed", "course_id", courseID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create instance")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/admin/courses/{id}/instances.
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	courseID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	instances, err := h.instances.ListByCourse(courseID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list instances")
		return
	}
	if instances == nil {
		instances = []model.Instance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

// Update handles PUT /api/admin/instances/{id}.
func (h *InstanceHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.apply(inst)
	if msg := validateInstance(inst); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.instances.Update(inst); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		h.logger.Error("instance update failed", "instance_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update instance")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Delete handles DELETE /api/admin/instances/{id}.
func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.instances.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		h.logger.Error("instance delete failed", "instance_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete instance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
