package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/openlms/tokenenrol/internal/enrol"
	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
	"github.com/openlms/tokenenrol/internal/token"
)

type TokenHandler struct {
	issuer    *token.Issuer
	tokens    *store.TokenStore
	instances *store.InstanceStore
	events    enrol.EventPublisher
	logger    *slog.Logger
}

func NewTokenHandler(issuer *token.Issuer, tokens *store.TokenStore, instances *store.InstanceStore, events enrol.EventPublisher, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{issuer: issuer, tokens: tokens, instances: instances, events: events, logger: logger}
}

type generateRequest struct {
	Amount int `json:"amount"`
	Length int `json:"length"`
}

// Generate handles POST /api/admin/instances/{id}/tokens.
func (h *TokenHandler) Generate(w http.ResponseWriter, r *http.Request) {
	instanceID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Amount < token.MinAmount || req.Amount > token.MaxAmount {
		writeError(w, http.StatusBadRequest, "Invalid amount of tokens to generate. The amount must be between 1 and 100")
		return
	}
	if req.Length == 0 {
		req.Length = token.DefaultLength
	}

	inst, err := h.instances.GetByID(instanceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load instance")
		return
	}
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	tokens, err := h.issuer.Generate(instanceID, req.Amount, req.Length)
	if err != nil {
		h.logger.Error("token generation failed", "instance_id", instanceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	if h.events != nil {
		h.events.Publish(enrol.Event{
			Type:       enrol.EventTokensIssued,
			CourseID:   inst.CourseID,
			InstanceID: inst.ID,
			Time:       time.Now(),
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tokens": tokens})
}

// Delete handles DELETE /api/admin/tokens/{id}. Used tokens are part of the
// enrolment audit trail and cannot be removed.
func (h *TokenHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	switch err := h.tokens.Delete(id); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "token not found")
	case errors.Is(err, store.ErrTokenUsed):
		writeError(w, http.StatusConflict, "Token used, cannot be deleted")
	default:
		h.logger.Error("token delete failed", "token_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete token")
	}
}

// List handles GET /api/admin/instances/{id}/tokens with optional secret
// substring and used-time range filters.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	instanceID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	filter := store.TokenFilter{Secret: r.URL.Query().Get("secret")}
	if v := r.URL.Query().Get("used_from"); v != "" {
		filter.UsedFrom, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid used_from")
			return
		}
	}
	if v := r.URL.Query().Get("used_to"); v != "" {
		filter.UsedTo, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid used_to")
			return
		}
	}

	tokens, err := h.tokens.List(instanceID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	if tokens == nil {
		tokens = []model.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}
