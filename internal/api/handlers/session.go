package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/service"
)

type SessionHandler struct {
	manager *service.Manager
}

func NewSessionHandler(manager *service.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

type turnRequest struct {
	SystemText string `json:"system_text"`
}

type turnResponse struct {
	Payload *domain.Payload     `json:"payload"`
	Usage   *domain.UsageReport `json:"usage"`
}

// Turn assembles the context payload for the session's next model call.
func (h *SessionHandler) Turn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.manager.Session(sessionID)
	payload, usage, err := sess.ContextForTurn(r.Context(), req.SystemText)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConfiguration):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, service.ErrBudgetViolation):
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to assemble context")
		}
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{Payload: payload, Usage: usage})
}

type recordExchangeRequest struct {
	UserText  string `json:"user_text"`
	AgentText string `json:"agent_text"`
}

type recordExchangeResponse struct {
	Ordinal int `json:"ordinal"`
	Tokens  int `json:"tokens"`
}

// RecordExchange appends a completed user/agent exchange to the session.
func (h *SessionHandler) RecordExchange(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	var req recordExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserText) == "" && strings.TrimSpace(req.AgentText) == "" {
		writeError(w, http.StatusBadRequest, "exchange is empty")
		return
	}

	sess := h.manager.Session(sessionID)
	ex, err := sess.RecordExchange(r.Context(), req.UserText, req.AgentText)
	if err != nil {
		// The exchange itself is recorded; folding its evictions failed.
		writeError(w, http.StatusInternalServerError, "exchange recorded but folding failed")
		return
	}

	writeJSON(w, http.StatusCreated, recordExchangeResponse{Ordinal: ex.Ordinal, Tokens: ex.Tokens})
}

// Status reports the session's memory state.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	writeJSON(w, http.StatusOK, h.manager.Session(sessionID).Status())
}
