package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

type SharedRunHandler struct {
	shares *service.SharedRunService
	logger *slog.Logger
}

func NewSharedRunHandler(shares *service.SharedRunService, logger *slog.Logger) *SharedRunHandler {
	return &SharedRunHandler{shares: shares, logger: logger}
}

type sharedRunRequest struct {
	IdempotencyKey  string   `json:"idempotencyKey"`
	RunID           string   `json:"runId"`
	Message         string   `json:"message"`
	RecipientIDs    []string `json:"recipientIds"`
	LastKnownUpdate string   `json:"lastKnownUpdate"`
}

// HandleUpload shares one of the caller's runs with friends.
//
// HTTP: POST /shared-runs → 201 | 200 | 403 recipient is not a friend
func (h *SharedRunHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req sharedRunRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	share, outcome, err := h.shares.Upload(r.Context(), id, service.SharedRunInput{
		IdempotencyKey:  req.IdempotencyKey,
		RunID:           req.RunID,
		Message:         req.Message,
		RecipientIDs:    req.RecipientIDs,
		LastKnownUpdate: req.LastKnownUpdate,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, share)
}

// HandleListReceived returns runs shared with the caller.
//
// HTTP: GET /shared-runs
func (h *SharedRunHandler) HandleListReceived(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	shares, err := h.shares.ListReceived(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, shares)
}

// HTTP: GET /shared-runs/sent
func (h *SharedRunHandler) HandleListSent(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	shares, err := h.shares.ListSent(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, shares)
}

// HTTP: DELETE /shared-runs/{id} → 204
func (h *SharedRunHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.shares.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
