package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

type ChallengeHandler struct {
	challenges *service.ChallengeService
	logger     *slog.Logger
}

func NewChallengeHandler(challenges *service.ChallengeService, logger *slog.Logger) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, logger: logger}
}

type challengeRequest struct {
	IdempotencyKey string  `json:"idempotencyKey"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	TargetValue    float64 `json:"targetValue"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
}

type progressRequest struct {
	Progress *float64 `json:"progress"`
}

// HTTP: POST /challenges → 201 | 200 replay
func (h *ChallengeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req challengeRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, outcome, err := h.challenges.Create(r.Context(), id, service.ChallengeInput{
		IdempotencyKey: req.IdempotencyKey,
		Name:           req.Name,
		Description:    req.Description,
		Type:           req.Type,
		TargetValue:    req.TargetValue,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, c)
}

// HTTP: GET /challenges
func (h *ChallengeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	list, err := h.challenges.List(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

// HTTP: GET /challenges/{id}
func (h *ChallengeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.challenges.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, c)
}

// HTTP: POST /challenges/{id}/join
func (h *ChallengeHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.challenges.Join(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, c)
}

// HTTP: POST /challenges/{id}/leave → 204
func (h *ChallengeHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.challenges.Leave(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HTTP: PUT /challenges/{id}/progress
// REQUEST BODY: {"progress": 42.5}
func (h *ChallengeHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req progressRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Progress == nil {
		writeError(w, r, h.logger, validationRequired("progress"))
		return
	}
	c, err := h.challenges.UpdateProgress(r.Context(), id, r.PathValue("id"), *req.Progress)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, c)
}

// HTTP: DELETE /challenges/{id} → 204
func (h *ChallengeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.challenges.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
