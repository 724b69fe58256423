package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

type ProfileHandler struct {
	profiles *service.ProfileService
	logger   *slog.Logger
}

func NewProfileHandler(profiles *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
}

// HTTP: GET /profile
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// HTTP: PUT /profile
// REQUEST BODY: {"displayName": "Alice"}
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.profiles.Update(r.Context(), id, req.DisplayName)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}
