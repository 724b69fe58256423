package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

type RaceHandler struct {
	races  *service.RaceService
	logger *slog.Logger
}

func NewRaceHandler(races *service.RaceService, logger *slog.Logger) *RaceHandler {
	return &RaceHandler{races: races, logger: logger}
}

type raceRequest struct {
	RaceKey         string  `json:"raceKey"`
	IdempotencyKey  string  `json:"idempotencyKey"`
	Name            string  `json:"name"`
	RaceDate        string  `json:"raceDate"`
	DistanceKm      float64 `json:"distanceKm"`
	GoalSeconds     int     `json:"goalSeconds"`
	Notes           string  `json:"notes"`
	LastKnownUpdate string  `json:"lastKnownUpdate"`
}

func (req raceRequest) input() service.RaceInput {
	return service.RaceInput{
		RaceKey:         req.RaceKey,
		IdempotencyKey:  req.IdempotencyKey,
		Name:            req.Name,
		RaceDate:        req.RaceDate,
		DistanceKm:      req.DistanceKm,
		GoalSeconds:     req.GoalSeconds,
		Notes:           req.Notes,
		LastKnownUpdate: req.LastKnownUpdate,
	}
}

// HTTP: POST /races
func (h *RaceHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req raceRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	race, outcome, err := h.races.Upload(r.Context(), id, req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, race)
}

// HTTP: PUT /races/{raceKey}
func (h *RaceHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req raceRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	race, outcome, err := h.races.Put(r.Context(), id, r.PathValue("raceKey"), req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, race)
}

// HTTP: GET /races
func (h *RaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	races, err := h.races.List(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, races)
}

// HTTP: GET /races/{raceKey}
func (h *RaceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	race, err := h.races.Get(r.Context(), id, r.PathValue("raceKey"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, race)
}

// HTTP: DELETE /races/{raceKey} → 204
func (h *RaceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.races.Delete(r.Context(), id, r.PathValue("raceKey")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
