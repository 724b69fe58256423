package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/service"
)

// RunHandler syncs recorded runs.
type RunHandler struct {
	runs   *service.RunService
	logger *slog.Logger
}

func NewRunHandler(runs *service.RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

type runRequest struct {
	ID              string             `json:"id"`
	IdempotencyKey  string             `json:"idempotencyKey"`
	Title           string             `json:"title"`
	DistanceKm      float64            `json:"distanceKm"`
	DurationSeconds float64            `json:"durationSeconds"`
	StartedAt       string             `json:"startedAt"`
	TrackPoints     []model.TrackPoint `json:"trackPoints"`
	Splits          []model.Split      `json:"splits"`
	LastKnownUpdate string             `json:"lastKnownUpdate"`
}

func (req runRequest) input() service.RunInput {
	return service.RunInput{
		ID:              req.ID,
		IdempotencyKey:  req.IdempotencyKey,
		Title:           req.Title,
		DistanceKm:      req.DistanceKm,
		DurationSeconds: req.DurationSeconds,
		StartedAt:       req.StartedAt,
		TrackPoints:     req.TrackPoints,
		Splits:          req.Splits,
		LastKnownUpdate: req.LastKnownUpdate,
	}
}

// HandleUpload stores a run idempotently.
//
// HTTP: POST /runs → 201 created | 200 updated or replayed | 409 stale
func (h *RunHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req runRequest
	if err := decodeJSON(w, r, &req, maxRunBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	run, outcome, err := h.runs.Upload(r.Context(), id, req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, run)
}

// HandlePut is HandleUpload addressed by run id.
//
// HTTP: PUT /runs/{id}
func (h *RunHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req runRequest
	if err := decodeJSON(w, r, &req, maxRunBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	run, outcome, err := h.runs.Put(r.Context(), id, r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, run)
}

// HandleList returns the caller's runs, newest first.
//
// HTTP: GET /runs?limit=20&offset=0
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	runs, err := h.runs.List(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, runs)
}

// HandleGet returns one run with its track.
//
// HTTP: GET /runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	run, err := h.runs.Get(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, run)
}

// HandleDelete removes a run and withdraws any shares of it.
//
// HTTP: DELETE /runs/{id} → 204
func (h *RunHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.runs.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
