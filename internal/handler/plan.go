package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/service"
)

// PlanHandler serves the caller's single training plan. POST and PUT
// behave identically: the owner is the natural key.
type PlanHandler struct {
	plans  *service.PlanService
	logger *slog.Logger
}

func NewPlanHandler(plans *service.PlanService, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, logger: logger}
}

type planRequest struct {
	IdempotencyKey  string           `json:"idempotencyKey"`
	Name            string           `json:"name"`
	GoalRaceID      string           `json:"goalRaceId"`
	StartDate       string           `json:"startDate"`
	EndDate         string           `json:"endDate"`
	Weeks           []model.PlanWeek `json:"weeks"`
	LastKnownUpdate string           `json:"lastKnownUpdate"`
}

// HTTP: POST /training-plan, PUT /training-plan
func (h *PlanHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req planRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	plan, outcome, err := h.plans.Save(r.Context(), id, service.PlanInput{
		IdempotencyKey:  req.IdempotencyKey,
		Name:            req.Name,
		GoalRaceID:      req.GoalRaceID,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Weeks:           req.Weeks,
		LastKnownUpdate: req.LastKnownUpdate,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, plan)
}

// HTTP: GET /training-plan
func (h *PlanHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	plan, err := h.plans.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, plan)
}

// HTTP: DELETE /training-plan → 204
func (h *PlanHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.plans.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
