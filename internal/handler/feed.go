package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

type FeedHandler struct {
	feed   *service.FeedService
	logger *slog.Logger
}

func NewFeedHandler(feed *service.FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, logger: logger}
}

type feedPostRequest struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	ActivityType   string          `json:"activityType"`
	Title          string          `json:"title"`
	Subtitle       string          `json:"subtitle"`
	Stats          json.RawMessage `json:"stats"`
	OccurredAt     string          `json:"occurredAt"`
}

// HandleGet returns posts by the caller and their friends.
//
// HTTP: GET /feed?limit=50 (max 200)
func (h *FeedHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
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
	items, err := h.feed.GetFeed(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, items)
}

// HTTP: POST /feed → 201 | 200 replay
func (h *FeedHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req feedPostRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	item, outcome, err := h.feed.Publish(r.Context(), id, service.FeedPostInput{
		IdempotencyKey: req.IdempotencyKey,
		ActivityType:   req.ActivityType,
		Title:          req.Title,
		Subtitle:       req.Subtitle,
		Stats:          req.Stats,
		OccurredAt:     req.OccurredAt,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeUpsert(w, h.logger, outcome, item)
}

// HTTP: POST /feed/{id}/like → {"liked": bool, "likeCount": n}
func (h *FeedHandler) HandleToggleLike(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	result, err := h.feed.ToggleLike(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}
