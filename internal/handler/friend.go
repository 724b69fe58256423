package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/trainsync/internal/service"
)

// FriendHandler exposes the friend-request state machine.
type FriendHandler struct {
	friends *service.FriendService
	logger  *slog.Logger
}

func NewFriendHandler(friends *service.FriendService, logger *slog.Logger) *FriendHandler {
	return &FriendHandler{friends: friends, logger: logger}
}

type friendRequestBody struct {
	UserID string `json:"userId"`
}

// HTTP: GET /friends
func (h *FriendHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	friends, err := h.friends.ListFriends(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, friends)
}

// HTTP: GET /friends/requests
func (h *FriendHandler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reqs, err := h.friends.ListRequests(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, reqs)
}

// HandleSend asks another user to be friends.
//
// HTTP: POST /friends → 201
// REQUEST BODY: {"userId": "..."}
func (h *FriendHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req friendRequestBody
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	conn, err := h.friends.SendRequest(r.Context(), id, req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, conn)
}

// HTTP: PUT /friends/{id}/accept
func (h *FriendHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	conn, err := h.friends.Accept(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, conn)
}

// HTTP: PUT /friends/{id}/decline
func (h *FriendHandler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	conn, err := h.friends.Decline(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, conn)
}

// HTTP: DELETE /friends/{id} → 204
func (h *FriendHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.friends.Remove(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
