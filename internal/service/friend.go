package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

// FriendService runs the friend-request state machine:
//
//	pending → accepted   (recipient accepts)
//	pending → declined   (recipient declines)
//	accepted → (deleted) (either party removes)
//
// One connection exists per pair of accounts whichever side asked. A
// declined connection stays in place and blocks further requests.
type FriendService struct {
	friends  repository.FriendRepository
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	logger   *slog.Logger
	now      Clock
}

func NewFriendService(
	friends repository.FriendRepository,
	accounts repository.AccountRepository,
	profiles repository.ProfileRepository,
	logger *slog.Logger,
	now Clock,
) *FriendService {
	return &FriendService{friends: friends, accounts: accounts, profiles: profiles, logger: logger, now: now}
}

// SendRequest asks recipientID to become the caller's friend.
func (s *FriendService) SendRequest(ctx context.Context, userID, recipientID string) (*model.FriendConnection, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	if recipientID == userID {
		return nil, apperror.ValidationFailed("userId", "you cannot send a friend request to yourself")
	}

	if _, err := s.accounts.GetAccountByID(ctx, recipientID); err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("user", recipientID)
		}
		return nil, fmt.Errorf("looking up recipient: %w", err)
	}

	existing, err := s.friends.GetConnectionByPair(ctx, userID, recipientID)
	switch {
	case err == nil:
		return nil, connectionExists(existing)
	case !isNotFound(err):
		return nil, fmt.Errorf("looking up connection: %w", err)
	}

	conn := &model.FriendConnection{
		ID:          newID(),
		RequestorID: userID,
		RecipientID: recipientID,
		Status:      model.FriendPending,
		CreatedAt:   s.now(),
	}
	if err := s.friends.CreateConnection(ctx, conn); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("friend request", "a connection with this user already exists")
		}
		return nil, fmt.Errorf("creating friend request: %w", err)
	}

	s.logger.Info("friend request sent",
		slog.String("userID", userID),
		slog.String("recipientID", recipientID),
		slog.String("connectionID", conn.ID),
	)
	return conn, nil
}

func connectionExists(c *model.FriendConnection) error {
	switch c.Status {
	case model.FriendAccepted:
		return apperror.Conflict("friend request", "you are already friends")
	case model.FriendPending:
		return apperror.Conflict("friend request", "a friend request is already pending")
	default:
		return apperror.Conflict("friend request", "this friend request was declined")
	}
}

// Accept moves a pending request to accepted. Only the recipient may accept.
func (s *FriendService) Accept(ctx context.Context, userID, connectionID string) (*model.FriendConnection, error) {
	return s.respond(ctx, userID, connectionID, model.FriendAccepted)
}

// Decline moves a pending request to declined. Only the recipient may decline.
func (s *FriendService) Decline(ctx context.Context, userID, connectionID string) (*model.FriendConnection, error) {
	return s.respond(ctx, userID, connectionID, model.FriendDeclined)
}

func (s *FriendService) respond(ctx context.Context, userID, connectionID string, status model.FriendStatus) (*model.FriendConnection, error) {
	conn, err := s.connectionFor(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.RecipientID != userID {
		return nil, apperror.Forbidden("only the recipient can respond to a friend request")
	}
	if conn.Status != model.FriendPending {
		return nil, apperror.Conflict("friend request", "request is no longer pending")
	}

	var acceptedAt = conn.AcceptedAt
	if status == model.FriendAccepted {
		t := s.now()
		acceptedAt = &t
	}
	if err := s.friends.UpdateConnectionStatus(ctx, conn.ID, status, acceptedAt); err != nil {
		return nil, err
	}
	conn.Status = status
	conn.AcceptedAt = acceptedAt

	s.logger.Info("friend request answered",
		slog.String("userID", userID),
		slog.String("connectionID", conn.ID),
		slog.String("status", string(status)),
	)
	return conn, nil
}

// Remove ends an accepted friendship. Either party may remove it.
func (s *FriendService) Remove(ctx context.Context, userID, connectionID string) error {
	conn, err := s.connectionFor(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	if conn.Status != model.FriendAccepted {
		return apperror.Conflict("friend connection", "only accepted friendships can be removed")
	}
	if err := s.friends.DeleteConnection(ctx, conn.ID); err != nil {
		return err
	}
	s.logger.Info("friend removed", slog.String("userID", userID), slog.String("connectionID", conn.ID))
	return nil
}

// connectionFor loads a connection the caller is part of. Connections
// between other people look exactly like missing ones.
func (s *FriendService) connectionFor(ctx context.Context, userID, connectionID string) (*model.FriendConnection, error) {
	conn, err := s.friends.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Involves(userID) {
		return nil, apperror.NotFound("friend connection", connectionID)
	}
	return conn, nil
}

// ListFriends returns the caller's accepted connections with display names.
func (s *FriendService) ListFriends(ctx context.Context, userID string) ([]model.Friend, error) {
	conns, err := s.friends.ListConnections(ctx, userID, model.FriendAccepted)
	if err != nil {
		return nil, fmt.Errorf("listing friends: %w", err)
	}
	names, err := displayNames(ctx, s.profiles, otherParties(conns, userID))
	if err != nil {
		return nil, err
	}

	friends := make([]model.Friend, 0, len(conns))
	for _, c := range conns {
		other := c.Other(userID)
		friends = append(friends, model.Friend{
			ConnectionID: c.ID,
			UserID:       other,
			DisplayName:  names[other],
			Since:        c.AcceptedAt,
		})
	}
	return friends, nil
}

// ListRequests returns pending requests split into incoming and outgoing.
func (s *FriendService) ListRequests(ctx context.Context, userID string) (*model.FriendRequests, error) {
	conns, err := s.friends.ListConnections(ctx, userID, model.FriendPending)
	if err != nil {
		return nil, fmt.Errorf("listing friend requests: %w", err)
	}
	names, err := displayNames(ctx, s.profiles, otherParties(conns, userID))
	if err != nil {
		return nil, err
	}

	out := &model.FriendRequests{
		Incoming: []model.FriendRequest{},
		Outgoing: []model.FriendRequest{},
	}
	for _, c := range conns {
		other := c.Other(userID)
		req := model.FriendRequest{
			ConnectionID: c.ID,
			UserID:       other,
			DisplayName:  names[other],
			CreatedAt:    c.CreatedAt,
		}
		if c.RecipientID == userID {
			req.Direction = "incoming"
			out.Incoming = append(out.Incoming, req)
		} else {
			req.Direction = "outgoing"
			out.Outgoing = append(out.Outgoing, req)
		}
	}
	return out, nil
}

func otherParties(conns []model.FriendConnection, userID string) []string {
	ids := make([]string, 0, len(conns))
	for i := range conns {
		ids = append(ids, conns[i].Other(userID))
	}
	return ids
}
