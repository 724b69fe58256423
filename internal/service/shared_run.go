package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

// MaxRecipients caps how many friends one share can reach.
const MaxRecipients = 50

type SharedRunInput struct {
	IdempotencyKey  string
	RunID           string
	Message         string
	RecipientIDs    []string
	LastKnownUpdate string
}

// SharedRunService pushes runs to friends. A sender shares a given run at
// most once; sharing it again replaces the message and recipients.
type SharedRunService struct {
	shares  repository.SharedRunRepository
	runs    repository.RunRepository
	friends repository.FriendRepository
	logger  *slog.Logger
	now     Clock
}

func NewSharedRunService(
	shares repository.SharedRunRepository,
	runs repository.RunRepository,
	friends repository.FriendRepository,
	logger *slog.Logger,
	now Clock,
) *SharedRunService {
	return &SharedRunService{shares: shares, runs: runs, friends: friends, logger: logger, now: now}
}

func (s *SharedRunService) Upload(ctx context.Context, senderID string, in SharedRunInput) (*model.SharedRun, model.UpsertOutcome, error) {
	key, err := requireKey(in.IdempotencyKey)
	if err != nil {
		return nil, 0, err
	}
	runID, err := requireText("runId", in.RunID, MaxRunIDLength)
	if err != nil {
		return nil, 0, err
	}
	message, err := optionalText("message", in.Message, MaxNotesLength)
	if err != nil {
		return nil, 0, err
	}
	recipients, err := uniqueRecipients(senderID, in.RecipientIDs)
	if err != nil {
		return nil, 0, err
	}
	lastKnown, err := parseOptionalTime("lastKnownUpdate", in.LastKnownUpdate)
	if err != nil {
		return nil, 0, err
	}

	// The ownership and friendship checks run only on writes, so replaying
	// an accepted upload returns the stored share even if a friend has
	// since been removed.
	share, outcome, err := runUpsert(ctx, upsert[model.SharedRun]{
		resource: metrics.ResourceSharedRun,
		byKey: func(ctx context.Context) (*model.SharedRun, error) {
			return s.shares.GetSharedRunByIdempotencyKey(ctx, senderID, key)
		},
		byNatural: func(ctx context.Context) (*model.SharedRun, error) {
			return s.shares.GetSharedRunByRun(ctx, senderID, runID)
		},
		naturalID: func(sr *model.SharedRun) string { return sr.ID },
		updatedAt: func(sr *model.SharedRun) time.Time { return sr.UpdatedAt },
		update: func(ctx context.Context, cur *model.SharedRun) (*model.SharedRun, error) {
			if err := s.checkRecipients(ctx, senderID, recipients); err != nil {
				return nil, err
			}
			next := *cur
			next.Message = message
			next.RecipientIDs = recipients
			next.UpdatedAt = s.now()
			if err := s.shares.UpdateSharedRun(ctx, &next, key); err != nil {
				return nil, fmt.Errorf("updating shared run: %w", err)
			}
			return s.shares.GetSharedRunByRun(ctx, senderID, runID)
		},
		insert: func(ctx context.Context) (*model.SharedRun, error) {
			if _, err := s.runs.GetRun(ctx, senderID, runID); err != nil {
				return nil, err
			}
			if err := s.checkRecipients(ctx, senderID, recipients); err != nil {
				return nil, err
			}
			now := s.now()
			next := model.SharedRun{
				ID:             newID(),
				SenderID:       senderID,
				RunID:          runID,
				IdempotencyKey: key,
				Message:        message,
				RecipientIDs:   recipients,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.shares.CreateSharedRun(ctx, &next); err != nil {
				return nil, fmt.Errorf("creating shared run: %w", err)
			}
			return s.shares.GetSharedRunByRun(ctx, senderID, runID)
		},
		lastKnown: lastKnown,
	})
	if err != nil {
		return nil, 0, err
	}
	s.logger.Info("run shared",
		slog.String("userID", senderID),
		slog.String("runID", runID),
		slog.Int("recipients", len(share.RecipientIDs)),
		slog.String("outcome", outcome.String()),
	)
	return share, outcome, nil
}

// checkRecipients requires every recipient to be an accepted friend.
func (s *SharedRunService) checkRecipients(ctx context.Context, senderID string, recipients []string) error {
	friendIDs, err := s.friends.FriendIDs(ctx, senderID)
	if err != nil {
		return fmt.Errorf("loading friends: %w", err)
	}
	friends := make(map[string]bool, len(friendIDs))
	for _, id := range friendIDs {
		friends[id] = true
	}
	for _, id := range recipients {
		if !friends[id] {
			return apperror.Forbidden(fmt.Sprintf("user %s is not your friend", id))
		}
	}
	return nil
}

// uniqueRecipients trims, dedupes and bounds the recipient list.
func uniqueRecipients(senderID string, ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if id == senderID {
			return nil, apperror.ValidationFailed("recipientIds", "you cannot share a run with yourself")
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, apperror.ValidationFailed("recipientIds", "at least one recipient is required")
	}
	if len(out) > MaxRecipients {
		return nil, apperror.ValidationFailed("recipientIds",
			fmt.Sprintf("a run can be shared with at most %d friends", MaxRecipients))
	}
	return out, nil
}

// ListReceived returns runs friends shared with the caller.
func (s *SharedRunService) ListReceived(ctx context.Context, userID string) ([]model.SharedRun, error) {
	shares, err := s.shares.ListReceivedSharedRuns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing received shares: %w", err)
	}
	if shares == nil {
		shares = []model.SharedRun{}
	}
	return shares, nil
}

func (s *SharedRunService) ListSent(ctx context.Context, userID string) ([]model.SharedRun, error) {
	shares, err := s.shares.ListSentSharedRuns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sent shares: %w", err)
	}
	if shares == nil {
		shares = []model.SharedRun{}
	}
	return shares, nil
}

// Delete withdraws a share. Only the sender can delete it.
func (s *SharedRunService) Delete(ctx context.Context, senderID, id string) error {
	return s.shares.DeleteSharedRun(ctx, senderID, id)
}
