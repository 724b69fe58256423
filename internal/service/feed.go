package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

// Feed paging and post limits.
const (
	DefaultFeedLimit      = 50
	MaxFeedLimit          = 200
	MaxActivityTypeLength = 50
	MaxFeedStatsBytes     = 8 << 10
	maxFeedSubtitleLength = MaxTitleLength
)

type FeedPostInput struct {
	IdempotencyKey string
	ActivityType   string
	Title          string
	Subtitle       string
	Stats          json.RawMessage
	OccurredAt     string
}

// FeedService aggregates posts from the caller and their accepted friends.
type FeedService struct {
	feed    repository.FeedRepository
	friends repository.FriendRepository
	logger  *slog.Logger
	now     Clock
}

func NewFeedService(feed repository.FeedRepository, friends repository.FriendRepository, logger *slog.Logger, now Clock) *FeedService {
	return &FeedService{feed: feed, friends: friends, logger: logger, now: now}
}

// GetFeed returns the newest posts visible to userID with like state filled in.
func (s *FeedService) GetFeed(ctx context.Context, userID string, limit int) ([]model.FeedItem, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	ownerIDs, err := s.visibleOwners(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.feed.ListFeed(ctx, ownerIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("listing feed: %w", err)
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	likes, err := s.feed.LikeSummaries(ctx, ids, userID)
	if err != nil {
		return nil, fmt.Errorf("loading likes: %w", err)
	}
	for i := range items {
		sum := likes[items[i].ID]
		items[i].LikeCount = sum.Count
		items[i].LikedByMe = sum.LikedByMe
	}
	return items, nil
}

// Publish posts an activity. Posts are immutable, so a repeated key always
// returns the original post.
func (s *FeedService) Publish(ctx context.Context, userID string, in FeedPostInput) (*model.FeedItem, model.UpsertOutcome, error) {
	var (
		item model.FeedItem
		err  error
	)
	if item.IdempotencyKey, err = requireKey(in.IdempotencyKey); err != nil {
		return nil, 0, err
	}
	if item.ActivityType, err = requireText("activityType", in.ActivityType, MaxActivityTypeLength); err != nil {
		return nil, 0, err
	}
	if item.Title, err = requireText("title", in.Title, MaxTitleLength); err != nil {
		return nil, 0, err
	}
	if item.Subtitle, err = optionalText("subtitle", in.Subtitle, maxFeedSubtitleLength); err != nil {
		return nil, 0, err
	}
	if item.OccurredAt, err = parseTime("occurredAt", in.OccurredAt); err != nil {
		return nil, 0, err
	}
	if len(in.Stats) > 0 && string(in.Stats) != "null" {
		if len(in.Stats) > MaxFeedStatsBytes {
			return nil, 0, apperror.ValidationFailed("stats",
				fmt.Sprintf("stats must be %d bytes or less", MaxFeedStatsBytes))
		}
		if !json.Valid(in.Stats) {
			return nil, 0, apperror.ValidationFailed("stats", "stats must be valid JSON")
		}
		item.Stats = in.Stats
	}

	post, outcome, err := runUpsert(ctx, upsert[model.FeedItem]{
		resource: metrics.ResourceFeedItem,
		byKey: func(ctx context.Context) (*model.FeedItem, error) {
			return s.feed.GetFeedItemByIdempotencyKey(ctx, userID, item.IdempotencyKey)
		},
		insert: func(ctx context.Context) (*model.FeedItem, error) {
			next := item
			next.ID = newID()
			next.OwnerID = userID
			next.CreatedAt = s.now()
			if err := s.feed.CreateFeedItem(ctx, &next); err != nil {
				return nil, fmt.Errorf("creating feed item: %w", err)
			}
			return s.feed.GetFeedItem(ctx, next.ID)
		},
	})
	if err != nil {
		return nil, 0, err
	}
	if outcome == model.Created {
		s.logger.Info("feed item published",
			slog.String("userID", userID),
			slog.String("itemID", post.ID),
			slog.String("activityType", post.ActivityType),
		)
	}
	return post, outcome, nil
}

// ToggleLike flips the caller's like on a post they can see. Posts outside
// the caller's feed are reported as missing.
func (s *FeedService) ToggleLike(ctx context.Context, userID, itemID string) (*model.LikeResult, error) {
	item, err := s.feed.GetFeedItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	owners, err := s.visibleOwners(ctx, userID)
	if err != nil {
		return nil, err
	}
	visible := false
	for _, id := range owners {
		if id == item.OwnerID {
			visible = true
			break
		}
	}
	if !visible {
		return nil, apperror.NotFound("feed item", itemID)
	}

	result, err := s.feed.ToggleLike(ctx, itemID, userID)
	if err != nil {
		return nil, fmt.Errorf("toggling like: %w", err)
	}
	return result, nil
}

// visibleOwners is the caller plus everyone they are friends with.
func (s *FeedService) visibleOwners(ctx context.Context, userID string) ([]string, error) {
	friendIDs, err := s.friends.FriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading friends: %w", err)
	}
	return append([]string{userID}, friendIDs...), nil
}
