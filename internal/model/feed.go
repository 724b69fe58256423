package model

import (
	"encoding/json"
	"time"
)

// FeedItem is a post in the activity feed. Posts are immutable once created.
type FeedItem struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	OwnerName      string          `json:"ownerName"`
	IdempotencyKey string          `json:"idempotencyKey"`
	ActivityType   string          `json:"activityType"`
	Title          string          `json:"title"`
	Subtitle       string          `json:"subtitle"`
	Stats          json.RawMessage `json:"stats,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
	CreatedAt      time.Time       `json:"createdAt"`
	LikeCount      int             `json:"likeCount"`
	LikedByMe      bool            `json:"likedByMe"`
}

// LikeResult is the state of a like after a toggle.
type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

// LikeSummary is the like state of one item for one viewer.
type LikeSummary struct {
	Count     int
	LikedByMe bool
}
