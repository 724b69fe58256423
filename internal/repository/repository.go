// Package repository declares the storage contracts the service layer
// depends on. The only implementation lives in repository/sqlite; service
// tests run against it with an in-memory database.
//
// ERROR CONTRACT:
//   - lookups that match nothing return an apperror.NotFound
//   - inserts that hit a uniqueness constraint return an error wrapping ErrDuplicate
//   - so do updates whose idempotency key was already applied
//
// Services rely on the second rule to turn a lost insert race into
// "return the record that won".
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/trainsync/internal/model"
)

// ErrDuplicate is wrapped by any insert that violates a UNIQUE constraint.
var ErrDuplicate = errors.New("repository: duplicate key")

type ListOptions struct {
	Limit  int
	Offset int
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByRefreshHash(ctx context.Context, hash string) (*model.Account, error)
	// SetRefreshTokenHash overwrites the stored digest; "" logs the account out.
	SetRefreshTokenHash(ctx context.Context, id, hash string) error
	// SetPassword stores a new password hash and clears the refresh-token
	// digest and any pending reset code.
	SetPassword(ctx context.Context, id, passwordHash string) error
	SetVerificationCode(ctx context.Context, id string, code model.OneTimeCode) error
	SetResetCode(ctx context.Context, id string, code model.OneTimeCode) error
	// MarkEmailVerified sets the verified flag and clears the verification code.
	MarkEmailVerified(ctx context.Context, id string) error
	SetDeviceToken(ctx context.Context, id, token string) error
	// DeleteAccount removes the account and everything it owns in one transaction.
	DeleteAccount(ctx context.Context, id string) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, profile *model.Profile) error
	// DisplayNames returns names for the ids that have a profile.
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

type RunRepository interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, ownerID, id string) (*model.Run, error)
	GetRunByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Run, error)
	ListRuns(ctx context.Context, ownerID string, opts ListOptions) ([]model.Run, error)
	// UpdateRun and the other Update methods record appliedKey so that the
	// matching GetByIdempotencyKey finds the record on a retry. A key that is
	// already recorded returns ErrDuplicate and changes nothing.
	UpdateRun(ctx context.Context, run *model.Run, appliedKey string) error
	DeleteRun(ctx context.Context, ownerID, id string) error
}

type RaceRepository interface {
	CreateRace(ctx context.Context, race *model.Race) error
	GetRaceByKey(ctx context.Context, ownerID, raceKey string) (*model.Race, error)
	GetRaceByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Race, error)
	ListRaces(ctx context.Context, ownerID string) ([]model.Race, error)
	UpdateRace(ctx context.Context, race *model.Race, appliedKey string) error
	DeleteRace(ctx context.Context, ownerID, raceKey string) error
}

type TrainingPlanRepository interface {
	CreatePlan(ctx context.Context, plan *model.TrainingPlan) error
	GetPlan(ctx context.Context, ownerID string) (*model.TrainingPlan, error)
	GetPlanByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.TrainingPlan, error)
	UpdatePlan(ctx context.Context, plan *model.TrainingPlan, appliedKey string) error
	DeletePlan(ctx context.Context, ownerID string) error
}

type SharedRunRepository interface {
	CreateSharedRun(ctx context.Context, share *model.SharedRun) error
	GetSharedRunByRun(ctx context.Context, senderID, runID string) (*model.SharedRun, error)
	GetSharedRunByIdempotencyKey(ctx context.Context, senderID, key string) (*model.SharedRun, error)
	// UpdateSharedRun replaces the message and the recipient list.
	UpdateSharedRun(ctx context.Context, share *model.SharedRun, appliedKey string) error
	ListReceivedSharedRuns(ctx context.Context, recipientID string) ([]model.SharedRun, error)
	ListSentSharedRuns(ctx context.Context, senderID string) ([]model.SharedRun, error)
	DeleteSharedRun(ctx context.Context, senderID, id string) error
}

type FriendRepository interface {
	CreateConnection(ctx context.Context, conn *model.FriendConnection) error
	GetConnection(ctx context.Context, id string) (*model.FriendConnection, error)
	GetConnectionByPair(ctx context.Context, a, b string) (*model.FriendConnection, error)
	// UpdateConnectionStatus moves a connection out of pending. It matches
	// only pending rows so two racing responses can't both win.
	UpdateConnectionStatus(ctx context.Context, id string, status model.FriendStatus, acceptedAt *time.Time) error
	DeleteConnection(ctx context.Context, id string) error
	ListConnections(ctx context.Context, userID string, status model.FriendStatus) ([]model.FriendConnection, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

type FeedRepository interface {
	CreateFeedItem(ctx context.Context, item *model.FeedItem) error
	GetFeedItem(ctx context.Context, id string) (*model.FeedItem, error)
	GetFeedItemByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.FeedItem, error)
	ListFeed(ctx context.Context, ownerIDs []string, limit int) ([]model.FeedItem, error)
	LikeSummaries(ctx context.Context, itemIDs []string, viewerID string) (map[string]model.LikeSummary, error)
	ToggleLike(ctx context.Context, itemID, userID string) (*model.LikeResult, error)
}

type ChallengeRepository interface {
	// CreateChallenge inserts the challenge and its creator's participation together.
	CreateChallenge(ctx context.Context, challenge *model.Challenge, creator *model.Participant) error
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	GetChallengeByIdempotencyKey(ctx context.Context, creatorID, key string) (*model.Challenge, error)
	ListChallengesForUser(ctx context.Context, userID string) ([]model.Challenge, error)
	ListParticipants(ctx context.Context, challengeID string) ([]model.Participant, error)
	GetParticipant(ctx context.Context, challengeID, userID string) (*model.Participant, error)
	AddParticipant(ctx context.Context, challengeID string, p *model.Participant) error
	RemoveParticipant(ctx context.Context, challengeID, userID string) error
	UpdateProgress(ctx context.Context, challengeID, userID string, progress float64) error
	DeleteChallenge(ctx context.Context, id string) error
}
