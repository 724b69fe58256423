package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

const MaxChallengeNameLength = 100

type ChallengeInput struct {
	IdempotencyKey string
	Name           string
	Description    string
	Type           string
	TargetValue    float64
	StartDate      string
	EndDate        string
}

// ChallengeService runs group challenges. The creator is enrolled on
// creation and cannot leave; only the creator can delete. Status is
// stored but never moved by the server, so an expired challenge stays
// active until a client or operator completes it.
type ChallengeService struct {
	challenges repository.ChallengeRepository
	profiles   repository.ProfileRepository
	logger     *slog.Logger
	now        Clock
}

func NewChallengeService(
	challenges repository.ChallengeRepository,
	profiles repository.ProfileRepository,
	logger *slog.Logger,
	now Clock,
) *ChallengeService {
	return &ChallengeService{challenges: challenges, profiles: profiles, logger: logger, now: now}
}

func (s *ChallengeService) Create(ctx context.Context, userID string, in ChallengeInput) (*model.Challenge, model.UpsertOutcome, error) {
	var (
		c   model.Challenge
		err error
	)
	if c.IdempotencyKey, err = requireKey(in.IdempotencyKey); err != nil {
		return nil, 0, err
	}
	if c.Name, err = requireText("name", in.Name, MaxChallengeNameLength); err != nil {
		return nil, 0, err
	}
	if c.Description, err = optionalText("description", in.Description, MaxNotesLength); err != nil {
		return nil, 0, err
	}
	c.Type = model.ChallengeType(in.Type)
	if !c.Type.Valid() {
		return nil, 0, apperror.ValidationFailed("type", "type must be distance, duration or runs")
	}
	if !(in.TargetValue > 0) {
		return nil, 0, apperror.ValidationFailed("targetValue", "targetValue must be greater than zero")
	}
	if c.StartDate, err = parseTime("startDate", in.StartDate); err != nil {
		return nil, 0, err
	}
	if c.EndDate, err = parseTime("endDate", in.EndDate); err != nil {
		return nil, 0, err
	}
	if !c.EndDate.After(c.StartDate) {
		return nil, 0, apperror.ValidationFailed("endDate", "endDate must be after startDate")
	}
	c.TargetValue = in.TargetValue

	challenge, outcome, err := runUpsert(ctx, upsert[model.Challenge]{
		resource: metrics.ResourceChallenge,
		byKey: func(ctx context.Context) (*model.Challenge, error) {
			return s.challenges.GetChallengeByIdempotencyKey(ctx, userID, c.IdempotencyKey)
		},
		insert: func(ctx context.Context) (*model.Challenge, error) {
			name, err := displayName(ctx, s.profiles, userID)
			if err != nil {
				return nil, err
			}
			next := c
			next.ID = newID()
			next.CreatorID = userID
			next.Status = model.ChallengeActive
			next.CreatedAt = s.now()
			creator := &model.Participant{UserID: userID, DisplayName: name, JoinedAt: next.CreatedAt}
			if err := s.challenges.CreateChallenge(ctx, &next, creator); err != nil {
				return nil, fmt.Errorf("creating challenge: %w", err)
			}
			next.Participants = []model.Participant{*creator}
			return &next, nil
		},
	})
	if err != nil {
		return nil, 0, err
	}
	if outcome == model.Existing {
		replayed, err := s.Get(ctx, challenge.ID)
		if err != nil {
			return nil, 0, err
		}
		return replayed, outcome, nil
	}
	if outcome == model.Created {
		s.logger.Info("challenge created",
			slog.String("userID", userID),
			slog.String("challengeID", challenge.ID),
			slog.String("type", string(challenge.Type)),
		)
	}
	return challenge, outcome, nil
}

// Get returns a challenge with its leaderboard.
func (s *ChallengeService) Get(ctx context.Context, challengeID string) (*model.Challenge, error) {
	c, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	participants, err := s.challenges.ListParticipants(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	if participants == nil {
		participants = []model.Participant{}
	}
	c.Participants = participants
	return c, nil
}

// List returns the challenges the caller takes part in.
func (s *ChallengeService) List(ctx context.Context, userID string) ([]model.Challenge, error) {
	list, err := s.challenges.ListChallengesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing challenges: %w", err)
	}
	if list == nil {
		list = []model.Challenge{}
	}
	return list, nil
}

func (s *ChallengeService) Join(ctx context.Context, userID, challengeID string) (*model.Challenge, error) {
	c, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ChallengeActive {
		return nil, apperror.Conflict("challenge", "challenge is no longer active")
	}

	name, err := displayName(ctx, s.profiles, userID)
	if err != nil {
		return nil, err
	}
	p := &model.Participant{UserID: userID, DisplayName: name, JoinedAt: s.now()}
	if err := s.challenges.AddParticipant(ctx, challengeID, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("challenge", "you have already joined this challenge")
		}
		return nil, fmt.Errorf("joining challenge: %w", err)
	}

	s.logger.Info("challenge joined", slog.String("userID", userID), slog.String("challengeID", challengeID))
	return s.Get(ctx, challengeID)
}

func (s *ChallengeService) Leave(ctx context.Context, userID, challengeID string) error {
	c, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if c.CreatorID == userID {
		return apperror.Forbidden("the creator cannot leave a challenge; delete it instead")
	}
	if err := s.challenges.RemoveParticipant(ctx, challengeID, userID); err != nil {
		return err
	}
	s.logger.Info("challenge left", slog.String("userID", userID), slog.String("challengeID", challengeID))
	return nil
}

// UpdateProgress replaces the caller's progress value.
func (s *ChallengeService) UpdateProgress(ctx context.Context, userID, challengeID string, progress float64) (*model.Challenge, error) {
	if err := nonNegative("progress", progress); err != nil {
		return nil, err
	}
	c, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ChallengeActive {
		return nil, apperror.Conflict("challenge", "challenge is no longer active")
	}
	if _, err := s.challenges.GetParticipant(ctx, challengeID, userID); err != nil {
		if isNotFound(err) {
			return nil, apperror.Forbidden("you are not taking part in this challenge")
		}
		return nil, fmt.Errorf("looking up participant: %w", err)
	}
	if err := s.challenges.UpdateProgress(ctx, challengeID, userID, progress); err != nil {
		return nil, err
	}
	return s.Get(ctx, challengeID)
}

func (s *ChallengeService) Delete(ctx context.Context, userID, challengeID string) error {
	c, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if c.CreatorID != userID {
		return apperror.Forbidden("only the creator can delete a challenge")
	}
	if err := s.challenges.DeleteChallenge(ctx, challengeID); err != nil {
		return err
	}
	s.logger.Info("challenge deleted", slog.String("userID", userID), slog.String("challengeID", challengeID))
	return nil
}
