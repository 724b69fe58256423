package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

const MaxDisplayNameLength = 50

// ProfileService manages display names. Other services read names through
// displayName so a missing profile shows as model.DefaultDisplayName.
type ProfileService struct {
	profiles repository.ProfileRepository
	logger   *slog.Logger
	now      Clock
}

func NewProfileService(profiles repository.ProfileRepository, logger *slog.Logger, now Clock) *ProfileService {
	return &ProfileService{profiles: profiles, logger: logger, now: now}
}

// Get returns the caller's profile, or a placeholder if they never set one.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return &model.Profile{UserID: userID, DisplayName: model.DefaultDisplayName}, nil
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// Update sets the caller's display name (1 to 50 characters).
func (s *ProfileService) Update(ctx context.Context, userID, displayName string) (*model.Profile, error) {
	name, err := requireText("displayName", displayName, MaxDisplayNameLength)
	if err != nil {
		return nil, err
	}

	p := &model.Profile{UserID: userID, DisplayName: name, UpdatedAt: s.now()}
	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	s.logger.Info("profile updated", slog.String("userID", userID))
	return p, nil
}

// displayName resolves one user's name for snapshots (challenge participants).
func displayName(ctx context.Context, profiles repository.ProfileRepository, userID string) (string, error) {
	p, err := profiles.GetProfile(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return model.DefaultDisplayName, nil
		}
		return "", fmt.Errorf("getting display name: %w", err)
	}
	return p.DisplayName, nil
}

// displayNames resolves many users at once, filling in the placeholder.
func displayNames(ctx context.Context, profiles repository.ProfileRepository, userIDs []string) (map[string]string, error) {
	names, err := profiles.DisplayNames(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("getting display names: %w", err)
	}
	for _, id := range userIDs {
		if _, ok := names[id]; !ok {
			names[id] = model.DefaultDisplayName
		}
	}
	return names, nil
}
