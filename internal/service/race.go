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

const MaxRaceKeyLength = 100

type RaceInput struct {
	RaceKey         string
	IdempotencyKey  string
	Name            string
	RaceDate        string
	DistanceKm      float64
	GoalSeconds     int
	Notes           string
	LastKnownUpdate string
}

// RaceService syncs the race calendar. The client's raceKey is the natural key.
type RaceService struct {
	races  repository.RaceRepository
	logger *slog.Logger
	now    Clock
}

func NewRaceService(races repository.RaceRepository, logger *slog.Logger, now Clock) *RaceService {
	return &RaceService{races: races, logger: logger, now: now}
}

func (s *RaceService) Upload(ctx context.Context, ownerID string, in RaceInput) (*model.Race, model.UpsertOutcome, error) {
	var (
		r   model.Race
		err error
	)
	if r.IdempotencyKey, err = requireKey(in.IdempotencyKey); err != nil {
		return nil, 0, err
	}
	if r.RaceKey, err = requireText("raceKey", in.RaceKey, MaxRaceKeyLength); err != nil {
		return nil, 0, err
	}
	if r.Name, err = requireText("name", in.Name, MaxTitleLength); err != nil {
		return nil, 0, err
	}
	if r.Notes, err = optionalText("notes", in.Notes, MaxNotesLength); err != nil {
		return nil, 0, err
	}
	if r.RaceDate, err = parseTime("raceDate", in.RaceDate); err != nil {
		return nil, 0, err
	}
	if err := nonNegative("distanceKm", in.DistanceKm); err != nil {
		return nil, 0, err
	}
	if in.GoalSeconds < 0 {
		return nil, 0, apperror.ValidationFailed("goalSeconds", "goalSeconds must be zero or greater")
	}
	lastKnown, err := parseOptionalTime("lastKnownUpdate", in.LastKnownUpdate)
	if err != nil {
		return nil, 0, err
	}
	r.DistanceKm = in.DistanceKm
	r.GoalSeconds = in.GoalSeconds

	race, outcome, err := runUpsert(ctx, upsert[model.Race]{
		resource: metrics.ResourceRace,
		byKey: func(ctx context.Context) (*model.Race, error) {
			return s.races.GetRaceByIdempotencyKey(ctx, ownerID, r.IdempotencyKey)
		},
		byNatural: func(ctx context.Context) (*model.Race, error) {
			return s.races.GetRaceByKey(ctx, ownerID, r.RaceKey)
		},
		naturalID: func(r *model.Race) string { return r.RaceKey },
		updatedAt: func(r *model.Race) time.Time { return r.UpdatedAt },
		update: func(ctx context.Context, cur *model.Race) (*model.Race, error) {
			next := r
			next.ID, next.OwnerID = cur.ID, cur.OwnerID
			next.IdempotencyKey = cur.IdempotencyKey
			next.CreatedAt, next.UpdatedAt = cur.CreatedAt, s.now()
			if err := s.races.UpdateRace(ctx, &next, r.IdempotencyKey); err != nil {
				return nil, fmt.Errorf("updating race: %w", err)
			}
			return &next, nil
		},
		insert: func(ctx context.Context) (*model.Race, error) {
			next := r
			next.ID = newID()
			next.OwnerID = ownerID
			next.CreatedAt = s.now()
			next.UpdatedAt = next.CreatedAt
			if err := s.races.CreateRace(ctx, &next); err != nil {
				return nil, fmt.Errorf("creating race: %w", err)
			}
			return &next, nil
		},
		lastKnown: lastKnown,
	})
	if err != nil {
		return nil, 0, err
	}
	s.logger.Info("race synced",
		slog.String("userID", ownerID),
		slog.String("raceKey", race.RaceKey),
		slog.String("outcome", outcome.String()),
	)
	return race, outcome, nil
}

// Put is Upload addressed by URL; the path key wins over the body.
func (s *RaceService) Put(ctx context.Context, ownerID, raceKey string, in RaceInput) (*model.Race, model.UpsertOutcome, error) {
	in.RaceKey = strings.TrimSpace(raceKey)
	return s.Upload(ctx, ownerID, in)
}

func (s *RaceService) Get(ctx context.Context, ownerID, raceKey string) (*model.Race, error) {
	return s.races.GetRaceByKey(ctx, ownerID, raceKey)
}

// List returns the calendar ordered by race date.
func (s *RaceService) List(ctx context.Context, ownerID string) ([]model.Race, error) {
	races, err := s.races.ListRaces(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing races: %w", err)
	}
	if races == nil {
		races = []model.Race{}
	}
	return races, nil
}

func (s *RaceService) Delete(ctx context.Context, ownerID, raceKey string) error {
	return s.races.DeleteRace(ctx, ownerID, raceKey)
}
