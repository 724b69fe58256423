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

// MaxRunIDLength bounds client-chosen run ids.
const MaxRunIDLength = 64

// RunInput is an uploaded run. Timestamps arrive as RFC 3339 strings and are
// parsed before anything touches the store.
type RunInput struct {
	ID              string
	IdempotencyKey  string
	Title           string
	DistanceKm      float64
	DurationSeconds float64
	StartedAt       string
	TrackPoints     []model.TrackPoint
	Splits          []model.Split
	// LastKnownUpdate is the updatedAt of the copy the client edited, if any.
	LastKnownUpdate string
}

type validRun struct {
	run       model.Run
	lastKnown *time.Time
}

func (in RunInput) validate() (*validRun, error) {
	var v validRun
	var err error

	if v.run.IdempotencyKey, err = requireKey(in.IdempotencyKey); err != nil {
		return nil, err
	}
	v.run.ID = strings.TrimSpace(in.ID)
	if len(v.run.ID) > MaxRunIDLength {
		return nil, apperror.ValidationFailed("id", fmt.Sprintf("id must be %d characters or less", MaxRunIDLength))
	}
	if v.run.Title, err = optionalText("title", in.Title, MaxTitleLength); err != nil {
		return nil, err
	}
	if err := nonNegative("distanceKm", in.DistanceKm); err != nil {
		return nil, err
	}
	if err := nonNegative("durationSeconds", in.DurationSeconds); err != nil {
		return nil, err
	}
	if len(in.TrackPoints) > model.MaxTrackPoints {
		return nil, apperror.ValidationFailed("trackPoints",
			fmt.Sprintf("a run may carry at most %d track points", model.MaxTrackPoints))
	}
	if len(in.Splits) > model.MaxSplits {
		return nil, apperror.ValidationFailed("splits",
			fmt.Sprintf("a run may carry at most %d splits", model.MaxSplits))
	}
	if v.run.StartedAt, err = parseTime("startedAt", in.StartedAt); err != nil {
		return nil, err
	}
	if v.lastKnown, err = parseOptionalTime("lastKnownUpdate", in.LastKnownUpdate); err != nil {
		return nil, err
	}

	v.run.DistanceKm = in.DistanceKm
	v.run.DurationSeconds = in.DurationSeconds
	v.run.TrackPoints = in.TrackPoints
	v.run.Splits = in.Splits
	return &v, nil
}

// RunService syncs recorded runs. A run's id is its natural key.
type RunService struct {
	runs   repository.RunRepository
	logger *slog.Logger
	now    Clock
}

func NewRunService(runs repository.RunRepository, logger *slog.Logger, now Clock) *RunService {
	return &RunService{runs: runs, logger: logger, now: now}
}

// Upload stores a run idempotently. Without an id the server assigns one
// and the upload can only create.
func (s *RunService) Upload(ctx context.Context, ownerID string, in RunInput) (*model.Run, model.UpsertOutcome, error) {
	v, err := in.validate()
	if err != nil {
		return nil, 0, err
	}

	u := upsert[model.Run]{
		resource: metrics.ResourceRun,
		byKey: func(ctx context.Context) (*model.Run, error) {
			return s.runs.GetRunByIdempotencyKey(ctx, ownerID, v.run.IdempotencyKey)
		},
		naturalID: func(r *model.Run) string { return r.ID },
		updatedAt: func(r *model.Run) time.Time { return r.UpdatedAt },
		update: func(ctx context.Context, cur *model.Run) (*model.Run, error) {
			next := v.run
			next.ID, next.OwnerID = cur.ID, cur.OwnerID
			next.IdempotencyKey = cur.IdempotencyKey
			next.CreatedAt, next.UpdatedAt = cur.CreatedAt, s.now()
			if err := s.runs.UpdateRun(ctx, &next, v.run.IdempotencyKey); err != nil {
				return nil, fmt.Errorf("updating run: %w", err)
			}
			return &next, nil
		},
		insert: func(ctx context.Context) (*model.Run, error) {
			r := v.run
			if r.ID == "" {
				r.ID = newID()
			}
			r.OwnerID = ownerID
			r.CreatedAt = s.now()
			r.UpdatedAt = r.CreatedAt
			if err := s.runs.CreateRun(ctx, &r); err != nil {
				return nil, fmt.Errorf("creating run: %w", err)
			}
			return &r, nil
		},
		lastKnown: v.lastKnown,
	}
	if v.run.ID != "" {
		u.byNatural = func(ctx context.Context) (*model.Run, error) {
			return s.runs.GetRun(ctx, ownerID, v.run.ID)
		}
	}

	run, outcome, err := runUpsert(ctx, u)
	if err != nil {
		return nil, 0, err
	}
	s.logger.Info("run synced",
		slog.String("userID", ownerID),
		slog.String("runID", run.ID),
		slog.String("outcome", outcome.String()),
	)
	return run, outcome, nil
}

// Put is Upload addressed by URL: the path id wins over any id in the body.
func (s *RunService) Put(ctx context.Context, ownerID, id string, in RunInput) (*model.Run, model.UpsertOutcome, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, 0, apperror.ValidationFailed("id", "run id is required")
	}
	in.ID = id
	return s.Upload(ctx, ownerID, in)
}

func (s *RunService) Get(ctx context.Context, ownerID, id string) (*model.Run, error) {
	return s.runs.GetRun(ctx, ownerID, id)
}

// List returns the owner's runs, newest first.
func (s *RunService) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Run, error) {
	limit, offset = clampPage(limit, offset)
	runs, err := s.runs.ListRuns(ctx, ownerID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []model.Run{}
	}
	return runs, nil
}

// Delete removes the run along with any shares of it.
func (s *RunService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.runs.DeleteRun(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("run deleted", slog.String("userID", ownerID), slog.String("runID", id))
	return nil
}
