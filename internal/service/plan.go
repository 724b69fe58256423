package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

// Plan shape limits.
const (
	MaxPlanWeeks       = 104
	MaxWorkoutsPerWeek = 21
)

type PlanInput struct {
	IdempotencyKey  string
	Name            string
	GoalRaceID      string
	StartDate       string
	EndDate         string
	Weeks           []model.PlanWeek
	LastKnownUpdate string
}

func (in PlanInput) validate() (*model.TrainingPlan, *time.Time, error) {
	var (
		p   model.TrainingPlan
		err error
	)
	if p.IdempotencyKey, err = requireKey(in.IdempotencyKey); err != nil {
		return nil, nil, err
	}
	if p.Name, err = requireText("name", in.Name, MaxTitleLength); err != nil {
		return nil, nil, err
	}
	if p.GoalRaceID, err = optionalText("goalRaceId", in.GoalRaceID, MaxRaceKeyLength); err != nil {
		return nil, nil, err
	}
	if p.StartDate, err = parseTime("startDate", in.StartDate); err != nil {
		return nil, nil, err
	}
	if p.EndDate, err = parseTime("endDate", in.EndDate); err != nil {
		return nil, nil, err
	}
	if !p.EndDate.After(p.StartDate) {
		return nil, nil, apperror.ValidationFailed("endDate", "endDate must be after startDate")
	}
	if len(in.Weeks) > MaxPlanWeeks {
		return nil, nil, apperror.ValidationFailed("weeks",
			fmt.Sprintf("a plan may span at most %d weeks", MaxPlanWeeks))
	}
	for _, w := range in.Weeks {
		if len(w.Workouts) > MaxWorkoutsPerWeek {
			return nil, nil, apperror.ValidationFailed("weeks",
				fmt.Sprintf("week %d has more than %d workouts", w.Number, MaxWorkoutsPerWeek))
		}
		if err := nonNegative("weeks", w.TargetKm); err != nil {
			return nil, nil, err
		}
		for _, wo := range w.Workouts {
			if wo.Day < 1 || wo.Day > 7 {
				return nil, nil, apperror.ValidationFailed("weeks", "workout day must be between 1 and 7")
			}
		}
	}
	lastKnown, err := parseOptionalTime("lastKnownUpdate", in.LastKnownUpdate)
	if err != nil {
		return nil, nil, err
	}

	p.Weeks = in.Weeks
	if p.Weeks == nil {
		p.Weeks = []model.PlanWeek{}
	}
	return &p, lastKnown, nil
}

// PlanService syncs the single training plan each account may hold.
type PlanService struct {
	plans  repository.TrainingPlanRepository
	logger *slog.Logger
	now    Clock
}

func NewPlanService(plans repository.TrainingPlanRepository, logger *slog.Logger, now Clock) *PlanService {
	return &PlanService{plans: plans, logger: logger, now: now}
}

// Save creates the plan or replaces the one already stored.
func (s *PlanService) Save(ctx context.Context, ownerID string, in PlanInput) (*model.TrainingPlan, model.UpsertOutcome, error) {
	p, lastKnown, err := in.validate()
	if err != nil {
		return nil, 0, err
	}

	plan, outcome, err := runUpsert(ctx, upsert[model.TrainingPlan]{
		resource: metrics.ResourceTrainingPlan,
		byKey: func(ctx context.Context) (*model.TrainingPlan, error) {
			return s.plans.GetPlanByIdempotencyKey(ctx, ownerID, p.IdempotencyKey)
		},
		byNatural: func(ctx context.Context) (*model.TrainingPlan, error) {
			return s.plans.GetPlan(ctx, ownerID)
		},
		naturalID: func(p *model.TrainingPlan) string { return p.ID },
		updatedAt: func(p *model.TrainingPlan) time.Time { return p.UpdatedAt },
		update: func(ctx context.Context, cur *model.TrainingPlan) (*model.TrainingPlan, error) {
			next := *p
			next.ID, next.OwnerID = cur.ID, cur.OwnerID
			next.IdempotencyKey = cur.IdempotencyKey
			next.CreatedAt, next.UpdatedAt = cur.CreatedAt, s.now()
			if err := s.plans.UpdatePlan(ctx, &next, p.IdempotencyKey); err != nil {
				return nil, fmt.Errorf("updating training plan: %w", err)
			}
			return &next, nil
		},
		insert: func(ctx context.Context) (*model.TrainingPlan, error) {
			next := *p
			next.ID = newID()
			next.OwnerID = ownerID
			next.CreatedAt = s.now()
			next.UpdatedAt = next.CreatedAt
			if err := s.plans.CreatePlan(ctx, &next); err != nil {
				return nil, fmt.Errorf("creating training plan: %w", err)
			}
			return &next, nil
		},
		lastKnown: lastKnown,
	})
	if err != nil {
		return nil, 0, err
	}
	s.logger.Info("training plan synced",
		slog.String("userID", ownerID),
		slog.String("planID", plan.ID),
		slog.String("outcome", outcome.String()),
	)
	return plan, outcome, nil
}

func (s *PlanService) Get(ctx context.Context, ownerID string) (*model.TrainingPlan, error) {
	return s.plans.GetPlan(ctx, ownerID)
}

func (s *PlanService) Delete(ctx context.Context, ownerID string) error {
	return s.plans.DeletePlan(ctx, ownerID)
}
