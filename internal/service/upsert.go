package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

// upsert describes one idempotent upload of a T. Every synced resource
// fills one in; runUpsert holds the shared contract:
//
//  1. byKey finds a record already created or updated with this
//     idempotency key → return it untouched (Existing).
//  2. byNatural finds the record at the natural key (run id, race key, the
//     owner's single plan…). If the client's lastKnown precedes its
//     updatedAt → Conflict; otherwise update it (Updated). The update
//     stores the key, so a retry stops at step 1.
//  3. insert a new record (Created).
//
// Step 2 is skipped when byNatural is nil (feed posts, challenges). A
// write that loses a race on its idempotency key (repository.ErrDuplicate)
// falls back to step 1's lookup so both racing clients see the same record.
type upsert[T any] struct {
	resource  string // metrics label and error wording
	byKey     func(ctx context.Context) (*T, error)
	byNatural func(ctx context.Context) (*T, error)
	naturalID func(*T) string
	updatedAt func(*T) time.Time
	update    func(ctx context.Context, current *T) (*T, error)
	insert    func(ctx context.Context) (*T, error)
	lastKnown *time.Time
}

func runUpsert[T any](ctx context.Context, u upsert[T]) (*T, model.UpsertOutcome, error) {
	record, outcome, err := u.run(ctx)
	switch {
	case err == nil:
		metrics.UpsertOutcomesTotal.WithLabelValues(u.resource, outcome.String()).Inc()
	case errors.Is(err, apperror.ErrConflict):
		metrics.UpsertOutcomesTotal.WithLabelValues(u.resource, metrics.OutcomeStale).Inc()
	}
	return record, outcome, err
}

func (u upsert[T]) run(ctx context.Context) (*T, model.UpsertOutcome, error) {
	existing, err := u.byKey(ctx)
	if err == nil {
		return existing, model.Existing, nil
	}
	if !isNotFound(err) {
		return nil, 0, fmt.Errorf("looking up %s by idempotency key: %w", u.resource, err)
	}

	if u.byNatural != nil {
		current, err := u.byNatural(ctx)
		switch {
		case err == nil:
			if u.lastKnown != nil && u.lastKnown.Before(u.updatedAt(current)) {
				return nil, 0, apperror.StaleWrite(u.resource, u.naturalID(current))
			}
			updated, err := u.update(ctx, current)
			if errors.Is(err, repository.ErrDuplicate) {
				return u.raceWinner(ctx)
			}
			if err != nil {
				return nil, 0, err
			}
			return updated, model.Updated, nil
		case !isNotFound(err):
			return nil, 0, fmt.Errorf("looking up %s: %w", u.resource, err)
		}
	}

	created, err := u.insert(ctx)
	if err == nil {
		return created, model.Created, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, 0, err
	}
	return u.raceWinner(ctx)
}

// raceWinner returns the record written by the request that claimed the
// idempotency key first.
func (u upsert[T]) raceWinner(ctx context.Context) (*T, model.UpsertOutcome, error) {
	if winner, err := u.byKey(ctx); err == nil {
		return winner, model.Existing, nil
	}
	return nil, 0, apperror.Conflict(u.resource, "a concurrent upload changed this record; fetch it and retry")
}
