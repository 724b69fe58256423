package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

func raceInput(raceKey, key string) RaceInput {
	return RaceInput{
		RaceKey:        raceKey,
		IdempotencyKey: key,
		Name:           "Berlin Marathon",
		RaceDate:       "2026-09-27T07:15:00Z",
		DistanceKm:     42.195,
		GoalSeconds:    3 * 3600,
	}
}

func planInput(key string) PlanInput {
	return PlanInput{
		IdempotencyKey: key,
		Name:           "Sub-3 block",
		StartDate:      "2026-06-01T00:00:00Z",
		EndDate:        "2026-09-27T00:00:00Z",
		Weeks: []model.PlanWeek{{Number: 1, TargetKm: 60, Workouts: []model.Workout{
			{Day: 2, Kind: "intervals", DistanceKm: 12},
		}}},
	}
}

// =========================================================================
// UPDATE RETRY TESTS
// =========================================================================

func TestRunPut_RetriedUpdateReturnsFirstResult(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	created, _, err := env.runs.Upload(ctx, alice, runInput("r1", "k1"))
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	edit := runInput("", "k2")
	edit.Title = "Evening run"
	edit.LastKnownUpdate = rfc3339(created.UpdatedAt)
	first, outcome, err := env.runs.Put(ctx, alice, "r1", edit)
	require.NoError(t, err)
	assert.Equal(t, model.Updated, outcome)

	// The response was lost; the client sends the identical request again.
	env.clock.Advance(time.Minute)
	retry, outcome, err := env.runs.Put(ctx, alice, "r1", edit)
	if err != nil {
		t.Fatalf("retried Put() error = %v", err)
	}
	assert.Equal(t, model.Existing, outcome)
	assert.Equal(t, "Evening run", retry.Title)
	assert.True(t, retry.UpdatedAt.Equal(first.UpdatedAt), "retry must not write again")

	// A genuinely new edit based on the old copy is still stale.
	other := runInput("", "k3")
	other.LastKnownUpdate = rfc3339(created.UpdatedAt)
	_, _, err = env.runs.Put(ctx, alice, "r1", other)
	requireKind(t, err, apperror.ErrConflict)
}

func TestRacePut_RetriedUpdateReturnsFirstResult(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	created, _, err := env.races.Upload(ctx, alice, raceInput("berlin", "k1"))
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	edit := raceInput("berlin", "k2")
	edit.Notes = "pace 4:50"
	edit.LastKnownUpdate = rfc3339(created.UpdatedAt)
	_, outcome, err := env.races.Put(ctx, alice, "berlin", edit)
	require.NoError(t, err)
	assert.Equal(t, model.Updated, outcome)

	env.clock.Advance(time.Minute)
	retry, outcome, err := env.races.Put(ctx, alice, "berlin", edit)
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)
	assert.Equal(t, "pace 4:50", retry.Notes)
}

func TestPlanSave_RetriedUpdateReturnsFirstResult(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	created, _, err := env.plans.Save(ctx, alice, planInput("k1"))
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	edit := planInput("k2")
	edit.Name = "Marathon block"
	edit.LastKnownUpdate = rfc3339(created.UpdatedAt)
	_, outcome, err := env.plans.Save(ctx, alice, edit)
	require.NoError(t, err)
	assert.Equal(t, model.Updated, outcome)

	env.clock.Advance(time.Minute)
	retry, outcome, err := env.plans.Save(ctx, alice, edit)
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)
	assert.Equal(t, "Marathon block", retry.Name)
	assert.Equal(t, created.ID, retry.ID)
}

// =========================================================================
// CONCURRENT UPLOAD TESTS
// =========================================================================

func TestRunUpload_ConcurrentSameKeyStoresOnce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	const workers = 16
	var (
		wg       sync.WaitGroup
		ids      = make([]string, workers)
		outcomes = make([]model.UpsertOutcome, workers)
		errs     = make([]error, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, outcome, err := env.runs.Upload(ctx, alice, runInput("", "kx"))
			if err == nil {
				ids[i], outcomes[i] = run.ID, outcome
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	created := 0
	for i := range workers {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, ids[0], ids[i], "worker %d saw a different run", i)
		if outcomes[i] == model.Created {
			created++
		} else {
			assert.Equal(t, model.Existing, outcomes[i])
		}
	}
	assert.Equal(t, 1, created)

	runs, err := env.runs.List(ctx, alice, 0, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// item is a minimal record for driving upsert directly.
type item struct {
	id        string
	updatedAt time.Time
}

func TestUpsert_LostInsertReturnsWinner(t *testing.T) {
	winner := &item{id: "w1", updatedAt: testStart}
	lookups := 0

	got, outcome, err := runUpsert(context.Background(), upsert[item]{
		resource: metrics.ResourceRun,
		byKey: func(context.Context) (*item, error) {
			lookups++
			if lookups == 1 {
				return nil, apperror.NotFound("item", "k")
			}
			return winner, nil
		},
		naturalID: func(i *item) string { return i.id },
		updatedAt: func(i *item) time.Time { return i.updatedAt },
		insert: func(context.Context) (*item, error) {
			return nil, fmt.Errorf("creating item: %w", repository.ErrDuplicate)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)
	assert.Same(t, winner, got)
	assert.Equal(t, 2, lookups)
}

func TestUpsert_LostUpdateReturnsWinner(t *testing.T) {
	current := &item{id: "r1", updatedAt: testStart}
	winner := &item{id: "r1", updatedAt: testStart.Add(time.Second)}
	lookups := 0

	got, outcome, err := runUpsert(context.Background(), upsert[item]{
		resource: metrics.ResourceRun,
		byKey: func(context.Context) (*item, error) {
			lookups++
			if lookups == 1 {
				return nil, apperror.NotFound("item", "k")
			}
			return winner, nil
		},
		byNatural: func(context.Context) (*item, error) { return current, nil },
		naturalID: func(i *item) string { return i.id },
		updatedAt: func(i *item) time.Time { return i.updatedAt },
		update: func(context.Context, *item) (*item, error) {
			return nil, fmt.Errorf("updating item: %w", repository.ErrDuplicate)
		},
		insert: func(context.Context) (*item, error) {
			t.Fatal("insert must not run when the natural key matched")
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)
	assert.Same(t, winner, got)
}

func TestUpsert_LostRaceWithoutWinnerIsConflict(t *testing.T) {
	_, _, err := runUpsert(context.Background(), upsert[item]{
		resource: metrics.ResourceRun,
		byKey: func(context.Context) (*item, error) {
			return nil, apperror.NotFound("item", "k")
		},
		naturalID: func(i *item) string { return i.id },
		updatedAt: func(i *item) time.Time { return i.updatedAt },
		insert: func(context.Context) (*item, error) {
			return nil, repository.ErrDuplicate
		},
	})
	requireKind(t, err, apperror.ErrConflict)
}
