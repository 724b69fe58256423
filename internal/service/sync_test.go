package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
)

func runInput(id, key string) RunInput {
	return RunInput{
		ID:              id,
		IdempotencyKey:  key,
		Title:           "Morning run",
		DistanceKm:      5.2,
		DurationSeconds: 1680,
		StartedAt:       rfc3339(testStart.Add(-time.Hour)),
		TrackPoints: []model.TrackPoint{
			{Lat: 51.5, Lon: -0.12, Timestamp: testStart.Add(-time.Hour)},
		},
		Splits: []model.Split{{Index: 1, DistanceKm: 1, DurationSeconds: 320}},
	}
}

// =========================================================================
// RUN TESTS
// =========================================================================

func TestRunUpload_IdempotentAndStale(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	created, outcome, err := env.runs.Upload(ctx, alice, runInput("r1", "k1"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	assert.Equal(t, model.Created, outcome)
	assert.Equal(t, "r1", created.ID)

	again, outcome, err := env.runs.Upload(ctx, alice, runInput("r1", "k1"))
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)
	assert.Equal(t, created.ID, again.ID)

	env.clock.Advance(time.Minute)
	stale := runInput("r1", "k2")
	stale.LastKnownUpdate = rfc3339(created.UpdatedAt.Add(-time.Hour))
	_, _, err = env.runs.Put(ctx, alice, "r1", stale)
	requireKind(t, err, apperror.ErrConflict)

	runs, err := env.runs.List(ctx, alice, 0, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunUpload_ReplayWithChangedBodyReturnsOriginal(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	_, _, err := env.runs.Upload(ctx, alice, runInput("r1", "k1"))
	require.NoError(t, err)

	changed := runInput("r1", "k1")
	changed.Title = "Renamed"
	got, outcome, err := env.runs.Upload(ctx, alice, changed)
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)
	assert.Equal(t, "Morning run", got.Title)
}

func TestRunPut_UpdatesWithFreshKey(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	created, _, err := env.runs.Upload(ctx, alice, runInput("r1", "k1"))
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	edit := runInput("", "k2")
	edit.Title = "Evening run"
	edit.LastKnownUpdate = rfc3339(created.UpdatedAt)
	updated, outcome, err := env.runs.Put(ctx, alice, "r1", edit)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	assert.Equal(t, model.Updated, outcome)
	assert.Equal(t, "Evening run", updated.Title)
	assert.Equal(t, "k1", updated.IdempotencyKey, "creation key is kept")
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	stored, err := env.runs.Get(ctx, alice, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Evening run", stored.Title)
	assert.Len(t, stored.TrackPoints, 1)
}

func TestRunUpload_ServerAssignsID(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")

	run, outcome, err := env.runs.Upload(context.Background(), alice, runInput("", "k1"))
	require.NoError(t, err)
	assert.Equal(t, model.Created, outcome)
	assert.NotEmpty(t, run.ID)
}

func TestRunUpload_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*RunInput)
		wantField string
	}{
		{"missing key", func(in *RunInput) { in.IdempotencyKey = " " }, "idempotencyKey"},
		{"negative distance", func(in *RunInput) { in.DistanceKm = -1 }, "distanceKm"},
		{"bad startedAt", func(in *RunInput) { in.StartedAt = "yesterday" }, "startedAt"},
		{"missing startedAt", func(in *RunInput) { in.StartedAt = "" }, "startedAt"},
		{"bad lastKnownUpdate", func(in *RunInput) { in.LastKnownUpdate = "2026-13-01" }, "lastKnownUpdate"},
		{"too many splits", func(in *RunInput) { in.Splits = make([]model.Split, model.MaxSplits+1) }, "splits"},
		{"too many points", func(in *RunInput) {
			in.TrackPoints = make([]model.TrackPoint, model.MaxTrackPoints+1)
		}, "trackPoints"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			alice := env.register(t, "alice@example.com")
			in := runInput("r1", "k1")
			tt.mutate(&in)

			_, _, err := env.runs.Upload(context.Background(), alice, in)
			requireKind(t, err, apperror.ErrValidation)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantField, appErr.Field)

			runs, err := env.runs.List(context.Background(), alice, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, runs, "nothing persisted")
		})
	}
}

func TestRunDelete(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")
	ctx := context.Background()

	_, _, err := env.runs.Upload(ctx, alice, runInput("r1", "k1"))
	require.NoError(t, err)

	requireKind(t, env.runs.Delete(ctx, bob, "r1"), apperror.ErrNotFound)
	require.NoError(t, env.runs.Delete(ctx, alice, "r1"))
	_, err = env.runs.Get(ctx, alice, "r1")
	requireKind(t, err, apperror.ErrNotFound)
}

// =========================================================================
// RACE AND PLAN TESTS
// =========================================================================

func TestRaceUpload(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	in := RaceInput{
		RaceKey:        "berlin-2026",
		IdempotencyKey: "k1",
		Name:           "Berlin Marathon",
		RaceDate:       "2026-09-27T07:15:00Z",
		DistanceKm:     42.195,
		GoalSeconds:    3 * 3600,
	}
	created, outcome, err := env.races.Upload(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, model.Created, outcome)

	env.clock.Advance(time.Minute)
	edit := in
	edit.IdempotencyKey = "k2"
	edit.GoalSeconds = 3*3600 - 600
	edit.LastKnownUpdate = rfc3339(created.UpdatedAt)
	updated, outcome, err := env.races.Put(ctx, alice, "berlin-2026", edit)
	require.NoError(t, err)
	assert.Equal(t, model.Updated, outcome)
	assert.Equal(t, created.ID, updated.ID)

	stale := in
	stale.IdempotencyKey = "k3"
	stale.LastKnownUpdate = rfc3339(created.UpdatedAt)
	_, _, err = env.races.Put(ctx, alice, "berlin-2026", stale)
	requireKind(t, err, apperror.ErrConflict)

	races, err := env.races.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, races, 1)
	assert.Equal(t, 3*3600-600, races[0].GoalSeconds)

	require.NoError(t, env.races.Delete(ctx, alice, "berlin-2026"))
	_, err = env.races.Get(ctx, alice, "berlin-2026")
	requireKind(t, err, apperror.ErrNotFound)
}

func TestPlanSave_OnePerOwner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	ctx := context.Background()

	in := PlanInput{
		IdempotencyKey: "k1",
		Name:           "Sub-3 block",
		StartDate:      "2026-06-01T00:00:00Z",
		EndDate:        "2026-09-27T00:00:00Z",
		Weeks: []model.PlanWeek{{Number: 1, TargetKm: 60, Workouts: []model.Workout{
			{Day: 2, Kind: "intervals", DistanceKm: 12},
		}}},
	}
	created, outcome, err := env.plans.Save(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, model.Created, outcome)

	in.IdempotencyKey = "k2"
	in.Name = "Sub-3 block v2"
	updated, outcome, err := env.plans.Save(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, model.Updated, outcome)
	assert.Equal(t, created.ID, updated.ID)

	got, err := env.plans.Get(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Sub-3 block v2", got.Name)
	require.Len(t, got.Weeks, 1)

	bad := in
	bad.IdempotencyKey = "k3"
	bad.EndDate = bad.StartDate
	_, _, err = env.plans.Save(ctx, alice, bad)
	requireKind(t, err, apperror.ErrValidation)

	require.NoError(t, env.plans.Delete(ctx, alice))
	_, err = env.plans.Get(ctx, alice)
	requireKind(t, err, apperror.ErrNotFound)
}

// =========================================================================
// SHARED RUN TESTS
// =========================================================================

func TestSharedRunUpload(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")
	carol := env.register(t, "carol@example.com")
	ctx := context.Background()
	env.befriend(t, alice, bob)

	_, _, err := env.runs.Upload(ctx, alice, runInput("r1", "run-k1"))
	require.NoError(t, err)

	in := SharedRunInput{IdempotencyKey: "s1", RunID: "r1", Message: "new PB!", RecipientIDs: []string{bob, bob}}
	share, outcome, err := env.shares.Upload(ctx, alice, in)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	assert.Equal(t, model.Created, outcome)
	assert.Equal(t, []string{bob}, share.RecipientIDs)
	require.NotNil(t, share.Run)
	assert.Equal(t, "Morning run", share.Run.Title)

	_, outcome, err = env.shares.Upload(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, model.Existing, outcome)

	received, err := env.shares.ListReceived(ctx, bob)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, model.DefaultDisplayName, received[0].SenderName)

	none, err := env.shares.ListReceived(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, none)

	sent, err := env.shares.ListSent(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sent, 1)

	requireKind(t, env.shares.Delete(ctx, bob, share.ID), apperror.ErrNotFound)
	require.NoError(t, env.shares.Delete(ctx, alice, share.ID))
}

func TestSharedRunUpload_Rules(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")
	carol := env.register(t, "carol@example.com")
	ctx := context.Background()
	env.befriend(t, alice, bob)

	_, _, err := env.runs.Upload(ctx, alice, runInput("r1", "run-k1"))
	require.NoError(t, err)
	_, _, err = env.runs.Upload(ctx, carol, runInput("c1", "run-k1"))
	require.NoError(t, err)

	_, _, err = env.shares.Upload(ctx, alice, SharedRunInput{IdempotencyKey: "s1", RunID: "r1", RecipientIDs: []string{carol}})
	requireKind(t, err, apperror.ErrForbidden)

	_, _, err = env.shares.Upload(ctx, alice, SharedRunInput{IdempotencyKey: "s2", RunID: "c1", RecipientIDs: []string{bob}})
	requireKind(t, err, apperror.ErrNotFound)

	_, _, err = env.shares.Upload(ctx, alice, SharedRunInput{IdempotencyKey: "s3", RunID: "r1"})
	requireKind(t, err, apperror.ErrValidation)

	_, _, err = env.shares.Upload(ctx, alice, SharedRunInput{IdempotencyKey: "s4", RunID: "r1", RecipientIDs: []string{alice}})
	requireKind(t, err, apperror.ErrValidation)
}
