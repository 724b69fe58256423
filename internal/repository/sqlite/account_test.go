package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/trainsync/internal/model"
)

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestGetAccount_ByIDAndEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "alice@example.com")

	byID, err := db.GetAccountByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccountByID() error = %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", byID.Email)
	}
	if !byID.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, want %v", byID.CreatedAt, testTime)
	}

	byEmail, err := db.GetAccountByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail() error = %v", err)
	}
	if byEmail.ID != a.ID {
		t.Errorf("ID = %q, want %q", byEmail.ID, a.ID)
	}
	if byEmail.Verification.Pending() || byEmail.Reset.Pending() {
		t.Error("new account should have no pending codes")
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetAccountByID(ctx, "missing")
	assertNotFound(t, err)

	_, err = db.GetAccountByEmail(ctx, "nobody@example.com")
	assertNotFound(t, err)

	_, err = db.GetAccountByRefreshHash(ctx, "")
	assertNotFound(t, err)
}

// =========================================================================
// REFRESH TOKEN TESTS
// =========================================================================

func TestRefreshHash_OverwriteAndClear(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "bob@example.com")

	if err := db.SetRefreshTokenHash(ctx, a.ID, "hash-1"); err != nil {
		t.Fatalf("SetRefreshTokenHash() error = %v", err)
	}
	if err := db.SetRefreshTokenHash(ctx, a.ID, "hash-2"); err != nil {
		t.Fatalf("SetRefreshTokenHash() error = %v", err)
	}

	if _, err := db.GetAccountByRefreshHash(ctx, "hash-1"); err == nil {
		t.Error("old refresh hash should no longer match")
	}
	got, err := db.GetAccountByRefreshHash(ctx, "hash-2")
	if err != nil {
		t.Fatalf("GetAccountByRefreshHash() error = %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("ID = %q, want %q", got.ID, a.ID)
	}

	if err := db.SetRefreshTokenHash(ctx, a.ID, ""); err != nil {
		t.Fatalf("clearing refresh hash: %v", err)
	}
	_, err = db.GetAccountByRefreshHash(ctx, "hash-2")
	assertNotFound(t, err)
}

func TestSetPassword_ClearsSessionAndResetCode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "carol@example.com")

	db.SetRefreshTokenHash(ctx, a.ID, "live")
	db.SetResetCode(ctx, a.ID, model.OneTimeCode{Hash: "code", ExpiresAt: testTime.Add(time.Hour)})

	if err := db.SetPassword(ctx, a.ID, "new-hash"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}

	got, _ := db.GetAccountByID(ctx, a.ID)
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want new-hash", got.PasswordHash)
	}
	if got.RefreshTokenHash != "" {
		t.Errorf("RefreshTokenHash = %q, want cleared", got.RefreshTokenHash)
	}
	if got.Reset.Pending() {
		t.Error("reset code should be cleared")
	}
}

// =========================================================================
// ONE-TIME CODE TESTS
// =========================================================================

func TestVerificationCode_RoundTripAndVerify(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "dave@example.com")
	expires := testTime.Add(10 * time.Minute)

	if err := db.SetVerificationCode(ctx, a.ID, model.OneTimeCode{Hash: "abc", ExpiresAt: expires}); err != nil {
		t.Fatalf("SetVerificationCode() error = %v", err)
	}
	got, _ := db.GetAccountByID(ctx, a.ID)
	if got.Verification.Hash != "abc" || !got.Verification.ExpiresAt.Equal(expires) {
		t.Errorf("Verification = %+v, want abc expiring %v", got.Verification, expires)
	}

	if err := db.MarkEmailVerified(ctx, a.ID); err != nil {
		t.Fatalf("MarkEmailVerified() error = %v", err)
	}
	got, _ = db.GetAccountByID(ctx, a.ID)
	if !got.EmailVerified {
		t.Error("EmailVerified = false, want true")
	}
	if got.Verification.Pending() {
		t.Error("verification code should be cleared")
	}
}

func TestSetResetCode_ClearWithZeroValue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "erin@example.com")

	db.SetResetCode(ctx, a.ID, model.OneTimeCode{Hash: "r", ExpiresAt: testTime})
	if err := db.SetResetCode(ctx, a.ID, model.OneTimeCode{}); err != nil {
		t.Fatalf("SetResetCode() error = %v", err)
	}
	got, _ := db.GetAccountByID(ctx, a.ID)
	if got.Reset.Pending() {
		t.Errorf("Reset = %+v, want cleared", got.Reset)
	}
}

func TestAccountUpdates_UnknownID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assertNotFound(t, db.SetRefreshTokenHash(ctx, "nope", "h"))
	assertNotFound(t, db.SetPassword(ctx, "nope", "h"))
	assertNotFound(t, db.MarkEmailVerified(ctx, "nope"))
	assertNotFound(t, db.SetDeviceToken(ctx, "nope", "tok"))
	assertNotFound(t, db.DeleteAccount(ctx, "nope"))
}

// =========================================================================
// DELETE CASCADE TESTS
// =========================================================================

func TestDeleteAccount_RemovesEverythingOwned(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestAccount(t, db, "alice@example.com")
	bob := createTestAccount(t, db, "bob@example.com")

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	must(db.UpsertProfile(ctx, &model.Profile{UserID: alice.ID, DisplayName: "Alice", UpdatedAt: testTime}))
	must(db.CreateRun(ctx, &model.Run{ID: "r1", OwnerID: alice.ID, IdempotencyKey: "k1",
		DistanceKm: 5, StartedAt: testTime, CreatedAt: testTime, UpdatedAt: testTime}))
	must(db.UpdateRun(ctx, &model.Run{ID: "r1", OwnerID: alice.ID, IdempotencyKey: "k1",
		DistanceKm: 6, StartedAt: testTime, CreatedAt: testTime, UpdatedAt: testTime}, "k8"))
	must(db.CreateRace(ctx, &model.Race{ID: xid.New().String(), OwnerID: alice.ID, RaceKey: "berlin",
		IdempotencyKey: "k2", Name: "Berlin", RaceDate: testTime, CreatedAt: testTime, UpdatedAt: testTime}))
	must(db.CreatePlan(ctx, &model.TrainingPlan{ID: xid.New().String(), OwnerID: alice.ID,
		IdempotencyKey: "k3", Name: "Base", StartDate: testTime, EndDate: testTime.Add(time.Hour),
		CreatedAt: testTime, UpdatedAt: testTime}))
	acceptedAt := testTime
	must(db.CreateConnection(ctx, &model.FriendConnection{ID: xid.New().String(), RequestorID: bob.ID,
		RecipientID: alice.ID, Status: model.FriendAccepted, CreatedAt: testTime, AcceptedAt: &acceptedAt}))
	must(db.CreateSharedRun(ctx, &model.SharedRun{ID: xid.New().String(), SenderID: alice.ID, RunID: "r1",
		IdempotencyKey: "k4", RecipientIDs: []string{bob.ID}, CreatedAt: testTime, UpdatedAt: testTime}))

	aliceItem := &model.FeedItem{ID: xid.New().String(), OwnerID: alice.ID, IdempotencyKey: "k5",
		ActivityType: "run", Title: "Morning run", OccurredAt: testTime, CreatedAt: testTime}
	bobItem := &model.FeedItem{ID: xid.New().String(), OwnerID: bob.ID, IdempotencyKey: "k6",
		ActivityType: "run", Title: "Evening run", OccurredAt: testTime, CreatedAt: testTime}
	must(db.CreateFeedItem(ctx, aliceItem))
	must(db.CreateFeedItem(ctx, bobItem))
	_, err := db.ToggleLike(ctx, aliceItem.ID, bob.ID)
	must(err)
	_, err = db.ToggleLike(ctx, bobItem.ID, alice.ID)
	must(err)

	ch := &model.Challenge{ID: xid.New().String(), CreatorID: alice.ID, IdempotencyKey: "k7",
		Name: "100k", Type: model.ChallengeDistance, TargetValue: 100, StartDate: testTime,
		EndDate: testTime.Add(24 * time.Hour), Status: model.ChallengeActive, CreatedAt: testTime}
	must(db.CreateChallenge(ctx, ch, &model.Participant{UserID: alice.ID, DisplayName: "Alice", JoinedAt: testTime}))
	must(db.AddParticipant(ctx, ch.ID, &model.Participant{UserID: bob.ID, DisplayName: "Bob", JoinedAt: testTime}))

	if err := db.DeleteAccount(ctx, alice.ID); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	_, err = db.GetAccountByID(ctx, alice.ID)
	assertNotFound(t, err)
	_, err = db.GetChallenge(ctx, ch.ID)
	assertNotFound(t, err)
	_, err = db.GetFeedItem(ctx, aliceItem.ID)
	assertNotFound(t, err)

	friends, _ := db.FriendIDs(ctx, bob.ID)
	if len(friends) != 0 {
		t.Errorf("bob still has friends %v", friends)
	}
	received, _ := db.ListReceivedSharedRuns(ctx, bob.ID)
	if len(received) != 0 {
		t.Errorf("bob still receives %d shared runs", len(received))
	}
	likes, _ := db.LikeSummaries(ctx, []string{bobItem.ID}, alice.ID)
	if likes[bobItem.ID].Count != 0 {
		t.Errorf("alice's like on bob's post survived: %+v", likes[bobItem.ID])
	}

	// Bob's own data is untouched.
	if _, err := db.GetAccountByID(ctx, bob.ID); err != nil {
		t.Errorf("bob's account was affected: %v", err)
	}
	if _, err := db.GetFeedItem(ctx, bobItem.ID); err != nil {
		t.Errorf("bob's post was affected: %v", err)
	}
}
