package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/xid"
	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

func createTestConnection(t *testing.T, db *DB, from, to string) *model.FriendConnection {
	t.Helper()
	c := &model.FriendConnection{
		ID:          xid.New().String(),
		RequestorID: from,
		RecipientID: to,
		Status:      model.FriendPending,
		CreatedAt:   testTime,
	}
	if err := db.CreateConnection(context.Background(), c); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	return c
}

// =========================================================================
// UNIQUENESS TESTS
// =========================================================================

func TestCreateConnection_UniquePerPairEitherDirection(t *testing.T) {
	db := newTestDB(t)
	a := createTestAccount(t, db, "a@example.com")
	b := createTestAccount(t, db, "b@example.com")
	createTestConnection(t, db, a.ID, b.ID)

	reverse := &model.FriendConnection{ID: xid.New().String(), RequestorID: b.ID, RecipientID: a.ID,
		Status: model.FriendPending, CreatedAt: testTime}
	err := db.CreateConnection(context.Background(), reverse)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("CreateConnection(reverse) error = %v, want ErrDuplicate", err)
	}
}

func TestGetConnectionByPair_EitherOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "a@example.com")
	b := createTestAccount(t, db, "b@example.com")
	c := createTestConnection(t, db, a.ID, b.ID)

	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		got, err := db.GetConnectionByPair(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("GetConnectionByPair(%s, %s) error = %v", pair[0], pair[1], err)
		}
		if got.ID != c.ID || got.RequestorID != a.ID {
			t.Errorf("got %+v, want connection %s requested by a", got, c.ID)
		}
	}
}

// =========================================================================
// STATUS TESTS
// =========================================================================

func TestUpdateConnectionStatus_OnlyFromPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestAccount(t, db, "a@example.com")
	b := createTestAccount(t, db, "b@example.com")
	c := createTestConnection(t, db, a.ID, b.ID)

	at := testTime
	if err := db.UpdateConnectionStatus(ctx, c.ID, model.FriendAccepted, &at); err != nil {
		t.Fatalf("UpdateConnectionStatus() error = %v", err)
	}
	got, _ := db.GetConnection(ctx, c.ID)
	if got.Status != model.FriendAccepted || got.AcceptedAt == nil {
		t.Errorf("connection = %+v, want accepted with timestamp", got)
	}

	err := db.UpdateConnectionStatus(ctx, c.ID, model.FriendDeclined, nil)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second UpdateConnectionStatus() error = %v, want ErrConflict", err)
	}
}

func TestFriendIDs_AcceptedOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	me := createTestAccount(t, db, "me@example.com")
	friend := createTestAccount(t, db, "friend@example.com")
	pending := createTestAccount(t, db, "pending@example.com")

	c := createTestConnection(t, db, friend.ID, me.ID)
	at := testTime
	db.UpdateConnectionStatus(ctx, c.ID, model.FriendAccepted, &at)
	createTestConnection(t, db, me.ID, pending.ID)

	ids, err := db.FriendIDs(ctx, me.ID)
	if err != nil {
		t.Fatalf("FriendIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != friend.ID {
		t.Errorf("FriendIDs() = %v, want [%s]", ids, friend.ID)
	}

	pend, _ := db.ListConnections(ctx, me.ID, model.FriendPending)
	if len(pend) != 1 || pend[0].RecipientID != pending.ID {
		t.Errorf("pending connections = %+v", pend)
	}

	if err := db.DeleteConnection(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConnection() error = %v", err)
	}
	assertNotFound(t, db.DeleteConnection(ctx, c.ID))
}
