package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.FriendRepository = (*DB)(nil)

const friendColumns = `id, requestor_id, recipient_id, user_low, user_high, status, created_at, accepted_at`

// CreateConnection inserts a connection. The (user_low, user_high) UNIQUE
// constraint rejects a second row for the same pair in either direction,
// including under concurrent requests.
func (db *DB) CreateConnection(ctx context.Context, c *model.FriendConnection) error {
	c.UserLow, c.UserHigh = model.CanonicalPair(c.RequestorID, c.RecipientID)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO friend_connections (`+friendColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RequestorID, c.RecipientID, c.UserLow, c.UserHigh, string(c.Status),
		c.CreatedAt, nullTime(c.AcceptedAt),
	)
	if err != nil {
		return insertErr("creating friend connection", err)
	}
	return nil
}

func (db *DB) GetConnection(ctx context.Context, id string) (*model.FriendConnection, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+friendColumns+` FROM friend_connections WHERE id = ?`, id)
	return scanConnection(row, id)
}

// GetConnectionByPair finds the connection between a and b whoever sent it.
// The canonical ordering turns "either direction" into one equality lookup.
func (db *DB) GetConnectionByPair(ctx context.Context, a, b string) (*model.FriendConnection, error) {
	low, high := model.CanonicalPair(a, b)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+friendColumns+` FROM friend_connections WHERE user_low = ? AND user_high = ?`,
		low, high)
	return scanConnection(row, low+"/"+high)
}

func (db *DB) UpdateConnectionStatus(ctx context.Context, id string, status model.FriendStatus, acceptedAt *time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE friend_connections SET status = ?, accepted_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), nullTime(acceptedAt), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating friend connection %s: %w", id, err)
	}
	return checkAffected(res, apperror.Conflict("friend request", "request is no longer pending"))
}

func (db *DB) DeleteConnection(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM friend_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting friend connection %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("friend connection", id))
}

// ListConnections returns userID's connections in the given status, newest first.
func (db *DB) ListConnections(ctx context.Context, userID string, status model.FriendStatus) ([]model.FriendConnection, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+friendColumns+` FROM friend_connections
		 WHERE (user_low = ? OR user_high = ?) AND status = ?
		 ORDER BY created_at DESC`,
		userID, userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing friend connections: %w", err)
	}
	defer rows.Close()

	var conns []model.FriendConnection
	for rows.Next() {
		c, err := scanConnection(rows, "")
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating friend connections: %w", err)
	}
	return conns, nil
}

// FriendIDs returns the ids of everyone with an accepted connection to userID.
func (db *DB) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT CASE WHEN user_low = ? THEN user_high ELSE user_low END
		 FROM friend_connections
		 WHERE (user_low = ? OR user_high = ?) AND status = 'accepted'`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing friend ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning friend id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating friend ids: %w", err)
	}
	return ids, nil
}

func scanConnection(row rowScanner, lookup string) (*model.FriendConnection, error) {
	var (
		c          model.FriendConnection
		status     string
		acceptedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.RequestorID, &c.RecipientID, &c.UserLow, &c.UserHigh, &status,
		&c.CreatedAt, &acceptedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("friend connection", lookup)
		}
		return nil, fmt.Errorf("sqlite: scanning friend connection: %w", err)
	}
	c.Status = model.FriendStatus(status)
	if acceptedAt.Valid {
		t := acceptedAt.Time
		c.AcceptedAt = &t
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
