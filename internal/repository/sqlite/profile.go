package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.ProfileRepository = (*DB)(nil)

func (db *DB) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, display_name, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", userID, err)
	}
	return &p, nil
}

// UpsertProfile creates the profile or replaces its display name.
func (db *DB) UpsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   updated_at   = excluded.updated_at`,
		p.UserID, p.DisplayName, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting profile %s: %w", p.UserID, err)
	}
	return nil
}

func (db *DB) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, display_name FROM profiles WHERE user_id IN (`+placeholders(len(userIDs))+`)`,
		stringArgs(userIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading display names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("sqlite: scanning display name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating display names: %w", err)
	}
	return names, nil
}
