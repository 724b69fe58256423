package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.RaceRepository = (*DB)(nil)

const raceColumns = `id, owner_id, race_key, idempotency_key, name, race_date, distance_km,
	goal_seconds, notes, created_at, updated_at`

func (db *DB) CreateRace(ctx context.Context, r *model.Race) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO races (`+raceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.RaceKey, r.IdempotencyKey, r.Name, r.RaceDate, r.DistanceKm,
		r.GoalSeconds, r.Notes, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return insertErr("creating race", err)
	}
	return nil
}

func (db *DB) GetRaceByKey(ctx context.Context, ownerID, raceKey string) (*model.Race, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE owner_id = ? AND race_key = ?`, ownerID, raceKey)
	return scanRace(row, raceKey)
}

// GetRaceByIdempotencyKey finds the race created or last updated under key.
func (db *DB) GetRaceByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Race, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+raceColumns+` FROM races
		 WHERE owner_id = ? AND (idempotency_key = ? OR id IN (`+appliedRecordIDs+`))`,
		ownerID, key, ownerID, keyedRace, key)
	return scanRace(row, key)
}

// ListRaces returns the owner's races in calendar order.
func (db *DB) ListRaces(ctx context.Context, ownerID string) ([]model.Race, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE owner_id = ? ORDER BY race_date ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing races: %w", err)
	}
	defer rows.Close()

	var races []model.Race
	for rows.Next() {
		r, err := scanRace(rows, "")
		if err != nil {
			return nil, err
		}
		races = append(races, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating races: %w", err)
	}
	return races, nil
}

// UpdateRace overwrites the race at r.RaceKey and records appliedKey
// against it. r.ID must be the stored id.
func (db *DB) UpdateRace(ctx context.Context, r *model.Race, appliedKey string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE races
			 SET name = ?, race_date = ?, distance_km = ?, goal_seconds = ?, notes = ?, updated_at = ?
			 WHERE owner_id = ? AND race_key = ?`,
			r.Name, r.RaceDate, r.DistanceKm, r.GoalSeconds, r.Notes, r.UpdatedAt,
			r.OwnerID, r.RaceKey,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating race %s: %w", r.RaceKey, err)
		}
		if err := checkAffected(res, apperror.NotFound("race", r.RaceKey)); err != nil {
			return err
		}
		return recordAppliedKey(ctx, tx, r.OwnerID, keyedRace, appliedKey, r.ID, r.UpdatedAt)
	})
}

func (db *DB) DeleteRace(ctx context.Context, ownerID, raceKey string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := forgetAppliedKeys(ctx, tx, ownerID, keyedRace,
			`SELECT id FROM races WHERE owner_id = ? AND race_key = ?`, ownerID, raceKey); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM races WHERE owner_id = ? AND race_key = ?`, ownerID, raceKey)
		if err != nil {
			return fmt.Errorf("sqlite: deleting race %s: %w", raceKey, err)
		}
		return checkAffected(res, apperror.NotFound("race", raceKey))
	})
}

func scanRace(row rowScanner, lookup string) (*model.Race, error) {
	var r model.Race
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.RaceKey, &r.IdempotencyKey, &r.Name, &r.RaceDate, &r.DistanceKm,
		&r.GoalSeconds, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("race", lookup)
		}
		return nil, fmt.Errorf("sqlite: scanning race: %w", err)
	}
	return &r, nil
}
