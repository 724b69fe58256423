package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

const runColumns = `owner_id, id, idempotency_key, title, distance_km, duration_seconds, started_at,
	track_points, splits, created_at, updated_at`

// Track points and splits are stored as JSON text. They are only ever read
// and written whole, never queried into.

func (db *DB) CreateRun(ctx context.Context, r *model.Run) error {
	points, splits, err := encodeRunPayload(r)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OwnerID, r.ID, r.IdempotencyKey, r.Title, r.DistanceKm, r.DurationSeconds,
		r.StartedAt, points, splits, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return insertErr("creating run", err)
	}
	return nil
}

func (db *DB) GetRun(ctx context.Context, ownerID, id string) (*model.Run, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE owner_id = ? AND id = ?`, ownerID, id)
	return scanRun(row, id)
}

// GetRunByIdempotencyKey finds the run created or last updated under key.
func (db *DB) GetRunByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Run, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE owner_id = ? AND (idempotency_key = ? OR id IN (`+appliedRecordIDs+`))`,
		ownerID, key, ownerID, keyedRun, key)
	return scanRun(row, key)
}

// ListRuns returns the owner's runs, newest start first.
func (db *DB) ListRuns(ctx context.Context, ownerID string, opts repository.ListOptions) ([]model.Run, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE owner_id = ?
		 ORDER BY started_at DESC
		 LIMIT ? OFFSET ?`,
		ownerID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, opts.Limit)
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}
	return runs, nil
}

// UpdateRun overwrites the mutable fields and records appliedKey against
// the run. The creation key and created_at are left as they were.
func (db *DB) UpdateRun(ctx context.Context, r *model.Run, appliedKey string) error {
	points, splits, err := encodeRunPayload(r)
	if err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE runs
			 SET title = ?, distance_km = ?, duration_seconds = ?, started_at = ?,
			     track_points = ?, splits = ?, updated_at = ?
			 WHERE owner_id = ? AND id = ?`,
			r.Title, r.DistanceKm, r.DurationSeconds, r.StartedAt,
			points, splits, r.UpdatedAt,
			r.OwnerID, r.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating run %s: %w", r.ID, err)
		}
		if err := checkAffected(res, apperror.NotFound("run", r.ID)); err != nil {
			return err
		}
		return recordAppliedKey(ctx, tx, r.OwnerID, keyedRun, appliedKey, r.ID, r.UpdatedAt)
	})
}

// DeleteRun removes the run along with any share of it.
func (db *DB) DeleteRun(ctx context.Context, ownerID, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := forgetAppliedKeys(ctx, tx, ownerID, keyedSharedRun,
			`SELECT id FROM shared_runs WHERE sender_id = ? AND run_id = ?`, ownerID, id); err != nil {
			return err
		}
		if err := forgetAppliedKeys(ctx, tx, ownerID, keyedRun, "?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM shared_run_recipients WHERE shared_run_id IN
			   (SELECT id FROM shared_runs WHERE sender_id = ? AND run_id = ?)`,
			ownerID, id); err != nil {
			return fmt.Errorf("sqlite: deleting shares of run %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM shared_runs WHERE sender_id = ? AND run_id = ?`, ownerID, id); err != nil {
			return fmt.Errorf("sqlite: deleting shares of run %s: %w", id, err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM runs WHERE owner_id = ? AND id = ?`, ownerID, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting run %s: %w", id, err)
		}
		return checkAffected(res, apperror.NotFound("run", id))
	})
}

func encodeRunPayload(r *model.Run) (points, splits string, err error) {
	tp := r.TrackPoints
	if tp == nil {
		tp = []model.TrackPoint{}
	}
	sp := r.Splits
	if sp == nil {
		sp = []model.Split{}
	}

	pb, err := json.Marshal(tp)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: encoding track points: %w", err)
	}
	sb, err := json.Marshal(sp)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: encoding splits: %w", err)
	}
	return string(pb), string(sb), nil
}

func scanRun(row rowScanner, lookup string) (*model.Run, error) {
	var (
		r              model.Run
		points, splits string
	)
	err := row.Scan(
		&r.OwnerID, &r.ID, &r.IdempotencyKey, &r.Title, &r.DistanceKm, &r.DurationSeconds,
		&r.StartedAt, &points, &splits, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("run", lookup)
		}
		return nil, fmt.Errorf("sqlite: scanning run: %w", err)
	}

	if err := json.Unmarshal([]byte(points), &r.TrackPoints); err != nil {
		return nil, fmt.Errorf("sqlite: decoding track points of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(splits), &r.Splits); err != nil {
		return nil, fmt.Errorf("sqlite: decoding splits of run %s: %w", r.ID, err)
	}
	return &r, nil
}
