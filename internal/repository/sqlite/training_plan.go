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

var _ repository.TrainingPlanRepository = (*DB)(nil)

const planColumns = `id, owner_id, idempotency_key, name, goal_race_id, start_date, end_date,
	weeks, created_at, updated_at`

func (db *DB) CreatePlan(ctx context.Context, p *model.TrainingPlan) error {
	weeks, err := encodeWeeks(p.Weeks)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO training_plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.IdempotencyKey, p.Name, p.GoalRaceID, p.StartDate, p.EndDate,
		weeks, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return insertErr("creating training plan", err)
	}
	return nil
}

func (db *DB) GetPlan(ctx context.Context, ownerID string) (*model.TrainingPlan, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM training_plans WHERE owner_id = ?`, ownerID)
	return scanPlan(row, ownerID)
}

// GetPlanByIdempotencyKey finds the plan created or last updated under key.
func (db *DB) GetPlanByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.TrainingPlan, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM training_plans
		 WHERE owner_id = ? AND (idempotency_key = ? OR id IN (`+appliedRecordIDs+`))`,
		ownerID, key, ownerID, keyedPlan, key)
	return scanPlan(row, key)
}

// UpdatePlan overwrites the owner's plan and records appliedKey against it.
// p.ID must be the stored id.
func (db *DB) UpdatePlan(ctx context.Context, p *model.TrainingPlan, appliedKey string) error {
	weeks, err := encodeWeeks(p.Weeks)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE training_plans
			 SET name = ?, goal_race_id = ?, start_date = ?, end_date = ?, weeks = ?, updated_at = ?
			 WHERE owner_id = ?`,
			p.Name, p.GoalRaceID, p.StartDate, p.EndDate, weeks, p.UpdatedAt, p.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating training plan of %s: %w", p.OwnerID, err)
		}
		if err := checkAffected(res, apperror.NotFound("training plan", p.OwnerID)); err != nil {
			return err
		}
		return recordAppliedKey(ctx, tx, p.OwnerID, keyedPlan, appliedKey, p.ID, p.UpdatedAt)
	})
}

func (db *DB) DeletePlan(ctx context.Context, ownerID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := forgetAppliedKeys(ctx, tx, ownerID, keyedPlan,
			`SELECT id FROM training_plans WHERE owner_id = ?`, ownerID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM training_plans WHERE owner_id = ?`, ownerID)
		if err != nil {
			return fmt.Errorf("sqlite: deleting training plan of %s: %w", ownerID, err)
		}
		return checkAffected(res, apperror.NotFound("training plan", ownerID))
	})
}

func encodeWeeks(weeks []model.PlanWeek) (string, error) {
	if weeks == nil {
		weeks = []model.PlanWeek{}
	}
	b, err := json.Marshal(weeks)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding plan weeks: %w", err)
	}
	return string(b), nil
}

func scanPlan(row rowScanner, lookup string) (*model.TrainingPlan, error) {
	var (
		p     model.TrainingPlan
		weeks string
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.IdempotencyKey, &p.Name, &p.GoalRaceID, &p.StartDate, &p.EndDate,
		&weeks, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("training plan", lookup)
		}
		return nil, fmt.Errorf("sqlite: scanning training plan: %w", err)
	}
	if err := json.Unmarshal([]byte(weeks), &p.Weeks); err != nil {
		return nil, fmt.Errorf("sqlite: decoding plan weeks: %w", err)
	}
	return &p, nil
}
