package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.SharedRunRepository = (*DB)(nil)

// CreateSharedRun inserts the share and its recipients in one transaction.
func (db *DB) CreateSharedRun(ctx context.Context, s *model.SharedRun) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO shared_runs (id, sender_id, run_id, idempotency_key, message, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.SenderID, s.RunID, s.IdempotencyKey, s.Message, s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return insertErr("creating shared run", err)
		}
		return insertRecipients(ctx, tx, s.ID, s.RecipientIDs)
	})
}

// UpdateSharedRun replaces the message and the recipient list and records
// appliedKey against the share.
func (db *DB) UpdateSharedRun(ctx context.Context, s *model.SharedRun, appliedKey string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE shared_runs SET message = ?, updated_at = ? WHERE id = ? AND sender_id = ?`,
			s.Message, s.UpdatedAt, s.ID, s.SenderID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating shared run %s: %w", s.ID, err)
		}
		if err := checkAffected(res, apperror.NotFound("shared run", s.ID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM shared_run_recipients WHERE shared_run_id = ?`, s.ID); err != nil {
			return fmt.Errorf("sqlite: clearing recipients of %s: %w", s.ID, err)
		}
		if err := insertRecipients(ctx, tx, s.ID, s.RecipientIDs); err != nil {
			return err
		}
		return recordAppliedKey(ctx, tx, s.SenderID, keyedSharedRun, appliedKey, s.ID, s.UpdatedAt)
	})
}

func insertRecipients(ctx context.Context, tx *sql.Tx, shareID string, recipients []string) error {
	for _, rid := range recipients {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO shared_run_recipients (shared_run_id, recipient_id) VALUES (?, ?)`,
			shareID, rid); err != nil {
			return fmt.Errorf("sqlite: adding recipient %s to %s: %w", rid, shareID, err)
		}
	}
	return nil
}

func (db *DB) GetSharedRunByRun(ctx context.Context, senderID, runID string) (*model.SharedRun, error) {
	return db.getSharedRun(ctx, `s.sender_id = ? AND s.run_id = ?`, runID, senderID, runID)
}

// GetSharedRunByIdempotencyKey finds the share created or last updated under key.
func (db *DB) GetSharedRunByIdempotencyKey(ctx context.Context, senderID, key string) (*model.SharedRun, error) {
	return db.getSharedRun(ctx,
		`s.sender_id = ? AND (s.idempotency_key = ? OR s.id IN (`+appliedRecordIDs+`))`,
		key, senderID, key, senderID, keyedSharedRun, key)
}

func (db *DB) getSharedRun(ctx context.Context, where, lookup string, args ...any) (*model.SharedRun, error) {
	shares, err := db.listSharedRuns(ctx, `WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, apperror.NotFound("shared run", lookup)
	}
	return &shares[0], nil
}

// ListReceivedSharedRuns returns shares addressed to recipientID, newest first.
func (db *DB) ListReceivedSharedRuns(ctx context.Context, recipientID string) ([]model.SharedRun, error) {
	return db.listSharedRuns(ctx,
		`WHERE s.id IN (SELECT shared_run_id FROM shared_run_recipients WHERE recipient_id = ?)`,
		recipientID)
}

// ListSentSharedRuns returns shares made by senderID, newest first.
func (db *DB) ListSentSharedRuns(ctx context.Context, senderID string) ([]model.SharedRun, error) {
	return db.listSharedRuns(ctx, `WHERE s.sender_id = ?`, senderID)
}

func (db *DB) DeleteSharedRun(ctx context.Context, senderID, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := forgetAppliedKeys(ctx, tx, senderID, keyedSharedRun, "?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM shared_run_recipients WHERE shared_run_id IN
			   (SELECT id FROM shared_runs WHERE id = ? AND sender_id = ?)`, id, senderID); err != nil {
			return fmt.Errorf("sqlite: deleting recipients of %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM shared_runs WHERE id = ? AND sender_id = ?`, id, senderID)
		if err != nil {
			return fmt.Errorf("sqlite: deleting shared run %s: %w", id, err)
		}
		return checkAffected(res, apperror.NotFound("shared run", id))
	})
}

// listSharedRuns loads shares with the sender's display name and a summary
// of the shared run, then fills in recipients with a second query once the
// first result set is closed.
func (db *DB) listSharedRuns(ctx context.Context, where string, args ...any) ([]model.SharedRun, error) {
	query := `SELECT s.id, s.sender_id, COALESCE(p.display_name, ?), s.run_id, s.idempotency_key,
	                 s.message, s.created_at, s.updated_at,
	                 r.title, r.distance_km, r.duration_seconds, r.started_at
	          FROM shared_runs s
	          JOIN runs r ON r.owner_id = s.sender_id AND r.id = s.run_id
	          LEFT JOIN profiles p ON p.user_id = s.sender_id
	          ` + where + `
	          ORDER BY s.updated_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, append([]any{model.DefaultDisplayName}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing shared runs: %w", err)
	}

	var shares []model.SharedRun
	for rows.Next() {
		var (
			s   model.SharedRun
			sum model.RunSummary
		)
		if err := rows.Scan(
			&s.ID, &s.SenderID, &s.SenderName, &s.RunID, &s.IdempotencyKey,
			&s.Message, &s.CreatedAt, &s.UpdatedAt,
			&sum.Title, &sum.DistanceKm, &sum.DurationSeconds, &sum.StartedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning shared run: %w", err)
		}
		s.Run = &sum
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating shared runs: %w", err)
	}
	rows.Close()

	for i := range shares {
		recipients, err := db.recipients(ctx, shares[i].ID)
		if err != nil {
			return nil, err
		}
		shares[i].RecipientIDs = recipients
	}
	return shares, nil
}

func (db *DB) recipients(ctx context.Context, shareID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT recipient_id FROM shared_run_recipients WHERE shared_run_id = ? ORDER BY recipient_id`,
		shareID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading recipients of %s: %w", shareID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning recipient: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
