package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.ChallengeRepository = (*DB)(nil)

const challengeSelect = `SELECT c.id, c.creator_id, c.idempotency_key, c.name, c.description,
	c.challenge_type, c.target_value, c.start_date, c.end_date, c.status, c.created_at,
	(SELECT COUNT(*) FROM challenge_participants cp WHERE cp.challenge_id = c.id)
	FROM challenges c`

// CreateChallenge inserts the challenge with its creator already enrolled.
func (db *DB) CreateChallenge(ctx context.Context, c *model.Challenge, creator *model.Participant) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO challenges (id, creator_id, idempotency_key, name, description, challenge_type,
			                         target_value, start_date, end_date, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.CreatorID, c.IdempotencyKey, c.Name, c.Description, string(c.Type),
			c.TargetValue, c.StartDate, c.EndDate, string(c.Status), c.CreatedAt,
		)
		if err != nil {
			return insertErr("creating challenge", err)
		}
		if err := insertParticipant(ctx, tx, c.ID, creator); err != nil {
			return err
		}
		c.ParticipantCount = 1
		return nil
	})
}

func (db *DB) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	row := db.conn.QueryRowContext(ctx, challengeSelect+` WHERE c.id = ?`, id)
	return scanChallenge(row, id)
}

func (db *DB) GetChallengeByIdempotencyKey(ctx context.Context, creatorID, key string) (*model.Challenge, error) {
	row := db.conn.QueryRowContext(ctx,
		challengeSelect+` WHERE c.creator_id = ? AND c.idempotency_key = ?`, creatorID, key)
	return scanChallenge(row, key)
}

// ListChallengesForUser returns the challenges userID takes part in,
// soonest ending first.
func (db *DB) ListChallengesForUser(ctx context.Context, userID string) ([]model.Challenge, error) {
	rows, err := db.conn.QueryContext(ctx,
		challengeSelect+`
		 WHERE c.id IN (SELECT challenge_id FROM challenge_participants WHERE user_id = ?)
		 ORDER BY c.end_date ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing challenges: %w", err)
	}
	defer rows.Close()

	var out []model.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating challenges: %w", err)
	}
	return out, nil
}

// ListParticipants returns the leaderboard: highest progress first, ties
// broken by who joined earlier.
func (db *DB) ListParticipants(ctx context.Context, challengeID string) ([]model.Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, display_name, progress, joined_at
		 FROM challenge_participants
		 WHERE challenge_id = ?
		 ORDER BY progress DESC, joined_at ASC`,
		challengeID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.Progress, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating participants: %w", err)
	}
	return out, nil
}

func (db *DB) GetParticipant(ctx context.Context, challengeID, userID string) (*model.Participant, error) {
	var p model.Participant
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, display_name, progress, joined_at
		 FROM challenge_participants WHERE challenge_id = ? AND user_id = ?`,
		challengeID, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Progress, &p.JoinedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("participant", userID)
		}
		return nil, fmt.Errorf("sqlite: getting participant: %w", err)
	}
	return &p, nil
}

// AddParticipant enrolls a user. Joining twice wraps repository.ErrDuplicate.
func (db *DB) AddParticipant(ctx context.Context, challengeID string, p *model.Participant) error {
	return insertParticipant(ctx, db.conn, challengeID, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertParticipant(ctx context.Context, ex execer, challengeID string, p *model.Participant) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO challenge_participants (challenge_id, user_id, display_name, progress, joined_at)
		 VALUES (?, ?, ?, ?, ?)`,
		challengeID, p.UserID, p.DisplayName, p.Progress, p.JoinedAt,
	)
	if err != nil {
		return insertErr("adding participant", err)
	}
	return nil
}

func (db *DB) RemoveParticipant(ctx context.Context, challengeID, userID string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM challenge_participants WHERE challenge_id = ? AND user_id = ?`,
		challengeID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: removing participant: %w", err)
	}
	return checkAffected(res, apperror.NotFound("participant", userID))
}

func (db *DB) UpdateProgress(ctx context.Context, challengeID, userID string, progress float64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE challenge_participants SET progress = ? WHERE challenge_id = ? AND user_id = ?`,
		progress, challengeID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: updating progress: %w", err)
	}
	return checkAffected(res, apperror.NotFound("participant", userID))
}

func (db *DB) DeleteChallenge(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM challenge_participants WHERE challenge_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting participants of %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM challenges WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting challenge %s: %w", id, err)
		}
		return checkAffected(res, apperror.NotFound("challenge", id))
	})
}

func scanChallenge(row rowScanner, lookup string) (*model.Challenge, error) {
	var (
		c            model.Challenge
		kind, status string
	)
	err := row.Scan(
		&c.ID, &c.CreatorID, &c.IdempotencyKey, &c.Name, &c.Description,
		&kind, &c.TargetValue, &c.StartDate, &c.EndDate, &status, &c.CreatedAt,
		&c.ParticipantCount,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("challenge", lookup)
		}
		return nil, fmt.Errorf("sqlite: scanning challenge: %w", err)
	}
	c.Type = model.ChallengeType(kind)
	c.Status = model.ChallengeStatus(status)
	return &c, nil
}
