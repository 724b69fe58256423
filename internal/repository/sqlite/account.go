package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, email, password_hash, refresh_token_hash, device_token, email_verified,
	verification_code_hash, verification_expires_at, reset_code_hash, reset_expires_at,
	created_at, updated_at`

// CreateAccount inserts a new account. The caller assigns the ID and
// timestamps. A taken email comes back wrapping repository.ErrDuplicate.
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Email,
		a.PasswordHash,
		nullString(a.RefreshTokenHash),
		nullString(a.DeviceToken),
		a.EmailVerified,
		nullString(a.Verification.Hash),
		codeExpiry(a.Verification),
		nullString(a.Reset.Hash),
		codeExpiry(a.Reset),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return insertErr("creating account", err)
	}
	return nil
}

func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row, "id", id)
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row, "email", email)
}

func (db *DB) GetAccountByRefreshHash(ctx context.Context, hash string) (*model.Account, error) {
	if hash == "" {
		return nil, apperror.NotFound("account", "(empty refresh token)")
	}
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE refresh_token_hash = ?`, hash)
	return scanAccount(row, "refresh token", "(redacted)")
}

func (db *DB) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET refresh_token_hash = ?, updated_at = ? WHERE id = ?`,
		nullString(hash), now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting refresh token for %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("account", id))
}

func (db *DB) SetPassword(ctx context.Context, id, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts
		 SET password_hash = ?, refresh_token_hash = NULL,
		     reset_code_hash = NULL, reset_expires_at = NULL, updated_at = ?
		 WHERE id = ?`,
		passwordHash, now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting password for %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("account", id))
}

func (db *DB) SetVerificationCode(ctx context.Context, id string, code model.OneTimeCode) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET verification_code_hash = ?, verification_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(code.Hash), codeExpiry(code), now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting verification code for %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("account", id))
}

func (db *DB) SetResetCode(ctx context.Context, id string, code model.OneTimeCode) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET reset_code_hash = ?, reset_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(code.Hash), codeExpiry(code), now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting reset code for %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("account", id))
}

func (db *DB) MarkEmailVerified(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts
		 SET email_verified = 1, verification_code_hash = NULL, verification_expires_at = NULL,
		     updated_at = ?
		 WHERE id = ?`,
		now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: marking %s verified: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("account", id))
}

func (db *DB) SetDeviceToken(ctx context.Context, id, token string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET device_token = ?, updated_at = ? WHERE id = ?`,
		nullString(token), now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting device token for %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("account", id))
}

// accountCascade lists, in dependency order, every statement that removes
// data owned by or pointing at an account. Each takes the account id once
// per "?".
var accountCascade = []string{
	`DELETE FROM applied_keys WHERE owner_id = ?`,
	`DELETE FROM feed_likes WHERE user_id = ?`,
	`DELETE FROM feed_likes WHERE feed_item_id IN (SELECT id FROM feed_items WHERE owner_id = ?)`,
	`DELETE FROM feed_items WHERE owner_id = ?`,
	`DELETE FROM shared_run_recipients WHERE recipient_id = ?`,
	`DELETE FROM shared_run_recipients WHERE shared_run_id IN (SELECT id FROM shared_runs WHERE sender_id = ?)`,
	`DELETE FROM shared_runs WHERE sender_id = ?`,
	`DELETE FROM challenge_participants WHERE user_id = ?`,
	`DELETE FROM challenge_participants WHERE challenge_id IN (SELECT id FROM challenges WHERE creator_id = ?)`,
	`DELETE FROM challenges WHERE creator_id = ?`,
	`DELETE FROM friend_connections WHERE requestor_id = ? OR recipient_id = ?`,
	`DELETE FROM runs WHERE owner_id = ?`,
	`DELETE FROM training_plans WHERE owner_id = ?`,
	`DELETE FROM races WHERE owner_id = ?`,
	`DELETE FROM profiles WHERE user_id = ?`,
}

// DeleteAccount removes the account and everything it owns in one
// transaction: either all of it goes or none of it does.
func (db *DB) DeleteAccount(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range accountCascade {
			args := make([]any, 0, 2)
			for range countParams(stmt) {
				args = append(args, id)
			}
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("sqlite: deleting account %s: %w", id, err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting account %s: %w", id, err)
		}
		return checkAffected(res, apperror.NotFound("account", id))
	})
}

func countParams(stmt string) int {
	n := 0
	for _, c := range stmt {
		if c == '?' {
			n++
		}
	}
	return n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, by, value string) (*model.Account, error) {
	var (
		a                     model.Account
		refresh, device       sql.NullString
		verifyHash, resetHash sql.NullString
		verifyExp, resetExp   sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &refresh, &device, &a.EmailVerified,
		&verifyHash, &verifyExp, &resetHash, &resetExp,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", value)
		}
		return nil, fmt.Errorf("sqlite: getting account by %s: %w", by, err)
	}

	a.RefreshTokenHash = refresh.String
	a.DeviceToken = device.String
	a.Verification = model.OneTimeCode{Hash: verifyHash.String, ExpiresAt: verifyExp.Time}
	a.Reset = model.OneTimeCode{Hash: resetHash.String, ExpiresAt: resetExp.Time}
	return &a, nil
}

func codeExpiry(c model.OneTimeCode) sql.NullTime {
	return sql.NullTime{Time: c.ExpiresAt.UTC(), Valid: c.Pending()}
}
