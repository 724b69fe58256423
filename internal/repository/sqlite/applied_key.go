package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// applied_keys remembers the idempotency key of every update, keyed by
// (owner, resource, key). A record's own idempotency_key column only holds
// the key that created it, so a retried update is found here instead.
//
// Rows are removed together with the record they point at; a client-chosen
// run id can be reused after a delete and must not inherit old keys.

// Resource names stored in applied_keys.resource.
const (
	keyedRun       = "run"
	keyedRace      = "race"
	keyedPlan      = "training_plan"
	keyedSharedRun = "shared_run"
)

// appliedRecordIDs selects the record ids updated under a key. Arguments:
// owner id, resource, key.
const appliedRecordIDs = `SELECT record_id FROM applied_keys
	WHERE owner_id = ? AND resource = ? AND idempotency_key = ?`

// recordAppliedKey stores key against recordID inside the update's
// transaction. A key that is already recorded fails with
// repository.ErrDuplicate and rolls the update back.
func recordAppliedKey(ctx context.Context, tx *sql.Tx, ownerID, resource, key, recordID string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO applied_keys (owner_id, resource, idempotency_key, record_id, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ownerID, resource, key, recordID, at,
	)
	if err != nil {
		return insertErr("recording applied key", err)
	}
	return nil
}

// forgetAppliedKeys deletes the keys of the records matched by recordIDs,
// which is either "?" or a subquery, followed by its arguments.
func forgetAppliedKeys(ctx context.Context, tx *sql.Tx, ownerID, resource, recordIDs string, args ...any) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM applied_keys WHERE owner_id = ? AND resource = ? AND record_id IN (`+recordIDs+`)`,
		append([]any{ownerID, resource}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: forgetting %s keys: %w", resource, err)
	}
	return nil
}
