package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

var _ repository.FeedRepository = (*DB)(nil)

// feedSelect joins the owner's display name. The first argument of every
// query built on it is the placeholder name.
const feedSelect = `SELECT f.id, f.owner_id, COALESCE(p.display_name, ?), f.idempotency_key,
	f.activity_type, f.title, f.subtitle, f.stats, f.occurred_at, f.created_at
	FROM feed_items f
	LEFT JOIN profiles p ON p.user_id = f.owner_id`

func (db *DB) CreateFeedItem(ctx context.Context, item *model.FeedItem) error {
	var stats sql.NullString
	if len(item.Stats) > 0 {
		stats = sql.NullString{String: string(item.Stats), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO feed_items (id, owner_id, idempotency_key, activity_type, title, subtitle,
		                         stats, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OwnerID, item.IdempotencyKey, item.ActivityType, item.Title, item.Subtitle,
		stats, item.OccurredAt, item.CreatedAt,
	)
	if err != nil {
		return insertErr("creating feed item", err)
	}
	return nil
}

func (db *DB) GetFeedItem(ctx context.Context, id string) (*model.FeedItem, error) {
	row := db.conn.QueryRowContext(ctx, feedSelect+` WHERE f.id = ?`, model.DefaultDisplayName, id)
	return scanFeedItem(row, id)
}

func (db *DB) GetFeedItemByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.FeedItem, error) {
	row := db.conn.QueryRowContext(ctx,
		feedSelect+` WHERE f.owner_id = ? AND f.idempotency_key = ?`,
		model.DefaultDisplayName, ownerID, key)
	return scanFeedItem(row, key)
}

// ListFeed returns up to limit posts by any of ownerIDs, most recent first.
// Like counts are not filled in; see LikeSummaries.
func (db *DB) ListFeed(ctx context.Context, ownerIDs []string, limit int) ([]model.FeedItem, error) {
	if len(ownerIDs) == 0 {
		return []model.FeedItem{}, nil
	}

	args := append([]any{model.DefaultDisplayName}, stringArgs(ownerIDs)...)
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx,
		feedSelect+` WHERE f.owner_id IN (`+placeholders(len(ownerIDs))+`)
		 ORDER BY f.occurred_at DESC, f.id DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing feed: %w", err)
	}
	defer rows.Close()

	items := make([]model.FeedItem, 0, limit)
	for rows.Next() {
		item, err := scanFeedItem(rows, "")
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating feed: %w", err)
	}
	return items, nil
}

// LikeSummaries computes the like count and the viewer's own like for every
// item in one query. Items nobody liked are absent from the map.
func (db *DB) LikeSummaries(ctx context.Context, itemIDs []string, viewerID string) (map[string]model.LikeSummary, error) {
	out := make(map[string]model.LikeSummary, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	args := append([]any{viewerID}, stringArgs(itemIDs)...)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT feed_item_id, COUNT(*), MAX(user_id = ?)
		 FROM feed_likes
		 WHERE feed_item_id IN (`+placeholders(len(itemIDs))+`)
		 GROUP BY feed_item_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int
			mine  bool
		)
		if err := rows.Scan(&id, &count, &mine); err != nil {
			return nil, fmt.Errorf("sqlite: scanning like count: %w", err)
		}
		out[id] = model.LikeSummary{Count: count, LikedByMe: mine}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating like counts: %w", err)
	}
	return out, nil
}

// ToggleLike removes userID's like on the item if there is one and adds it
// otherwise, then reports the new state.
func (db *DB) ToggleLike(ctx context.Context, itemID, userID string) (*model.LikeResult, error) {
	var result model.LikeResult

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM feed_likes WHERE feed_item_id = ? AND user_id = ?`, itemID, userID)
		if err != nil {
			return fmt.Errorf("sqlite: removing like: %w", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}

		if removed == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO feed_likes (feed_item_id, user_id, created_at) VALUES (?, ?, ?)`,
				itemID, userID, now()); err != nil {
				return insertErr("adding like", err)
			}
			result.Liked = true
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM feed_likes WHERE feed_item_id = ?`, itemID,
		).Scan(&result.LikeCount); err != nil {
			return fmt.Errorf("sqlite: counting likes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func scanFeedItem(row rowScanner, lookup string) (*model.FeedItem, error) {
	var (
		item  model.FeedItem
		stats sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.OwnerName, &item.IdempotencyKey,
		&item.ActivityType, &item.Title, &item.Subtitle, &stats, &item.OccurredAt, &item.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("feed item", lookup)
		}
		return nil, fmt.Errorf("sqlite: scanning feed item: %w", err)
	}
	if stats.Valid {
		item.Stats = []byte(stats.String)
	}
	return &item, nil
}
