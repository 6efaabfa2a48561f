// Package stats maintains the denormalized play counters on users,
// items and libraries. Counters are a materialized view over the
// append-only playback_activity log and can be rebuilt at any time.
package stats

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/borealis-media/borealis/internal/models"
)

// Refresh operations run against a caller-supplied transaction so a
// combined refresh sees one consistent snapshot of the activity log.
// Each uses a single grouped correlated aggregate instead of a count
// query per entity row.

func RefreshUserPlayCounts(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET total_plays = (
			SELECT COUNT(*) FROM playback_activity p WHERE p.user_id = users.jellyfin_id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("refresh user play counts: %w", err)
	}
	return res.RowsAffected()
}

func RefreshItemPlayCounts(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE items SET play_count = (
			SELECT COUNT(*) FROM playback_activity p WHERE p.item_id = items.jellyfin_id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("refresh item play counts: %w", err)
	}
	return res.RowsAffected()
}

// RefreshLibraryPlayCounts counts activity whose item belongs to the
// library via the item's local library_id.
func RefreshLibraryPlayCounts(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE libraries SET total_plays = (
			SELECT COUNT(*)
			FROM playback_activity p
			JOIN items i ON p.item_id = i.jellyfin_id
			WHERE i.library_id = libraries.id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("refresh library play counts: %w", err)
	}
	return res.RowsAffected()
}

// RefreshAllStats runs the three refreshes in the supplied transaction
// and reports rows updated per entity kind. A failure part-way leaves
// the earlier refreshes pending in the transaction for the caller to
// roll back.
func RefreshAllStats(ctx context.Context, tx *sqlx.Tx) (map[string]int64, error) {
	users, err := RefreshUserPlayCounts(ctx, tx)
	if err != nil {
		return nil, err
	}
	items, err := RefreshItemPlayCounts(ctx, tx)
	if err != nil {
		return nil, err
	}
	libraries, err := RefreshLibraryPlayCounts(ctx, tx)
	if err != nil {
		return nil, err
	}
	return map[string]int64{
		"users_updated":     users,
		"items_updated":     items,
		"libraries_updated": libraries,
	}, nil
}

// Read-side helpers. These accept any sqlx queryer so they work both
// inside a refresh transaction and directly against the pool.

func TopItemsByPlays(ctx context.Context, q sqlx.QueryerContext, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}

	var items []models.Item
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM items WHERE archived = 0 ORDER BY play_count DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("top items: %w", err)
	}

	out := make([]map[string]any, 0, len(items))
	for i := range items {
		out = append(out, items[i].Dict())
	}
	return out, nil
}

func TopUsersByPlays(ctx context.Context, q sqlx.QueryerContext, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}

	var users []models.User
	err := sqlx.SelectContext(ctx, q, &users,
		"SELECT * FROM users WHERE archived = 0 ORDER BY total_plays DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}

	out := make([]map[string]any, 0, len(users))
	for i := range users {
		out = append(out, users[i].Dict())
	}
	return out, nil
}

func LibraryStats(ctx context.Context, q sqlx.QueryerContext, includeArchived bool) ([]map[string]any, error) {
	query := "SELECT * FROM libraries"
	if !includeArchived {
		query += " WHERE archived = 0"
	}
	query += " ORDER BY total_plays DESC"

	var libs []models.Library
	if err := sqlx.SelectContext(ctx, q, &libs, query); err != nil {
		return nil, fmt.Errorf("library stats: %w", err)
	}

	out := make([]map[string]any, 0, len(libs))
	for i := range libs {
		out = append(out, libs[i].Dict())
	}
	return out, nil
}
