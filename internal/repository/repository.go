// Package repository owns all writes to the local mirror of Jellyfin
// catalog and activity state. Catalog entities are reconciled by upsert
// plus archive-missing; playback activity is an append-only log; task_log
// rows audit each sync run.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/borealis-media/borealis/internal/database"
	"github.com/borealis-media/borealis/internal/models"
)

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for callers that need their own
// transaction, e.g. the stats aggregator's shared unit of work.
func (r *Repository) DB() *database.DB {
	return r.db
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Users

// UpsertUsers reconciles observed users by jellyfin_id. Rows without a
// jellyfin_id are skipped. Present fields overwrite, absent fields keep
// the stored value; every touch clears archived and bumps updated_at.
// The whole batch commits or rolls back as one unit.
func (r *Repository) UpsertUsers(ctx context.Context, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	count := 0
	now := time.Now().Unix()

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, data := range rows {
			jfID, ok := stringField(data, "jellyfin_id")
			if !ok || jfID == "" {
				continue
			}

			var u models.User
			err := tx.GetContext(ctx, &u, "SELECT * FROM users WHERE jellyfin_id = ?", jfID)
			switch {
			case err == nil:
				if name, ok := stringField(data, "name"); ok {
					u.Name = name
				}
				if isAdmin, ok := boolField(data, "is_admin"); ok {
					u.IsAdmin = isAdmin
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE users SET name = ?, is_admin = ?, archived = 0, updated_at = ?
					WHERE id = ?
				`, u.Name, u.IsAdmin, now, u.ID)
				if err != nil {
					return err
				}
			case errors.Is(err, sql.ErrNoRows):
				name, ok := stringField(data, "name")
				if !ok {
					name = "Unknown"
				}
				isAdmin, _ := boolField(data, "is_admin")
				_, err = tx.ExecContext(ctx, `
					INSERT INTO users (jellyfin_id, name, is_admin, archived, created_at, updated_at)
					VALUES (?, ?, ?, 0, ?, ?)
				`, jfID, name, isAdmin, now, now)
				if err != nil {
					return err
				}
			default:
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert users: %w", err)
	}
	return count, nil
}

// ArchiveMissingUsers flips non-archived users whose jellyfin_id is not
// in the active set. An empty set is a guarded no-op so a failed fetch
// can never mass-archive the catalog.
func (r *Repository) ArchiveMissingUsers(ctx context.Context, activeIDs []string) (int64, error) {
	if len(activeIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"UPDATE users SET archived = 1 WHERE archived = 0 AND jellyfin_id NOT IN (?)",
		activeIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("archive missing users: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("archive missing users: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) ListUsers(ctx context.Context, includeArchived bool) ([]map[string]any, error) {
	query := "SELECT * FROM users"
	if !includeArchived {
		query += " WHERE archived = 0"
	}

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]map[string]any, 0, len(users))
	for i := range users {
		out = append(out, users[i].Dict())
	}
	return out, nil
}

// Libraries

func (r *Repository) UpsertLibraries(ctx context.Context, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	count := 0
	now := time.Now().Unix()

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, data := range rows {
			jfID, ok := stringField(data, "jellyfin_id")
			if !ok || jfID == "" {
				continue
			}

			var lib models.Library
			err := tx.GetContext(ctx, &lib, "SELECT * FROM libraries WHERE jellyfin_id = ?", jfID)
			switch {
			case err == nil:
				if name, ok := stringField(data, "name"); ok {
					lib.Name = name
				}
				if typ, ok := stringField(data, "type"); ok {
					lib.Type = sql.NullString{String: typ, Valid: true}
				}
				if img, ok := stringField(data, "image_url"); ok {
					lib.ImageURL = sql.NullString{String: img, Valid: true}
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE libraries SET name = ?, type = ?, image_url = ?, archived = 0, updated_at = ?
					WHERE id = ?
				`, lib.Name, lib.Type, lib.ImageURL, now, lib.ID)
				if err != nil {
					return err
				}
			case errors.Is(err, sql.ErrNoRows):
				name, ok := stringField(data, "name")
				if !ok {
					name = "Unknown"
				}
				typ := nullStringField(data, "type")
				img := nullStringField(data, "image_url")
				_, err = tx.ExecContext(ctx, `
					INSERT INTO libraries (jellyfin_id, name, type, image_url, tracked, archived, created_at, updated_at)
					VALUES (?, ?, ?, ?, 0, 0, ?, ?)
				`, jfID, name, typ, img, now, now)
				if err != nil {
					return err
				}
			default:
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert libraries: %w", err)
	}
	return count, nil
}

func (r *Repository) ArchiveMissingLibraries(ctx context.Context, activeIDs []string) (int64, error) {
	if len(activeIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"UPDATE libraries SET archived = 1 WHERE archived = 0 AND jellyfin_id NOT IN (?)",
		activeIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("archive missing libraries: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("archive missing libraries: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) ListLibraries(ctx context.Context, includeArchived bool) ([]map[string]any, error) {
	query := "SELECT * FROM libraries"
	if !includeArchived {
		query += " WHERE archived = 0"
	}

	var libs []models.Library
	if err := r.db.SelectContext(ctx, &libs, query); err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}

	out := make([]map[string]any, 0, len(libs))
	for i := range libs {
		out = append(out, libs[i].Dict())
	}
	return out, nil
}

// SetLibraryTracked is a direct operator mutation, outside the
// reconciliation contract. Returns nil when the id is unknown.
func (r *Repository) SetLibraryTracked(ctx context.Context, jellyfinID string, tracked bool) (map[string]any, error) {
	var lib models.Library
	err := r.db.GetContext(ctx, &lib, "SELECT * FROM libraries WHERE jellyfin_id = ?", jellyfinID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("set library tracked: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		"UPDATE libraries SET tracked = ? WHERE id = ?", tracked, lib.ID,
	); err != nil {
		return nil, fmt.Errorf("set library tracked: %w", err)
	}

	lib.Tracked = tracked
	return lib.Dict(), nil
}

// Items

// UpsertItems reconciles media items. Rows missing the jellyfin_id or
// the owning library's local id are skipped.
func (r *Repository) UpsertItems(ctx context.Context, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	count := 0
	now := time.Now().Unix()

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, data := range rows {
			jfID, ok := stringField(data, "jellyfin_id")
			if !ok || jfID == "" {
				continue
			}
			libID, ok := int64Field(data, "library_id")
			if !ok {
				continue
			}

			var item models.Item
			err := tx.GetContext(ctx, &item, "SELECT * FROM items WHERE jellyfin_id = ?", jfID)
			switch {
			case err == nil:
				if name, ok := stringField(data, "name"); ok {
					item.Name = name
				}
				if typ, ok := stringField(data, "type"); ok {
					item.Type = sql.NullString{String: typ, Valid: true}
				}
				if parent, ok := stringField(data, "parent_id"); ok {
					item.ParentID = sql.NullString{String: parent, Valid: true}
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE items SET name = ?, type = ?, parent_id = ?, archived = 0, updated_at = ?
					WHERE id = ?
				`, item.Name, item.Type, item.ParentID, now, item.ID)
				if err != nil {
					return err
				}
			case errors.Is(err, sql.ErrNoRows):
				name, ok := stringField(data, "name")
				if !ok {
					name = "Unknown"
				}
				typ := nullStringField(data, "type")
				parent := nullStringField(data, "parent_id")
				_, err = tx.ExecContext(ctx, `
					INSERT INTO items (jellyfin_id, library_id, parent_id, name, type, archived, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, 0, ?, ?)
				`, jfID, libID, parent, name, typ, now, now)
				if err != nil {
					return err
				}
			default:
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}
	return count, nil
}

// ArchiveMissingItems archives items scoped to one library's local id.
func (r *Repository) ArchiveMissingItems(ctx context.Context, libraryID int64, activeIDs []string) (int64, error) {
	if len(activeIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"UPDATE items SET archived = 1 WHERE library_id = ? AND archived = 0 AND jellyfin_id NOT IN (?)",
		libraryID, activeIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("archive missing items: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("archive missing items: %w", err)
	}
	return res.RowsAffected()
}

// Playback activity

// InsertPlaybackEvents appends immutable playback rows. Missing
// activity_at defaults to ingestion time, missing duration_s to zero.
// No deduplication: callers own not re-submitting the same event.
func (r *Repository) InsertPlaybackEvents(ctx context.Context, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	count := 0
	now := time.Now().Unix()

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, data := range rows {
			userID, _ := stringField(data, "user_id")
			itemID, _ := stringField(data, "item_id")
			activityAt, ok := int64Field(data, "activity_at")
			if !ok {
				activityAt = now
			}
			durationS, _ := int64Field(data, "duration_s")

			_, err := tx.ExecContext(ctx, `
				INSERT INTO playback_activity
					(user_id, item_id, device_name, client, remote_endpoint, activity_at, duration_s, username_denorm)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, userID, itemID,
				nullStringField(data, "device_name"),
				nullStringField(data, "client"),
				nullStringField(data, "remote_endpoint"),
				activityAt, durationS,
				nullStringField(data, "username_denorm"))
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert playback events: %w", err)
	}
	return count, nil
}

// Task audit log

// CreateTaskLog inserts a RUNNING row and commits before returning so
// the id is durable and visible to concurrent readers immediately.
func (r *Repository) CreateTaskLog(ctx context.Context, name, taskType, executionType string) (int64, error) {
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO task_log (name, type, execution_type, started_at, duration_ms, result)
		VALUES (?, ?, ?, ?, 0, ?)
	`, name, taskType, executionType, now, models.TaskResultRunning)
	if err != nil {
		return 0, fmt.Errorf("create task log: %w", err)
	}
	return res.LastInsertId()
}

// CompleteTaskLog closes a task log row. An unknown id is a silent
// no-op. Duration is second-granularity input scaled to milliseconds.
func (r *Repository) CompleteTaskLog(ctx context.Context, taskID int64, result string, logData map[string]any) error {
	now := time.Now().Unix()

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var task models.TaskLog
		err := tx.GetContext(ctx, &task, "SELECT * FROM task_log WHERE id = ?", taskID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		logJSON := sql.NullString{}
		if logData != nil {
			raw, err := json.Marshal(logData)
			if err != nil {
				return err
			}
			logJSON = sql.NullString{String: string(raw), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE task_log SET finished_at = ?, duration_ms = ?, result = ?, log_json = COALESCE(?, log_json)
			WHERE id = ?
		`, now, (now-task.StartedAt)*1000, result, logJSON, taskID)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete task log: %w", err)
	}
	return nil
}

func (r *Repository) ListTaskLogs(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}

	var tasks []models.TaskLog
	err := r.db.SelectContext(ctx, &tasks,
		"SELECT * FROM task_log ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}

	out := make([]map[string]any, 0, len(tasks))
	for i := range tasks {
		out = append(out, tasks[i].Dict())
	}
	return out, nil
}

// IsInitialActivityLogSyncNeeded reports whether a full activity log
// sync has ever completed successfully.
func (r *Repository) IsInitialActivityLogSyncNeeded(ctx context.Context) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM task_log WHERE name = ? AND result = ?",
		models.TaskNameActivityLogFull, models.TaskResultSuccess)
	if err != nil {
		return false, fmt.Errorf("check initial sync: %w", err)
	}
	return count == 0, nil
}
