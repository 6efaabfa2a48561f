package models

import (
	"database/sql"
)

// User mirrors a Jellyfin user account. TotalPlays is denormalized and
// maintained only by the stats aggregator.
type User struct {
	ID         int64  `db:"id" json:"id"`
	JellyfinID string `db:"jellyfin_id" json:"jellyfinId"`
	Name       string `db:"name" json:"name"`
	IsAdmin    bool   `db:"is_admin" json:"isAdmin"`
	TotalPlays int64  `db:"total_plays" json:"totalPlays"`
	Archived   bool   `db:"archived" json:"archived"`
	CreatedAt  int64  `db:"created_at" json:"createdAt"`
	UpdatedAt  int64  `db:"updated_at" json:"updatedAt"`
}

// Library mirrors a Jellyfin media folder. Tracked is operator-set and
// never touched by reconciliation.
type Library struct {
	ID         int64          `db:"id" json:"id"`
	JellyfinID string         `db:"jellyfin_id" json:"jellyfinId"`
	Name       string         `db:"name" json:"name"`
	Type       sql.NullString `db:"type" json:"type,omitempty"`
	ImageURL   sql.NullString `db:"image_url" json:"imageUrl,omitempty"`
	Tracked    bool           `db:"tracked" json:"tracked"`
	TotalPlays int64          `db:"total_plays" json:"totalPlays"`
	Archived   bool           `db:"archived" json:"archived"`
	CreatedAt  int64          `db:"created_at" json:"createdAt"`
	UpdatedAt  int64          `db:"updated_at" json:"updatedAt"`
}

// Item mirrors a media item. LibraryID is the owning library's local id;
// ParentID is the Jellyfin id of a parent item for hierarchical media.
type Item struct {
	ID         int64          `db:"id" json:"id"`
	JellyfinID string         `db:"jellyfin_id" json:"jellyfinId"`
	LibraryID  int64          `db:"library_id" json:"libraryId"`
	ParentID   sql.NullString `db:"parent_id" json:"parentId,omitempty"`
	Name       string         `db:"name" json:"name"`
	Type       sql.NullString `db:"type" json:"type,omitempty"`
	PlayCount  int64          `db:"play_count" json:"playCount"`
	Archived   bool           `db:"archived" json:"archived"`
	CreatedAt  int64          `db:"created_at" json:"createdAt"`
	UpdatedAt  int64          `db:"updated_at" json:"updatedAt"`
}

// PlaybackActivity is one immutable playback event. Rows are never
// updated or archived; denormalized play counts are derived from them.
type PlaybackActivity struct {
	ID             int64          `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"userId"`
	ItemID         string         `db:"item_id" json:"itemId"`
	DeviceName     sql.NullString `db:"device_name" json:"deviceName,omitempty"`
	Client         sql.NullString `db:"client" json:"client,omitempty"`
	RemoteEndpoint sql.NullString `db:"remote_endpoint" json:"remoteEndpoint,omitempty"`
	ActivityAt     int64          `db:"activity_at" json:"activityAt"`
	DurationS      int64          `db:"duration_s" json:"durationS"`
	UsernameDenorm sql.NullString `db:"username_denorm" json:"usernameDenorm,omitempty"`
}

// TaskLog is an append-only audit record of one sync execution.
type TaskLog struct {
	ID            int64          `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Type          string         `db:"type" json:"type"`
	ExecutionType string         `db:"execution_type" json:"executionType"`
	StartedAt     int64          `db:"started_at" json:"startedAt"`
	FinishedAt    sql.NullInt64  `db:"finished_at" json:"finishedAt,omitempty"`
	DurationMs    int64          `db:"duration_ms" json:"durationMs"`
	Result        string         `db:"result" json:"result"`
	LogJSON       sql.NullString `db:"log_json" json:"-"`
}

// Task result and execution constants
const (
	TaskResultRunning = "RUNNING"
	TaskResultSuccess = "SUCCESS"
	TaskResultFailed  = "FAILED"

	ExecutionManual    = "manual"
	ExecutionScheduled = "scheduled"

	TaskTypeActivityLog = "activity_log"
	TaskTypeCatalog     = "catalog"

	TaskNameActivityLogFull        = "activity_log_full_sync"
	TaskNameActivityLogIncremental = "activity_log_incremental_sync"
	TaskNameCatalogSync            = "catalog_sync"
)

// Dict returns the plain map projection handed across the repository
// boundary.
func (u *User) Dict() map[string]any {
	return map[string]any{
		"id":          u.ID,
		"jellyfin_id": u.JellyfinID,
		"name":        u.Name,
		"is_admin":    u.IsAdmin,
		"total_plays": u.TotalPlays,
		"archived":    u.Archived,
		"created_at":  u.CreatedAt,
		"updated_at":  u.UpdatedAt,
	}
}

func (l *Library) Dict() map[string]any {
	return map[string]any{
		"id":          l.ID,
		"jellyfin_id": l.JellyfinID,
		"name":        l.Name,
		"type":        nullString(l.Type),
		"image_url":   nullString(l.ImageURL),
		"tracked":     l.Tracked,
		"total_plays": l.TotalPlays,
		"archived":    l.Archived,
		"created_at":  l.CreatedAt,
		"updated_at":  l.UpdatedAt,
	}
}

func (i *Item) Dict() map[string]any {
	return map[string]any{
		"id":          i.ID,
		"jellyfin_id": i.JellyfinID,
		"library_id":  i.LibraryID,
		"parent_id":   nullString(i.ParentID),
		"name":        i.Name,
		"type":        nullString(i.Type),
		"play_count":  i.PlayCount,
		"archived":    i.Archived,
		"created_at":  i.CreatedAt,
		"updated_at":  i.UpdatedAt,
	}
}

func (t *TaskLog) Dict() map[string]any {
	d := map[string]any{
		"id":             t.ID,
		"name":           t.Name,
		"type":           t.Type,
		"execution_type": t.ExecutionType,
		"started_at":     t.StartedAt,
		"duration_ms":    t.DurationMs,
		"result":         t.Result,
	}
	if t.FinishedAt.Valid {
		d["finished_at"] = t.FinishedAt.Int64
	} else {
		d["finished_at"] = nil
	}
	if t.LogJSON.Valid {
		d["log_json"] = t.LogJSON.String
	} else {
		d["log_json"] = nil
	}
	return d
}

func nullString(s sql.NullString) any {
	if s.Valid {
		return s.String
	}
	return nil
}
