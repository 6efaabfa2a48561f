package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/borealis-media/borealis/internal/database"
	"github.com/borealis-media/borealis/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func backdate(t *testing.T, r *Repository, table, jellyfinID string, ts int64) {
	t.Helper()
	_, err := r.db.Exec(
		"UPDATE "+table+" SET created_at = ?, updated_at = ? WHERE jellyfin_id = ?",
		ts, ts, jellyfinID)
	if err != nil {
		t.Fatalf("backdate %s: %v", table, err)
	}
}

func TestUpsertUsersIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	rows := []map[string]any{
		{"jellyfin_id": "U1", "name": "Alice", "is_admin": true},
		{"jellyfin_id": "U2", "name": "Bob"},
	}

	count, err := r.UpsertUsers(ctx, rows)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if count != 2 {
		t.Fatalf("first upsert count = %d, want 2", count)
	}

	backdate(t, r, "users", "U1", 1000)

	count, err = r.UpsertUsers(ctx, rows)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if count != 2 {
		t.Fatalf("second upsert count = %d, want 2", count)
	}

	var u models.User
	if err := r.db.Get(&u, "SELECT * FROM users WHERE jellyfin_id = ?", "U1"); err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.CreatedAt != 1000 {
		t.Errorf("created_at = %d, want unchanged 1000", u.CreatedAt)
	}
	if u.UpdatedAt <= 1000 {
		t.Errorf("updated_at = %d, want advanced past 1000", u.UpdatedAt)
	}

	var total int
	if err := r.db.Get(&total, "SELECT COUNT(*) FROM users"); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if total != 2 {
		t.Errorf("user rows = %d, want 2 distinct external ids", total)
	}
}

func TestUpsertUsersPartialFieldPreservation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.UpsertUsers(ctx, []map[string]any{
		{"jellyfin_id": "U1", "name": "Alice", "is_admin": true},
	}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	if _, err := r.UpsertUsers(ctx, []map[string]any{
		{"jellyfin_id": "U1", "name": "New"},
	}); err != nil {
		t.Fatalf("partial upsert: %v", err)
	}

	var u models.User
	if err := r.db.Get(&u, "SELECT * FROM users WHERE jellyfin_id = ?", "U1"); err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Name != "New" {
		t.Errorf("name = %q, want %q", u.Name, "New")
	}
	if !u.IsAdmin {
		t.Error("is_admin was reset by an upsert that omitted it")
	}
}

func TestUpsertUsersSkipsRowsWithoutExternalID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	count, err := r.UpsertUsers(ctx, []map[string]any{
		{"name": "No ID"},
		{"jellyfin_id": "", "name": "Empty ID"},
		{"jellyfin_id": "U1"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (invalid rows skipped without error)", count)
	}

	var u models.User
	if err := r.db.Get(&u, "SELECT * FROM users WHERE jellyfin_id = ?", "U1"); err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Name != "Unknown" {
		t.Errorf("name = %q, want default %q", u.Name, "Unknown")
	}
}

func TestArchiveThenReappear(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.UpsertUsers(ctx, []map[string]any{{"jellyfin_id": "U1", "name": "Alice"}}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	flipped, err := r.ArchiveMissingUsers(ctx, []string{"someone-else"})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if flipped != 1 {
		t.Fatalf("flipped = %d, want 1", flipped)
	}

	backdate(t, r, "users", "U1", 1000)
	r.db.Exec("UPDATE users SET archived = 1 WHERE jellyfin_id = ?", "U1")

	if _, err := r.UpsertUsers(ctx, []map[string]any{{"jellyfin_id": "U1"}}); err != nil {
		t.Fatalf("reappear upsert: %v", err)
	}

	var u models.User
	if err := r.db.Get(&u, "SELECT * FROM users WHERE jellyfin_id = ?", "U1"); err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Archived {
		t.Error("user still archived after reappearing in an upsert")
	}
	if u.UpdatedAt <= 1000 {
		t.Errorf("updated_at = %d, want advanced on unarchival", u.UpdatedAt)
	}
}

func TestArchiveMissingUsersEmptySetIsNoop(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.UpsertUsers(ctx, []map[string]any{
		{"jellyfin_id": "U1"}, {"jellyfin_id": "U2"},
	}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	flipped, err := r.ArchiveMissingUsers(ctx, nil)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if flipped != 0 {
		t.Errorf("flipped = %d, want 0 for empty active set", flipped)
	}

	var archived int
	if err := r.db.Get(&archived, "SELECT COUNT(*) FROM users WHERE archived = 1"); err != nil {
		t.Fatalf("count archived: %v", err)
	}
	if archived != 0 {
		t.Errorf("archived rows = %d, want 0", archived)
	}
}

func seedLibrary(t *testing.T, r *Repository, jellyfinID string) int64 {
	t.Helper()
	ctx := context.Background()

	if _, err := r.UpsertLibraries(ctx, []map[string]any{{"jellyfin_id": jellyfinID, "name": jellyfinID}}); err != nil {
		t.Fatalf("seed library: %v", err)
	}

	var id int64
	if err := r.db.Get(&id, "SELECT id FROM libraries WHERE jellyfin_id = ?", jellyfinID); err != nil {
		t.Fatalf("get library id: %v", err)
	}
	return id
}

func TestArchiveMissingItemsScopedToLibrary(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	libA := seedLibrary(t, r, "LA")
	libB := seedLibrary(t, r, "LB")

	if _, err := r.UpsertItems(ctx, []map[string]any{
		{"jellyfin_id": "A1", "library_id": libA, "name": "a1"},
		{"jellyfin_id": "A2", "library_id": libA, "name": "a2"},
		{"jellyfin_id": "B1", "library_id": libB, "name": "b1"},
	}); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	flipped, err := r.ArchiveMissingItems(ctx, libA, []string{"A1"})
	if err != nil {
		t.Fatalf("archive items: %v", err)
	}
	if flipped != 1 {
		t.Fatalf("flipped = %d, want 1", flipped)
	}

	var archivedB int
	if err := r.db.Get(&archivedB, "SELECT COUNT(*) FROM items WHERE library_id = ? AND archived = 1", libB); err != nil {
		t.Fatalf("count: %v", err)
	}
	if archivedB != 0 {
		t.Errorf("library B items archived = %d, want 0 (archival is library-scoped)", archivedB)
	}

	var a2 models.Item
	if err := r.db.Get(&a2, "SELECT * FROM items WHERE jellyfin_id = ?", "A2"); err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !a2.Archived {
		t.Error("A2 not archived despite being absent from library A's active set")
	}
}

func TestUpsertItemsSkipsRowsWithoutLibrary(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	libA := seedLibrary(t, r, "LA")

	count, err := r.UpsertItems(ctx, []map[string]any{
		{"jellyfin_id": "I1", "name": "no library"},
		{"library_id": libA, "name": "no external id"},
		{"jellyfin_id": "I2", "library_id": libA},
	})
	if err != nil {
		t.Fatalf("upsert items: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSetLibraryTracked(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	seedLibrary(t, r, "L1")

	lib, err := r.SetLibraryTracked(ctx, "L1", true)
	if err != nil {
		t.Fatalf("set tracked: %v", err)
	}
	if lib == nil {
		t.Fatal("expected library projection, got nil")
	}
	if tracked, _ := lib["tracked"].(bool); !tracked {
		t.Error("projection does not reflect tracked=true")
	}

	missing, err := r.SetLibraryTracked(ctx, "nope", true)
	if err != nil {
		t.Fatalf("set tracked on unknown id: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown external id")
	}
}

func TestSetLibraryTrackedSurvivesReconciliation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	seedLibrary(t, r, "L1")
	if _, err := r.SetLibraryTracked(ctx, "L1", true); err != nil {
		t.Fatalf("set tracked: %v", err)
	}

	if _, err := r.UpsertLibraries(ctx, []map[string]any{{"jellyfin_id": "L1", "name": "renamed"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var lib models.Library
	if err := r.db.Get(&lib, "SELECT * FROM libraries WHERE jellyfin_id = ?", "L1"); err != nil {
		t.Fatalf("get library: %v", err)
	}
	if !lib.Tracked {
		t.Error("tracked flag was altered by reconciliation")
	}
	if lib.Name != "renamed" {
		t.Errorf("name = %q, want %q", lib.Name, "renamed")
	}
}

func TestListUsersExcludesArchivedByDefault(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.UpsertUsers(ctx, []map[string]any{
		{"jellyfin_id": "U1"}, {"jellyfin_id": "U2"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := r.ArchiveMissingUsers(ctx, []string{"U1"}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	active, err := r.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active users = %d, want 1", len(active))
	}
	if active[0]["jellyfin_id"] != "U1" {
		t.Errorf("active user = %v, want U1", active[0]["jellyfin_id"])
	}

	all, err := r.ListUsers(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all users = %d, want 2", len(all))
	}
}

func TestInsertPlaybackEventsDefaults(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	count, err := r.InsertPlaybackEvents(ctx, []map[string]any{
		{"user_id": "U1", "item_id": "I1"},
		{"user_id": "U1", "item_id": "I1", "activity_at": int64(1234), "duration_s": int64(90), "device_name": "TV"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	var events []models.PlaybackActivity
	if err := r.db.Select(&events, "SELECT * FROM playback_activity ORDER BY id"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if events[0].ActivityAt == 0 {
		t.Error("missing activity_at did not default to ingestion time")
	}
	if events[0].DurationS != 0 {
		t.Errorf("duration_s = %d, want default 0", events[0].DurationS)
	}
	if events[1].ActivityAt != 1234 {
		t.Errorf("activity_at = %d, want 1234", events[1].ActivityAt)
	}
	if !events[1].DeviceName.Valid || events[1].DeviceName.String != "TV" {
		t.Errorf("device_name = %v, want TV", events[1].DeviceName)
	}
}

func TestTaskLogLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	id, err := r.CreateTaskLog(ctx, "activity_log_full_sync", models.TaskTypeActivityLog, models.ExecutionScheduled)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var task models.TaskLog
	if err := r.db.Get(&task, "SELECT * FROM task_log WHERE id = ?", id); err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Result != models.TaskResultRunning {
		t.Errorf("result = %q, want RUNNING", task.Result)
	}
	if task.FinishedAt.Valid {
		t.Error("finished_at set before completion")
	}

	if err := r.CompleteTaskLog(ctx, id, models.TaskResultSuccess, map[string]any{"n": 3}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := r.db.Get(&task, "SELECT * FROM task_log WHERE id = ?", id); err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Result != models.TaskResultSuccess {
		t.Errorf("result = %q, want SUCCESS", task.Result)
	}
	if !task.FinishedAt.Valid {
		t.Error("finished_at not set")
	}
	if task.DurationMs < 0 {
		t.Errorf("duration_ms = %d, want >= 0", task.DurationMs)
	}
	if !task.LogJSON.Valid {
		t.Fatal("log_json not set")
	}
	var detail map[string]any
	if err := json.Unmarshal([]byte(task.LogJSON.String), &detail); err != nil {
		t.Fatalf("log_json does not deserialize: %v", err)
	}
	if n, _ := detail["n"].(float64); n != 3 {
		t.Errorf("log detail n = %v, want 3", detail["n"])
	}
}

func TestCompleteTaskLogUnknownIDIsNoop(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.CompleteTaskLog(ctx, 9999, models.TaskResultSuccess, nil); err != nil {
		t.Fatalf("complete on unknown id returned error: %v", err)
	}

	var count int
	if err := r.db.Get(&count, "SELECT COUNT(*) FROM task_log"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("task_log rows = %d, want 0", count)
	}
}

func TestIsInitialActivityLogSyncNeeded(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	needed, err := r.IsInitialActivityLogSyncNeeded(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !needed {
		t.Error("fresh database should need the initial full sync")
	}

	id, err := r.CreateTaskLog(ctx, models.TaskNameActivityLogFull, models.TaskTypeActivityLog, models.ExecutionScheduled)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Still pending while the run is only RUNNING.
	needed, err = r.IsInitialActivityLogSyncNeeded(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !needed {
		t.Error("a RUNNING full sync should not clear the bootstrap flag")
	}

	if err := r.CompleteTaskLog(ctx, id, models.TaskResultSuccess, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	needed, err = r.IsInitialActivityLogSyncNeeded(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if needed {
		t.Error("completed full sync should clear the bootstrap flag")
	}
}
