package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/borealis-media/borealis/internal/models"
)

// SyncCatalog reconciles users, libraries and the items of every
// tracked library in one pass. Each kind is fully upserted before its
// archive-missing call so entities are never archived because of a
// partial fetch.
func (s *Syncer) SyncCatalog(ctx context.Context, executionType string) (Result, error) {
	runID := uuid.NewString()
	start := time.Now()

	taskID, err := s.repo.CreateTaskLog(ctx, models.TaskNameCatalogSync, models.TaskTypeCatalog, executionType)
	if err != nil {
		return Result{}, fmt.Errorf("start catalog sync: %w", err)
	}

	counts, err := s.syncCatalogPass(ctx)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		detail := map[string]any{"run_id": runID, "error": err.Error()}
		if cerr := s.repo.CompleteTaskLog(ctx, taskID, models.TaskResultFailed, detail); cerr != nil {
			log.Error().Err(cerr).Int64("task_id", taskID).Msg("Failed to close task log")
		}
		return Result{Success: false, DurationMs: durationMs}, fmt.Errorf("catalog sync: %w", err)
	}

	detail := map[string]any{
		"run_id":    runID,
		"users":     counts.users,
		"libraries": counts.libraries,
		"items":     counts.items,
	}
	if err := s.repo.CompleteTaskLog(ctx, taskID, models.TaskResultSuccess, detail); err != nil {
		log.Error().Err(err).Int64("task_id", taskID).Msg("Failed to close task log")
	}

	total := counts.users + counts.libraries + counts.items
	log.Info().
		Str("run_id", runID).
		Int("users", counts.users).
		Int("libraries", counts.libraries).
		Int("items", counts.items).
		Int64("duration_ms", durationMs).
		Msg("Catalog sync completed")

	return Result{Success: true, ItemsSynced: total, DurationMs: durationMs}, nil
}

type catalogCounts struct {
	users     int
	libraries int
	items     int
}

func (s *Syncer) syncCatalogPass(ctx context.Context) (catalogCounts, error) {
	var counts catalogCounts

	// Users
	remoteUsers, err := s.client.Users(ctx)
	if err != nil {
		return counts, err
	}
	userRows := make([]map[string]any, 0, len(remoteUsers))
	activeUserIDs := make([]string, 0, len(remoteUsers))
	for _, u := range remoteUsers {
		if u.ID == "" {
			continue
		}
		userRows = append(userRows, map[string]any{
			"jellyfin_id": u.ID,
			"name":        u.Name,
			"is_admin":    u.Policy.IsAdministrator,
		})
		activeUserIDs = append(activeUserIDs, u.ID)
	}
	counts.users, err = s.repo.UpsertUsers(ctx, userRows)
	if err != nil {
		return counts, err
	}
	if _, err := s.repo.ArchiveMissingUsers(ctx, activeUserIDs); err != nil {
		return counts, err
	}

	// Libraries
	folders, err := s.client.MediaFolders(ctx)
	if err != nil {
		return counts, err
	}
	libRows := make([]map[string]any, 0, len(folders))
	activeLibIDs := make([]string, 0, len(folders))
	for _, f := range folders {
		if f.ID == "" {
			continue
		}
		row := map[string]any{
			"jellyfin_id": f.ID,
			"name":        f.Name,
			"image_url":   fmt.Sprintf("/Items/%s/Images/Primary", f.ID),
		}
		if f.CollectionType != "" {
			row["type"] = f.CollectionType
		}
		libRows = append(libRows, row)
		activeLibIDs = append(activeLibIDs, f.ID)
	}
	counts.libraries, err = s.repo.UpsertLibraries(ctx, libRows)
	if err != nil {
		return counts, err
	}
	if _, err := s.repo.ArchiveMissingLibraries(ctx, activeLibIDs); err != nil {
		return counts, err
	}

	// Items, per tracked library
	libs, err := s.repo.ListLibraries(ctx, false)
	if err != nil {
		return counts, err
	}
	for _, lib := range libs {
		tracked, _ := lib["tracked"].(bool)
		if !tracked {
			continue
		}
		libJfID, _ := lib["jellyfin_id"].(string)
		libLocalID, _ := lib["id"].(int64)

		n, err := s.syncLibraryItems(ctx, libJfID, libLocalID)
		if err != nil {
			return counts, err
		}
		counts.items += n
	}

	return counts, nil
}

func (s *Syncer) syncLibraryItems(ctx context.Context, libraryJfID string, libraryID int64) (int, error) {
	synced := 0
	var activeIDs []string

	startIndex := 0
	for {
		page, err := s.client.LibraryItems(ctx, libraryJfID, startIndex, s.pageSize)
		if err != nil {
			return synced, err
		}
		if len(page.Items) == 0 {
			break
		}

		rows := make([]map[string]any, 0, len(page.Items))
		for _, it := range page.Items {
			if it.ID == "" {
				continue
			}
			row := map[string]any{
				"jellyfin_id": it.ID,
				"library_id":  libraryID,
				"name":        it.Name,
			}
			if it.Type != "" {
				row["type"] = it.Type
			}
			if it.ParentID != "" {
				row["parent_id"] = it.ParentID
			}
			rows = append(rows, row)
			activeIDs = append(activeIDs, it.ID)
		}

		n, err := s.repo.UpsertItems(ctx, rows)
		if err != nil {
			return synced, err
		}
		synced += n

		startIndex += len(page.Items)
		if startIndex >= page.TotalRecordCount {
			break
		}
	}

	if _, err := s.repo.ArchiveMissingItems(ctx, libraryID, activeIDs); err != nil {
		return synced, err
	}
	return synced, nil
}
