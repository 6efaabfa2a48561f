// Package syncer pulls catalog and activity state from the Jellyfin API
// and feeds it through the repository's reconciliation contract: upsert
// every observed row of a kind, then archive-missing with the complete
// active id set for that same kind, in one logical pass.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/borealis-media/borealis/internal/jellyfin"
	"github.com/borealis-media/borealis/internal/models"
	"github.com/borealis-media/borealis/internal/repository"
)

// Result summarizes one sync run.
type Result struct {
	Success     bool  `json:"success"`
	ItemsSynced int   `json:"itemsSynced"`
	DurationMs  int64 `json:"durationMs"`
}

// RemoteClient is the slice of the Jellyfin client the syncer uses.
type RemoteClient interface {
	Users(ctx context.Context) ([]jellyfin.User, error)
	MediaFolders(ctx context.Context) ([]jellyfin.MediaFolder, error)
	LibraryItems(ctx context.Context, parentID string, startIndex, limit int) (*jellyfin.ItemsPage, error)
	ActivityLogEntries(ctx context.Context, startIndex, limit int, minDate *time.Time) (*jellyfin.ActivityLogPage, error)
}

// Activity log entry types that represent playback.
var playbackEntryTypes = map[string]bool{
	"AudioPlayback":        true,
	"VideoPlayback":        true,
	"AudioPlaybackStopped": true,
	"VideoPlaybackStopped": true,
}

type Syncer struct {
	repo     *repository.Repository
	client   RemoteClient
	pageSize int
}

func New(repo *repository.Repository, client RemoteClient, pageSize int) *Syncer {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Syncer{repo: repo, client: client, pageSize: pageSize}
}

// IsInitialActivityLogSyncNeeded reports whether the one-time full
// activity log bootstrap is still pending.
func (s *Syncer) IsInitialActivityLogSyncNeeded(ctx context.Context) (bool, error) {
	return s.repo.IsInitialActivityLogSyncNeeded(ctx)
}

func (s *Syncer) SyncActivityLogFull(ctx context.Context) (Result, error) {
	return s.syncActivityLog(ctx, 0, models.ExecutionScheduled)
}

func (s *Syncer) SyncActivityLogIncremental(ctx context.Context, minutesBack int) (Result, error) {
	return s.syncActivityLog(ctx, minutesBack, models.ExecutionScheduled)
}

// SyncActivityLogManual runs the same full-vs-incremental decision the
// scheduler makes, recorded as a manual execution.
func (s *Syncer) SyncActivityLogManual(ctx context.Context, minutesBack int) (Result, error) {
	needed, err := s.repo.IsInitialActivityLogSyncNeeded(ctx)
	if err != nil {
		return Result{}, err
	}
	if needed {
		return s.syncActivityLog(ctx, 0, models.ExecutionManual)
	}
	return s.syncActivityLog(ctx, minutesBack, models.ExecutionManual)
}

func (s *Syncer) syncActivityLog(ctx context.Context, minutesBack int, executionType string) (Result, error) {
	full := minutesBack <= 0
	taskName := models.TaskNameActivityLogIncremental
	if full {
		taskName = models.TaskNameActivityLogFull
	}

	runID := uuid.NewString()
	start := time.Now()

	taskID, err := s.repo.CreateTaskLog(ctx, taskName, models.TaskTypeActivityLog, executionType)
	if err != nil {
		return Result{}, fmt.Errorf("start activity log sync: %w", err)
	}

	var minDate *time.Time
	if !full {
		t := time.Now().Add(-time.Duration(minutesBack) * time.Minute)
		minDate = &t
	}

	usernames, err := s.usernameIndex(ctx)
	if err != nil {
		return s.failActivitySync(ctx, taskID, runID, start, 0, err)
	}

	total := 0
	startIndex := 0
	for {
		page, err := s.client.ActivityLogEntries(ctx, startIndex, s.pageSize, minDate)
		if err != nil {
			return s.failActivitySync(ctx, taskID, runID, start, total, err)
		}
		if len(page.Items) == 0 {
			break
		}

		events := make([]map[string]any, 0, len(page.Items))
		for _, entry := range page.Items {
			if !playbackEntryTypes[entry.Type] || entry.ItemID == "" {
				continue
			}
			event := map[string]any{
				"user_id":     entry.UserID,
				"item_id":     entry.ItemID,
				"activity_at": entry.Date.Unix(),
			}
			if name, ok := usernames[entry.UserID]; ok {
				event["username_denorm"] = name
			}
			events = append(events, event)
		}

		inserted, err := s.repo.InsertPlaybackEvents(ctx, events)
		if err != nil {
			return s.failActivitySync(ctx, taskID, runID, start, total, err)
		}
		total += inserted

		startIndex += len(page.Items)
		if startIndex >= page.TotalRecordCount {
			break
		}
	}

	durationMs := time.Since(start).Milliseconds()
	detail := map[string]any{
		"run_id":       runID,
		"items_synced": total,
		"full":         full,
	}
	if err := s.repo.CompleteTaskLog(ctx, taskID, models.TaskResultSuccess, detail); err != nil {
		log.Error().Err(err).Int64("task_id", taskID).Msg("Failed to close task log")
	}

	log.Info().
		Str("run_id", runID).
		Bool("full", full).
		Int("items_synced", total).
		Int64("duration_ms", durationMs).
		Msg("Activity log sync completed")

	return Result{Success: true, ItemsSynced: total, DurationMs: durationMs}, nil
}

func (s *Syncer) failActivitySync(ctx context.Context, taskID int64, runID string, start time.Time, synced int, cause error) (Result, error) {
	detail := map[string]any{
		"run_id": runID,
		"error":  cause.Error(),
	}
	if err := s.repo.CompleteTaskLog(ctx, taskID, models.TaskResultFailed, detail); err != nil {
		log.Error().Err(err).Int64("task_id", taskID).Msg("Failed to close task log")
	}
	return Result{Success: false, ItemsSynced: synced, DurationMs: time.Since(start).Milliseconds()},
		fmt.Errorf("activity log sync: %w", cause)
}

func (s *Syncer) usernameIndex(ctx context.Context) (map[string]string, error) {
	users, err := s.repo.ListUsers(ctx, true)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(users))
	for _, u := range users {
		jfID, _ := u["jellyfin_id"].(string)
		name, _ := u["name"].(string)
		if jfID != "" {
			index[jfID] = name
		}
	}
	return index, nil
}
