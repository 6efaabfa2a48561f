package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/borealis-media/borealis/internal/models"
	"github.com/borealis-media/borealis/internal/repository"
	"github.com/borealis-media/borealis/internal/settings"
	"github.com/borealis-media/borealis/internal/stats"
	"github.com/borealis-media/borealis/internal/syncer"
)

type Handler struct {
	repo     *repository.Repository
	settings *settings.Service
	syncer   *syncer.Syncer
	window   int
}

func New(repo *repository.Repository, settingsSvc *settings.Service, syncSvc *syncer.Syncer, incrementalWindowMinutes int) *Handler {
	return &Handler{
		repo:     repo,
		settings: settingsSvc,
		syncer:   syncSvc,
		window:   incrementalWindowMinutes,
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Users

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	users, err := h.repo.ListUsers(r.Context(), includeArchived)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, users)
}

// Libraries

func (h *Handler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	libs, err := h.repo.ListLibraries(r.Context(), includeArchived)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, libs)
}

type setTrackedRequest struct {
	Tracked bool `json:"tracked"`
}

func (h *Handler) SetLibraryTracked(w http.ResponseWriter, r *http.Request) {
	jellyfinID := chi.URLParam(r, "jellyfinID")

	var req setTrackedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lib, err := h.repo.SetLibraryTracked(r.Context(), jellyfinID, req.Tracked)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lib == nil {
		h.respondError(w, http.StatusNotFound, "Library not found")
		return
	}
	h.respondJSON(w, http.StatusOK, lib)
}

// Stats

func (h *Handler) TopItems(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := stats.TopItemsByPlays(r.Context(), h.repo.DB(), limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, items)
}

func (h *Handler) TopUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, err := stats.TopUsersByPlays(r.Context(), h.repo.DB(), limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, users)
}

func (h *Handler) LibraryStats(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	libs, err := stats.LibraryStats(r.Context(), h.repo.DB(), includeArchived)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, libs)
}

// RefreshStats recomputes all denormalized counters in one transaction.
func (h *Handler) RefreshStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, err := h.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer tx.Rollback()

	counts, err := stats.RefreshAllStats(ctx, tx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, counts)
}

// Sync triggers

func (h *Handler) SyncActivity(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.SyncActivityLogManual(r.Context(), h.window)
	if err != nil {
		log.Error().Err(err).Msg("Manual activity sync failed")
		h.respondJSON(w, http.StatusBadGateway, result)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) SyncCatalog(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.SyncCatalog(r.Context(), models.ExecutionManual)
	if err != nil {
		log.Error().Err(err).Msg("Manual catalog sync failed")
		h.respondJSON(w, http.StatusBadGateway, result)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// Task logs

func (h *Handler) ListTaskLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, err := h.repo.ListTaskLogs(r.Context(), limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, tasks)
}

// Settings

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Get(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var items map[string]string
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.settings.Update(r.Context(), items)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}
