package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/borealis-media/borealis/internal/config"
	"github.com/borealis-media/borealis/internal/database"
	"github.com/borealis-media/borealis/internal/handlers"
	"github.com/borealis-media/borealis/internal/jellyfin"
	"github.com/borealis-media/borealis/internal/repository"
	"github.com/borealis-media/borealis/internal/scheduler"
	"github.com/borealis-media/borealis/internal/settings"
	"github.com/borealis-media/borealis/internal/syncer"
)

var (
	version   = "1.0.0"
	buildTime = "development"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("Starting Borealis")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	db, err := database.New(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	settingsSvc := settings.New(db, cfg.Settings.KeyPath)
	repo := repository.New(db)
	client := jellyfin.NewClient(settingsSvc.JellyfinEndpoint)
	syncSvc := syncer.New(repo, client, cfg.Sync.PageSize)

	sched := scheduler.New(syncSvc,
		time.Duration(cfg.Sync.IntervalSeconds)*time.Second,
		cfg.Sync.IncrementalWindowMinutes)
	sched.Start(context.Background())
	defer sched.Stop()

	h := handlers.New(repo, settingsSvc, syncSvc, cfg.Sync.IncrementalWindowMinutes)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Get("/users", h.ListUsers)
		r.Get("/libraries", h.ListLibraries)
		r.Put("/libraries/{jellyfinID}/tracked", h.SetLibraryTracked)

		r.Get("/stats/top-items", h.TopItems)
		r.Get("/stats/top-users", h.TopUsers)
		r.Get("/stats/libraries", h.LibraryStats)
		r.Post("/stats/refresh", h.RefreshStats)

		r.Post("/sync/activity", h.SyncActivity)
		r.Post("/sync/catalog", h.SyncCatalog)
		r.Get("/tasks", h.ListTaskLogs)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
