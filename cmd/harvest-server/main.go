// Package main provides the HTTP server that runs harvest jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/kaigo-harvest/internal/config"
	"github.com/raphaelgruber/kaigo-harvest/internal/db"
	"github.com/raphaelgruber/kaigo-harvest/internal/fetch"
	"github.com/raphaelgruber/kaigo-harvest/internal/harvest"
	"github.com/raphaelgruber/kaigo-harvest/internal/metrics"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/raphaelgruber/kaigo-harvest/internal/server"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
	"github.com/raphaelgruber/kaigo-harvest/internal/source"
)

// hubBuffer is the per-subscriber backlog before a slow stream is dropped.
const hubBuffer = 256

func main() {
	cfg := config.Load()
	flag.BoolVar(&cfg.WipeArchive, "wipe", cfg.WipeArchive, "wipe the archive on startup (testing only)")
	flag.Parse()

	logger, cleanup := config.SetupLogger("harvest-server", cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		slog.Error("failed to load tuning", "error", err)
		os.Exit(1)
	}

	recorder := metrics.NewRecorder(nil)
	hub := progress.NewHub(hubBuffer)

	jobOpts := service.Options{
		MaxStoredJobs:   cfg.MaxStoredJobs,
		MaxJobLogs:      cfg.MaxJobLogs,
		MaxServiceTypes: cfg.MaxServiceTypes,
		Hub:             hub,
		Recorder:        recorder,
	}
	srvOpts := server.Options{}

	if cfg.ArchiveURL != "" {
		archive, err := openArchive(cfg, logger)
		if err != nil {
			slog.Error("failed to open archive", "url", cfg.ArchiveURL, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := archive.Close(context.Background()); err != nil {
				slog.Error("failed to close archive", "error", err)
			}
		}()
		jobOpts.Archiver = archive
		srvOpts.Archive = archive
	}

	jobs := service.NewJobManager(newRunner(cfg, tuning, recorder), jobOpts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	jobs.Start(ctx)

	srv := server.New(jobs, hub, recorder, logger, srvOpts)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: progress streams and large exports stay open.
	}

	go func() {
		slog.Info("starting harvest-server", "addr", cfg.Addr(), "archive", cfg.ArchiveURL != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	// Streams hold their connections until the hub closes.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	jobs.Wait()

	slog.Info("server stopped")
}

// newRunner wires the fetch stack and the three source adapters.
func newRunner(cfg config.Config, t config.Tuning, recorder *metrics.Recorder) *harvest.Runner {
	client := fetch.NewClient(fetch.Options{
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.HTTPTimeout,
		MaxAttempts:    t.Fetch.MaxAttempts,
		Backoff:        t.Fetch.Backoff,
		RateLimitDelay: t.Fetch.RateLimitDelay,
		Observer:       recorder,
	})
	pipeline := fetch.NewPipeline(client, t.Fetch.FollowDepth)

	return harvest.NewRunner(harvest.Sources{
		Catalog: source.NewCatalog(pipeline, source.CatalogConfig{
			IndexURL:    t.Catalog.IndexURL,
			ContentBase: t.Catalog.ContentBase,
		}),
		Secondary: source.NewOpenDataSearch(pipeline, source.OpenDataSearchConfig{
			SearchURL:           t.OpenData.SearchURL,
			PackagesPerQuery:    t.OpenData.PackagesPerQuery,
			ResourcesPerService: t.OpenData.ResourcesPerService,
			DownloadsPerService: t.OpenData.DownloadsPerService,
		}),
		Directory: source.NewDirectory(client, source.DirectoryConfig{
			BaseURL:  t.Directory.BaseURL,
			PageSize: t.Directory.PageSize,
			MaxPages: t.Directory.MaxPages,
			Delay:    cfg.DirectoryDelay,
		}),
	}, harvest.Coverage{
		MinRecords:        t.Coverage.MinRecords,
		PerCell:           t.Coverage.PerCell,
		MinUserCountRatio: t.Coverage.MinUserCountRatio,
	}, recorder)
}

// openArchive connects to SurrealDB and prepares the schema.
func openArchive(cfg config.Config, logger *slog.Logger) (*db.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	archive, err := db.NewClient(ctx, db.Config{
		URL:       cfg.ArchiveURL,
		Namespace: cfg.ArchiveNamespace,
		Database:  cfg.ArchiveDatabase,
		Username:  cfg.ArchiveUser,
		Password:  cfg.ArchivePass,
		AuthLevel: cfg.ArchiveAuthLevel,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := archive.InitSchema(ctx); err != nil {
		_ = archive.Close(context.Background())
		return nil, err
	}
	if cfg.WipeArchive {
		slog.Warn("wiping archive")
		if err := archive.WipeData(ctx); err != nil {
			_ = archive.Close(context.Background())
			return nil, err
		}
	}
	return archive, nil
}
