package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-import/internal/api"
	"github.com/dvloznov/finance-import/internal/api/handlers"
	"github.com/dvloznov/finance-import/internal/app"
	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/jobs/inmemory"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/dvloznov/finance-import/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// recoverInterval is how often stale staging batches are swept.
const recoverInterval = 5 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log := logger.New()
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	var (
		configPath = flag.String("config", "", "Path to YAML config (or set IMPORT_CONFIG)")
		port       = flag.String("port", "", "HTTP server port (overrides PORT)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log := logger.NewWithConfig(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(context.Background(), log)

	jobStore := inmemory.NewStore(
		inmemory.WithRetention(cfg.Jobs.Retention),
		inmemory.WithMaxFinished(cfg.Jobs.MaxFinished),
	)

	a, err := app.New(ctx, cfg, pipeline.WithJobTracker(jobStore))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise import service")
	}
	defer a.Close()

	// Batches left in staging by a previous process are failed before new
	// work is accepted.
	if ids, err := a.Manager.RecoverStale(ctx, cfg.Import.StaleAfter); err != nil {
		log.Error().Err(err).Msg("Stale batch recovery failed")
	} else if len(ids) > 0 {
		log.Warn().Ints64("batch_ids", ids).Msg("Recovered interrupted batches")
	}

	jobQueue := inmemory.NewQueue(cfg.Jobs.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
		inmemory.WithRetryBackoff(cfg.Jobs.RetryBackoff),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, a.Manager.HandleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job queue")
	}
	go sweepStale(workerCtx, a, cfg.Import.StaleAfter, log)

	router := api.NewRouter(
		handlers.NewBatchesHandler(a.Manager, jobQueue, jobStore, cfg.Storage.MaxUploadBytes, log),
		handlers.NewJobsHandler(jobStore, log),
		log,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("import_root", a.Files.Root()).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-flight populates finish before the workers' context is cancelled.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}

func sweepStale(ctx context.Context, a *app.App, staleAfter time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(recoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := a.Manager.RecoverStale(ctx, staleAfter)
			if err != nil {
				log.Error().Err(err).Msg("Stale batch recovery failed")
				continue
			}
			if len(ids) > 0 {
				log.Warn().Ints64("batch_ids", ids).Msg("Recovered interrupted batches")
			}
		}
	}
}
