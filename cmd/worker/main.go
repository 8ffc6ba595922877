package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"stickerpack/internal/adapter/repo"
	"stickerpack/internal/generation"
	"stickerpack/internal/infra"
	"stickerpack/internal/providers/image"
	"stickerpack/internal/queue"
	"stickerpack/internal/storage"
	"stickerpack/internal/styles"
)

const sweepLimit = 50

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	store, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage configuration failed")
	}
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	generator, remover, err := image.FromConfig(cfg, httpClient, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: image provider configuration failed")
	}

	driver, err := generation.NewDriver(generation.Deps{
		Jobs:       repo.NewJobRepository(runner),
		Stickers:   repo.NewStickerRepository(runner),
		Orders:     repo.NewOrderRepository(runner),
		Generator:  generator,
		Remover:    remover,
		Store:      store,
		Catalog:    styles.Default(),
		HTTPClient: httpClient,
		Logger:     &logger,
	}, generation.SettingsFromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: generation driver failed")
	}

	sweeper := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&logger))))
	if _, err := sweeper.AddFunc(cfg.WorkerSweepSpec, func() {
		n, err := driver.Sweep(ctx, sweepLimit)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: sweep failed")
			return
		}
		if n > 0 {
			logger.Info().Int("jobs", n).Msg("worker: sweep drove stalled jobs")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.WorkerSweepSpec).Msg("worker: invalid sweep schedule")
	}
	sweeper.Start()
	logger.Info().Str("provider", generator.Name()).Str("sweep", cfg.WorkerSweepSpec).Msg("worker: started")

	kicks, err := queue.FromConfig(cfg, "", &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: kick queue configuration failed")
	}
	if kicks == nil {
		logger.Warn().Msg("worker: REDIS_ADDR not set, relying on the sweep only")
		<-ctx.Done()
	} else {
		defer kicks.Close()
		err := kicks.Run(ctx, cfg.BatchConcurrency, func(ctx context.Context, jobID string) error {
			logger.Info().Str("job_id", jobID).Msg("worker: picked job")
			job, err := driver.Drive(ctx, jobID)
			if err != nil {
				return err
			}
			if job != nil {
				logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Int("progress", job.Progress).Msg("worker: job at rest")
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: queue stopped")
		}
	}

	<-sweeper.Stop().Done()
	logger.Info().Msg("worker: stopped")
}
