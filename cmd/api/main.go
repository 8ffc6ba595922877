package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stickerpack/internal/adapter/repo"
	"stickerpack/internal/bundle"
	"stickerpack/internal/generation"
	"stickerpack/internal/http/handlers"
	"stickerpack/internal/http/httpapi"
	"stickerpack/internal/infra"
	"stickerpack/internal/notify"
	"stickerpack/internal/payment"
	"stickerpack/internal/providers/image"
	"stickerpack/internal/queue"
	"stickerpack/internal/sqlinline"
	"stickerpack/internal/storage"
	"stickerpack/internal/styles"
)

func main() {
	// .env is optional
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
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := infra.Migrate(ctx, pool, sqlinline.Schema); err != nil {
			logger.Fatal().Err(err).Msg("api: migration failed")
		}
		logger.Info().Msg("api: schema applied")
	}

	runner := infra.NewSQLRunner(pool, logger)
	jobs := repo.NewJobRepository(runner)
	stickers := repo.NewStickerRepository(runner)
	orders := repo.NewOrderRepository(runner)
	catalog := styles.Default()

	store, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage configuration failed")
	}
	var staticDir string
	switch s := store.(type) {
	case *storage.FileStore:
		staticDir = s.BasePath()
	case storage.Unconfigured:
		logger.Warn().Str("reason", s.Reason).Msg("api: object storage not configured, uploads will fail")
	}

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	generator, remover, err := image.FromConfig(cfg, httpClient, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: image provider configuration failed")
	}
	logger.Info().Str("provider", generator.Name()).Bool("background_removal", remover != nil).Msg("api: image provider selected")

	driver, err := generation.NewDriver(generation.Deps{
		Jobs:       jobs,
		Stickers:   stickers,
		Orders:     orders,
		Generator:  generator,
		Remover:    remover,
		Store:      store,
		Catalog:    catalog,
		HTTPClient: httpClient,
		Logger:     &logger,
	}, generation.SettingsFromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: generation driver failed")
	}

	payments := payment.NewClient(payment.Options{
		APIKey:        cfg.LemonSqueezyAPIKey,
		StoreID:       cfg.LemonSqueezyStoreID,
		VariantID:     cfg.LemonSqueezyVariantID,
		BaseURL:       cfg.LemonSqueezyBaseURL,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        &logger,
	})
	if !payments.Configured() {
		logger.Warn().Msg("api: lemon squeezy credentials missing, checkout will fail")
	}
	verifier := payment.NewVerifier(cfg.LemonSqueezyWebhookSecret)
	if verifier.Insecure() {
		logger.Warn().Msg("api: LEMONSQUEEZY_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	if cfg.AnalyticsMeasurementID == "" {
		logger.Info().Msg("api: analytics disabled")
	}

	bundles := bundle.NewService(bundle.Options{
		Stickers:   stickers,
		Orders:     orders,
		Store:      store,
		Notifier:   notify.FromConfig(cfg, &logger),
		HTTPClient: httpClient,
		Logger:     &logger,
		URLTTL:     cfg.BundleURLTTL,
	})

	app := &handlers.App{
		Jobs:           jobs,
		Stickers:       stickers,
		Orders:         orders,
		Store:          store,
		Catalog:        catalog,
		Driver:         driver,
		Payments:       payments,
		Verifier:       verifier,
		Bundles:        bundles,
		Logger:         &logger,
		UploadMaxBytes: cfg.UploadMaxBytes,
	}

	kicks, err := queue.FromConfig(cfg, "api", &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: kick queue configuration failed")
	}
	if kicks != nil {
		defer kicks.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := kicks.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Msg("api: redis unreachable, kicks may be lost until it recovers")
		}
		cancel()
		app.Kicks = kicks
	} else {
		logger.Info().Msg("api: REDIS_ADDR not set, paid jobs advance on status polls only")
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		CORSOrigins:     cfg.CORSOrigins,
		UploadRateLimit: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})

	server := infra.NewHTTPServer(cfg, router, &logger)
	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: http server failed")
	}
}
