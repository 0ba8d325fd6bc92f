package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	httpadapter "cv-optimizer/internal/adapter/http"
	repo "cv-optimizer/internal/adapter/repository"
	"cv-optimizer/internal/config"
	"cv-optimizer/internal/infrastructure/migration"
	"cv-optimizer/internal/usecase"
	"cv-optimizer/pkg/ai"
	"cv-optimizer/pkg/diff"
	infra "cv-optimizer/pkg/infrastructure"

	"github.com/jackc/pgx/v4/pgxpool"
)

// ledger is the union of the credit, idempotency and free-pass stores;
// every backend implements all three.
type ledger interface {
	usecase.CreditStore
	usecase.IdempotencyStore
	usecase.FreePassStore
}

type resources struct {
	pool    *pgxpool.Pool
	closers []func() error
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config.invalid", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := &resources{}
	defer res.close()

	jobs, err := buildJobStore(ctx, cfg, res, logger)
	if err != nil {
		logger.Error("storage.init_failed", "backend", cfg.Storage.JobBackend, "error", err)
		os.Exit(1)
	}
	led, err := buildLedger(ctx, cfg, res)
	if err != nil {
		logger.Error("ledger.init_failed", "backend", cfg.Storage.LedgerBackend, "error", err)
		os.Exit(1)
	}

	var fetcher usecase.PageFetcher = infra.NewHTTPPageFetcher()
	if cfg.Pipeline.Fetcher == config.FetcherChromedp {
		fetcher = infra.NewChromedpPageFetcher(cfg.Pipeline.ChromePath)
	}
	engine := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)
	engine.Logger = logger

	inline := usecase.NewInlineDispatcher(logger, usecase.WithRunTimeout(cfg.Dispatch.InlineTimeout))
	var dispatcher usecase.Dispatcher = inline
	if cfg.Dispatch.Mode == config.DispatchQueued {
		q, err := infra.NewCloudTasksQueue(ctx, infra.CloudTasksConfig{
			ProjectID:           cfg.Dispatch.ProjectID,
			Location:            cfg.Dispatch.Location,
			Queue:               cfg.Dispatch.Queue,
			CallbackURL:         cfg.CallbackURL(),
			CallbackToken:       cfg.Dispatch.CallbackToken,
			ServiceAccountEmail: cfg.Dispatch.ServiceAccountEmail,
			MaxAttempts:         int32(cfg.Dispatch.MaxAttempts),
			MinBackoff:          cfg.Dispatch.MinBackoff,
			MaxBackoff:          cfg.Dispatch.MaxBackoff,
			MaxDispatchesPerSec: cfg.Dispatch.MaxDispatchesPerSec,
			MaxConcurrent:       int32(cfg.Dispatch.MaxConcurrent),
		}, logger)
		if err != nil {
			logger.Error("tasks.init_failed", "error", err)
			os.Exit(1)
		}
		res.closers = append(res.closers, q.Close)
		if err := q.EnsureQueue(ctx); err != nil {
			logger.Warn("tasks.queue.ensure_failed", "error", err)
		}
		dispatcher = usecase.NewQueuedDispatcher(q, logger)
	}

	p := cfg.Pipeline
	coord := usecase.NewCoordinator(usecase.Deps{
		Jobs:       jobs,
		Credits:    led,
		Keys:       led,
		FreePasses: led,
		Dispatcher: dispatcher,
		Fetcher:    fetcher,
		Engine:     engine,
		Differ:     diff.NewRenderer(),
	},
		usecase.WithLogger(logger),
		usecase.WithStageTimeouts(p.FetchTimeout, p.KeywordsTimeout, p.RefineTimeout),
		usecase.WithRetry(p.RetryAttempts, p.RetryBaseDelay, p.RetryMaxDelay),
		usecase.WithStaleAfter(p.StaleAfter),
		usecase.WithBundleCredits(cfg.Payments.BundleCredits),
	)

	h := httpadapter.NewHandler(coord, led, led, httpadapter.Options{
		WebhookSecret:     cfg.Payments.WebhookSecret,
		CheckoutURL:       cfg.Payments.CheckoutURL,
		BundleCheckoutURL: cfg.Payments.BundleURL,
		TaskToken:         cfg.Dispatch.CallbackToken,
		AdminAPIKey:       cfg.HTTP.AdminAPIKey,
		AllowDirectRefine: cfg.HTTP.AllowDirectRefine,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		SecureCookies:     cfg.HTTP.SecureCookies,
		RateLimitMax:      cfg.HTTP.RateLimitMax,
		RateLimitWindow:   cfg.HTTP.RateLimitWindow,
	}, logger)
	app := h.NewApp()

	go func() {
		logger.Info("server.starting", "port", cfg.Port, "env", cfg.Env,
			"storage", cfg.Storage.JobBackend, "ledger", cfg.Storage.LedgerBackend, "dispatch", cfg.Dispatch.Mode)
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server.failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutting_down")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Error("server.shutdown_failed", "error", err)
	}
	inline.Wait()
	logger.Info("server.stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func postgresPool(ctx context.Context, cfg *config.Config, res *resources) (*pgxpool.Pool, error) {
	if res.pool != nil {
		return res.pool, nil
	}
	pool, err := infra.NewJobsPool(ctx, cfg.Storage.DatabaseURL, int32(cfg.Storage.MaxDBConns))
	if err != nil {
		return nil, err
	}
	if err := migration.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	res.pool = pool
	res.closers = append(res.closers, func() error { pool.Close(); return nil })
	return pool, nil
}

func buildJobStore(ctx context.Context, cfg *config.Config, res *resources, logger *slog.Logger) (usecase.JobStore, error) {
	switch cfg.Storage.JobBackend {
	case config.StorageFile:
		fs, err := repo.NewFileJobStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		return repo.NewCachedJobStore(fs, logger), nil
	case config.StorageCloud:
		client, err := repo.NewS3Client(ctx, cfg.Storage.BucketRegion, cfg.Storage.BucketEndpoint)
		if err != nil {
			return nil, err
		}
		return repo.NewCachedJobStore(repo.NewObjectJobStore(client, cfg.Storage.Bucket), logger), nil
	case config.StoragePG:
		pool, err := postgresPool(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		return repo.NewCachedJobStore(repo.NewJobsRepo(pool), logger), nil
	default:
		return repo.NewMemoryJobStore(), nil
	}
}

func buildLedger(ctx context.Context, cfg *config.Config, res *resources) (ledger, error) {
	switch cfg.Storage.LedgerBackend {
	case config.LedgerSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		db, err := repo.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := migration.RunSQLiteMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		res.closers = append(res.closers, db.Close)
		return repo.NewSQLiteLedger(db), nil
	case config.LedgerPG:
		pool, err := postgresPool(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		return repo.NewPostgresLedger(pool), nil
	default:
		return repo.NewMemoryLedger(cfg.Storage.IdempotencyTTL), nil
	}
}
