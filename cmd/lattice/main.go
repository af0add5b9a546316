package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lattice-hq/lattice/internal/app"
	"github.com/lattice-hq/lattice/internal/audit"
	"github.com/lattice-hq/lattice/internal/authz"
	"github.com/lattice-hq/lattice/internal/directory"
	"github.com/lattice-hq/lattice/internal/observability"
	"github.com/lattice-hq/lattice/internal/overrides"
	"github.com/lattice-hq/lattice/internal/permissions"
	"github.com/lattice-hq/lattice/internal/platform/cache"
	"github.com/lattice-hq/lattice/internal/platform/db"
	"github.com/lattice-hq/lattice/internal/roles"
	"github.com/lattice-hq/lattice/internal/shared"
	"github.com/lattice-hq/lattice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	recorder := audit.NewPublisher(asynqClient, logger, jobs.QueueDefault)
	idempotency := shared.NewIdempotencyGuard(redisClient, cfg.IdempotencyTTL)

	directoryRepo := directory.NewRepository(pool)

	authzRepo := authz.NewPgRepository(pool)
	engine := authz.NewEngine(directoryRepo, authzRepo, logger, metrics, recorder)
	authzHandler := authz.NewHandler(logger, engine)

	permissionsRepo := permissions.NewRepository(pool)
	permissionsService := permissions.NewService(permissionsRepo, directoryRepo, recorder)
	permissionsHandler := permissions.NewHandler(logger, permissionsService, idempotency)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, directoryRepo, directoryRepo, permissionsRepo, directoryRepo, permissionsRepo, recorder)
	rolesHandler := roles.NewHandler(logger, rolesService, idempotency)

	overridesRepo := overrides.NewRepository(pool)
	overridesService := overrides.NewService(overridesRepo, directoryRepo, rolesRepo, permissionsRepo, directoryRepo, permissionsRepo, recorder)
	overridesHandler := overrides.NewHandler(logger, overridesService, idempotency)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthzHandler:       authzHandler,
		PermissionsHandler: permissionsHandler,
		RolesHandler:       rolesHandler,
		OverridesHandler:   overridesHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
