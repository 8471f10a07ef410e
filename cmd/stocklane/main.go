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
	"github.com/joho/godotenv"

	"github.com/stocklane/stocklane/internal/app"
	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/platform/cache"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sink := notify.NewAsynqSink(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("sink close", slog.Any("error", err))
		}
	}()

	authz := shared.AuthzMiddleware{Gate: shared.AllowAll{}, Logger: logger}
	idempotencyStore := shared.NewIdempotencyStore(pool)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, pool)
	auditHandler := audit.NewHandler(logger, auditService, authz)

	schemaRepo := schema.NewRepository(pool)
	schemaCache := schema.NewCache(redisClient, cfg.SchemaCacheTTL)
	schemaService := schema.NewService(schemaRepo, schemaCache, auditRepo, sink, logger)
	schemaHandler := schema.NewHandler(logger, schemaService, authz)

	itemRepo := item.NewRepository(pool, auditRepo)
	itemService := item.NewService(itemRepo, schemaService, sink, logger)
	itemHandler := item.NewHandler(logger, itemService, authz)

	ledgerRepo := ledger.NewRepository(pool, auditRepo)
	ledgerService := ledger.NewService(ledgerRepo, schemaService, idempotencyStore, ledger.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock}, sink, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, authz)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		SchemaHandler: schemaHandler,
		ItemHandler:   itemHandler,
		AuditHandler:  auditHandler,
		LedgerHandler: ledgerHandler,
		JobHandler:    jobHandler,
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
