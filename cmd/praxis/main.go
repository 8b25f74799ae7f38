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

	"github.com/praxisworks/praxis/internal/app"
	"github.com/praxisworks/praxis/internal/auth"
	"github.com/praxisworks/praxis/internal/authz"
	"github.com/praxisworks/praxis/internal/observability"
	"github.com/praxisworks/praxis/internal/platform/cache"
	"github.com/praxisworks/praxis/internal/platform/db"
	"github.com/praxisworks/praxis/internal/security"
	"github.com/praxisworks/praxis/internal/shared"
	"github.com/praxisworks/praxis/internal/users"
	"github.com/praxisworks/praxis/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	sessionManager := shared.NewSessionManager(redisClient, "praxis_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	metrics := observability.NewMetrics()

	authzRepo := authz.NewRepository(pool)
	authzCache := authz.NewCache(redisClient, cfg.AuthzCacheTTL)
	authzService := authz.NewService(authzRepo, authzCache, logger)
	authzService.SetObserver(metrics)
	authzMiddleware := authz.Middleware{Service: authzService, Logger: logger}
	for _, code := range shared.CoreScopes() {
		if _, err := authzService.EnsurePermission(ctx, code, code, "core"); err != nil {
			logger.Warn("register core permission", slog.String("code", code), slog.Any("error", err))
		}
	}
	authzHandler := authz.NewHandler(logger, authzService, authzMiddleware)

	securityRepo := security.NewRepository(pool)
	monitor := security.NewMonitor(securityRepo, logger)
	monitor.SetObserver(metrics)
	reporter := security.NewReporter(securityRepo)
	gate := &security.Gate{Monitor: monitor, Logger: logger}
	securityHandler := security.NewHandler(logger, monitor, reporter, authzMiddleware)

	taskClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init task client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, redisClient, monitor, taskClient, logger)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService, monitor, authzMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		Gate:            gate,
		AuthHandler:     authHandler,
		AuthzHandler:    authzHandler,
		SecurityHandler: securityHandler,
		UsersHandler:    usersHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
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
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
