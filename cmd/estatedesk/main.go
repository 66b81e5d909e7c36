package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/estatedesk/estatedesk/internal/app"
	"github.com/estatedesk/estatedesk/internal/auth"
	"github.com/estatedesk/estatedesk/internal/observability"
	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
	"github.com/estatedesk/estatedesk/internal/platform/cache"
	"github.com/estatedesk/estatedesk/internal/rbac"
	"github.com/estatedesk/estatedesk/internal/resources"
	"github.com/estatedesk/estatedesk/internal/roles"
	"github.com/estatedesk/estatedesk/internal/shared"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	api := apiclient.New(cfg.APIBaseURL, cfg.APITimeout)
	metrics := observability.NewMetrics()

	dedupeMetrics, err := rbac.NewDedupeMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register rbac metrics", slog.Any("error", err))
		os.Exit(1)
	}
	deduper := rbac.NewDeduper(
		rbac.WithBurstWindow(cfg.RBACBurstWindow),
		rbac.WithDedupeMetrics(dedupeMetrics),
	)
	rbacService := rbac.NewService(api, deduper)
	rbacMiddleware := rbac.Middleware{Logger: logger, Decisions: metrics}

	authService := auth.NewService(api)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, cfg.LoginLimitPerMinute)
	rolesHandler := roles.NewHandler(logger, app.RoleServices(api, rbacService), rbacMiddleware)

	transports := app.ResourceTransports(api)
	resourceHandlers := []*resources.Handler{
		resources.NewHandler(logger, resources.Campaigns, transports, rbacMiddleware),
		resources.NewHandler(logger, resources.Properties, transports, rbacMiddleware),
		resources.NewHandler(logger, resources.Users, transports, rbacMiddleware),
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		API:              api,
		RBAC:             rbacService,
		AuthHandler:      authHandler,
		RolesHandler:     rolesHandler,
		ResourceHandlers: resourceHandlers,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("api", cfg.APIBaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
