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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-admin/internal/app"
	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-admin/internal/audit/http"
	"github.com/odyssey-erp/odyssey-admin/internal/auth"
	"github.com/odyssey-erp/odyssey-admin/internal/menu"
	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/roles"
	"github.com/odyssey-erp/odyssey-admin/internal/settings"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/internal/users"
	"github.com/odyssey-erp/odyssey-admin/jobs"
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
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.DBAutoMigrate {
		if err := db.RunMigrations(ctx, pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.CookieSecure)
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	dispatcher := shared.NewDispatcher(logger)

	var authzOpts []rbac.Option
	if cfg.RBACSuperRole != "" {
		authzOpts = append(authzOpts, rbac.WithSuperRole(cfg.RBACSuperRole))
	}
	authorizer := rbac.NewAuthorizer(authzOpts...)
	grantsCache := rbac.NewCache(redisClient, cfg.RBACCacheTTL)

	permissionsService := permissions.NewService(permissions.NewRepository(pool), dispatcher)
	rolesService := roles.NewService(roles.NewRepository(pool), dispatcher)
	usersService := users.NewService(users.NewRepository(pool), dispatcher)
	menuService := menu.NewService(menu.NewRepository(pool), dispatcher)
	menuBuilder := menu.NewBuilder(menuService, authorizer)
	settingsService := settings.NewService(
		settings.NewRepository(pool),
		settings.NewCache(redisClient, cfg.SettingsCacheTTL),
		dispatcher,
		logger,
	)
	auditService := audit.NewService(audit.NewRepository(pool))
	authService := auth.NewService(auth.NewRepository(pool), usersService)

	rbacMiddleware := rbac.Middleware{
		Authorizer: authorizer,
		Cache:      grantsCache,
		Loader:     usersService.Subject,
		Logger:     logger,
		OnDecision: metrics.ObserveDecision,
	}

	var sink audit.Sink = shared.NewAuditLogger(pool)
	if cfg.AuditAsync {
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		sink = client
	}
	dispatcher.Subscribe("rbac-cache", grantsCache.InvalidateOnChange)
	dispatcher.Subscribe("audit", audit.NewRecorder(sink).Handle)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
		Pool:               pool,
		Redis:              redisClient,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager),
		PermissionsHandler: permissions.NewHandler(logger, permissionsService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		MenuHandler:        menu.NewHandler(logger, menuService, menuBuilder, rbacMiddleware),
		SettingsHandler:    settings.NewHandler(logger, settingsService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, auditService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
