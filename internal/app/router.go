package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	audithttp "github.com/odyssey-erp/odyssey-admin/internal/audit/http"
	"github.com/odyssey-erp/odyssey-admin/internal/auth"
	"github.com/odyssey-erp/odyssey-admin/internal/menu"
	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/roles"
	"github.com/odyssey-erp/odyssey-admin/internal/settings"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/internal/users"
	"github.com/odyssey-erp/odyssey-admin/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
	Pool           *pgxpool.Pool
	Redis          *redis.Client

	AuthHandler        *auth.Handler
	PermissionsHandler *permissions.Handler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	MenuHandler        *menu.Handler
	SettingsHandler    *settings.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", healthz(params.Pool, params.Redis))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}

		r.Route("/auth", params.AuthHandler.MountRoutes)
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/menu", params.MenuHandler.MountRoutes)
		r.Get("/navigation", params.MenuHandler.Navigation)
		r.Route("/settings", params.SettingsHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(shared.PermActivityView))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}

func healthz(pool *pgxpool.Pool, client *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				status["postgres"] = "down"
				code = http.StatusServiceUnavailable
			}
		}
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				status["redis"] = "down"
				code = http.StatusServiceUnavailable
			}
		}
		if code != http.StatusOK {
			status["status"] = "degraded"
		}
		httpx.JSON(w, code, status)
	}
}
