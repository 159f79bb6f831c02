package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// SubjectLoader fetches an active user together with its role and
// permission grants.
type SubjectLoader func(ctx context.Context, userID int64) (Subject, error)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Cache      *Cache
	Loader     SubjectLoader
	Logger     *slog.Logger
	// OnDecision, when set, observes every allow/deny outcome.
	OnDecision func(allowed bool)
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(g Grants) bool { return g.CanAny(normalized...) }, "rbac require any")
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(g Grants) bool { return g.CanAll(normalized...) }, "rbac require all")
}

func (m Middleware) require(perms []string, check func(Grants) bool, op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				m.observe(false)
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			grants, err := m.GrantsFor(r.Context(), userID)
			if errors.Is(err, shared.ErrNotFound) {
				// The session outlived its user.
				m.observe(false)
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("user_id", userID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			allowed := check(grants)
			m.observe(allowed)
			if !allowed {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GrantsFor resolves the grants of userID through the cache.
func (m Middleware) GrantsFor(ctx context.Context, userID int64) (Grants, error) {
	return m.Cache.Grants(ctx, userID, func(ctx context.Context, id int64) (Grants, error) {
		subject, err := m.Loader(ctx, id)
		if err != nil {
			return Grants{}, err
		}
		return m.Authorizer.Grants(subject), nil
	})
}

func (m Middleware) observe(allowed bool) {
	if m.OnDecision != nil {
		m.OnDecision(allowed)
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
