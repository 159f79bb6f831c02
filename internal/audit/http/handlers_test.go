package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type viewer struct{ perms []string }

func (v viewer) SubjectID() int64 { return 11 }
func (v viewer) GuardName() string { return rbac.DefaultGuard }
func (v viewer) AssignedRoles() []rbac.Role { return nil }
func (v viewer) DirectPermissions() []rbac.Permission {
	out := make([]rbac.Permission, 0, len(v.perms))
	for _, p := range v.perms {
		out = append(out, rbac.Permission{Name: p, Guard: rbac.DefaultGuard})
	}
	return out
}

func newAuditRouter(t *testing.T, service *stubTimelineService, perms []string) http.Handler {
	t.Helper()
	mw := rbac.Middleware{
		Authorizer: rbac.NewAuthorizer(),
		Loader: func(ctx context.Context, userID int64) (rbac.Subject, error) {
			return viewer{perms: perms}, nil
		},
	}
	handler := NewHandler(nil, service, mw)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 11)))
		})
	})
	r.Route("/audit", handler.MountRoutes)
	return r
}

func TestTimelineRequiresPermission(t *testing.T) {
	router := newAuditRouter(t, &stubTimelineService{}, []string{shared.PermUsersView})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.TimelineRow{{ID: 1, At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), Action: "updated", Entity: "role", EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := newAuditRouter(t, service, []string{shared.PermActivityView})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?entity=role&actor=4&page=2", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "role", got.Rows[0].Entity)

	f := service.lastFilters
	assert.Equal(t, "role", f.Entity)
	assert.Equal(t, int64(4), f.ActorID)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), f.To)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newAuditRouter(t, &stubTimelineService{}, []string{shared.PermActivityView})
	for _, query := range []string{
		"from=2024-03-10&to=2024-03-01",
		"from=2023-01-01&to=2024-03-01",
		"to=yesterday",
		"page=0",
		"actor=abc",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{ID: 5, At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), Action: "created", Entity: "user", EntityID: "8"}}}
	router := newAuditRouter(t, service, []string{shared.PermActivityView})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "id,occurred_at,actor_id"))
	assert.Contains(t, rr.Body.String(), "5,2024-03-10T10:00:00Z,,user,8,created,")
}

func TestExportIsRateLimited(t *testing.T) {
	router := newAuditRouter(t, &stubTimelineService{}, []string{shared.PermActivityView})
	var last int
	for i := 0; i <= rateLimit; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
		last = rr.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
