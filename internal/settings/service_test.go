package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

type stubRepo struct {
	values    map[string]Setting
	listCalls int
}

func newStubRepo() *stubRepo {
	return &stubRepo{values: make(map[string]Setting)}
}

func (s *stubRepo) List(ctx context.Context) ([]Setting, error) {
	s.listCalls++
	out := make([]Setting, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *stubRepo) Get(ctx context.Context, key string) (Setting, error) {
	v, ok := s.values[key]
	if !ok {
		return Setting{}, ErrNotFound
	}
	return v, nil
}

func (s *stubRepo) Upsert(ctx context.Context, key string, value []byte) (Setting, error) {
	v := Setting{Key: key, Value: append(json.RawMessage(nil), value...), UpdatedAt: time.Now().UTC()}
	s.values[key] = v
	return v, nil
}

func (s *stubRepo) Delete(ctx context.Context, key string) error {
	if _, ok := s.values[key]; !ok {
		return ErrNotFound
	}
	delete(s.values, key)
	return nil
}

func newCachedService(t *testing.T) (*Service, *stubRepo, *shared.EventRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := newStubRepo()
	events := &shared.EventRecorder{}
	return NewService(repo, NewCache(client, time.Minute), events, nil), repo, events
}

func TestPutInvalidatesCache(t *testing.T) {
	svc, repo, events := newCachedService(t)
	ctx := context.Background()

	_, err := svc.Put(ctx, "site.name", UpdateInput{Value: json.RawMessage(`"Odyssey"`)})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "site.name")
	require.NoError(t, err)
	assert.JSONEq(t, `"Odyssey"`, string(got.Value))
	_, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "second read served from cache")

	_, err = svc.Put(ctx, "site.name", UpdateInput{Value: json.RawMessage(`"Odyssey Admin"`)})
	require.NoError(t, err)
	got, err = svc.Get(ctx, " site.name ")
	require.NoError(t, err)
	assert.JSONEq(t, `"Odyssey Admin"`, string(got.Value))
	assert.Equal(t, 2, repo.listCalls)

	assert.Equal(t, []string{"setting.updated", "setting.updated"}, events.Actions())
	assert.Equal(t, "site.name", events.Events[0].EntityID)
}

func TestPutRejectsBadInput(t *testing.T) {
	svc, _, events := newCachedService(t)
	ctx := context.Background()

	_, err := svc.Put(ctx, "Site Name", UpdateInput{Value: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Put(ctx, "", UpdateInput{Value: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Put(ctx, "ok", UpdateInput{Value: json.RawMessage(`{nope`)})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Empty(t, events.Events)
}

func TestDeleteMissingKey(t *testing.T) {
	svc, _, events := newCachedService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, "absent"), ErrNotFound)
	_, err := svc.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Put(ctx, "mail.from", UpdateInput{Value: json.RawMessage(`"ops@example.com"`)})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "mail.from"))
	_, err = svc.Get(ctx, "mail.from")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"setting.updated", "setting.deleted"}, events.Actions())
}

type settingsViewer struct{ perms []string }

func (v settingsViewer) SubjectID() int64 { return 1 }
func (v settingsViewer) GuardName() string { return rbac.DefaultGuard }
func (v settingsViewer) AssignedRoles() []rbac.Role {
	perms := make([]rbac.Permission, 0, len(v.perms))
	for _, p := range v.perms {
		perms = append(perms, rbac.Permission{Name: p, Guard: rbac.DefaultGuard})
	}
	return []rbac.Role{{Name: "staff", Guard: rbac.DefaultGuard, Permissions: perms}}
}
func (v settingsViewer) DirectPermissions() []rbac.Permission { return nil }

func TestHandlerGatesWrites(t *testing.T) {
	svc := NewService(newStubRepo(), nil, nil, nil)
	router := func(perms ...string) http.Handler {
		mw := rbac.Middleware{
			Authorizer: rbac.NewAuthorizer(),
			Loader: func(ctx context.Context, userID int64) (rbac.Subject, error) {
				return settingsViewer{perms: perms}, nil
			},
		}
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 1)))
			})
		})
		r.Route("/settings", NewHandler(nil, svc, mw).MountRoutes)
		return r
	}

	rr := httptest.NewRecorder()
	router(shared.PermSettingsView).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/settings/site.name", strings.NewReader(`{"value":"x"}`)))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	router(shared.PermSettingsEdit).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/settings/site.name", strings.NewReader(`{"value":"x"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router(shared.PermSettingsView).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/settings/site.name", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got Setting
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.JSONEq(t, `"x"`, string(got.Value))

	rr = httptest.NewRecorder()
	router(shared.PermSettingsEdit).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/settings/site.name", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
