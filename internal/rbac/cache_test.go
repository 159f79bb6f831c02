package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheMemoisesUntilBump(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	current := []string{"users.view"}
	load := func(ctx context.Context, userID int64) (Grants, error) {
		calls++
		return Grants{Permissions: NewPermissionSet(current...)}, nil
	}

	g, err := cache.Grants(ctx, 7, load)
	require.NoError(t, err)
	assert.True(t, g.Can("users.view"))

	current = []string{"users.view", "users.edit"}
	g, err = cache.Grants(ctx, 7, load)
	require.NoError(t, err)
	assert.False(t, g.Can("users.edit"), "cached entry served before invalidation")
	assert.Equal(t, 1, calls)

	require.NoError(t, cache.InvalidateOnChange(ctx, shared.Event{Entity: shared.EntityRole, Action: "updated"}))
	g, err = cache.Grants(ctx, 7, load)
	require.NoError(t, err)
	assert.True(t, g.Can("users.edit"))
	assert.Equal(t, 2, calls)
}

func TestCacheLoadSurvivesCancelledLeader(t *testing.T) {
	cache := newTestCache(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	load := func(ctx context.Context, userID int64) (Grants, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return Grants{}, err
		}
		return Grants{Permissions: NewPermissionSet("users.view")}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = cache.Grants(leaderCtx, 7, load)
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = cache.Grants(context.Background(), 7, load)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	g, err := cache.Grants(context.Background(), 7, func(context.Context, int64) (Grants, error) {
		t.Fatal("grants should be cached")
		return Grants{}, nil
	})
	require.NoError(t, err)
	assert.True(t, g.Can("users.view"))
}

func TestCacheIgnoresUnrelatedEvents(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.InvalidateOnChange(ctx, shared.Event{Entity: shared.EntityMenuNode}))
	after, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cache *Cache
	g, err := cache.Grants(context.Background(), 1, func(ctx context.Context, userID int64) (Grants, error) {
		return Grants{Super: true}, nil
	})
	require.NoError(t, err)
	assert.True(t, g.Super)
	assert.NoError(t, cache.Bump(context.Background()))
}

func TestMiddlewareRequireAny(t *testing.T) {
	subject := &stubSubject{id: 5, roles: []Role{{Name: "viewer", Guard: DefaultGuard, Permissions: []Permission{perm("users.view")}}}}
	var decisions []bool
	mw := Middleware{
		Authorizer: NewAuthorizer(),
		Cache:      newTestCache(t),
		Loader: func(ctx context.Context, userID int64) (Subject, error) {
			if userID != subject.id {
				return nil, shared.ErrNotFound
			}
			return subject, nil
		},
		OnDecision: func(allowed bool) { decisions = append(decisions, allowed) },
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		actor  int64
		perms  []string
		status int
	}{
		{name: "granted", actor: 5, perms: []string{"users.edit", "users.view"}, status: http.StatusNoContent},
		{name: "denied", actor: 5, perms: []string{"users.edit"}, status: http.StatusForbidden},
		{name: "guest", actor: 0, perms: []string{"users.view"}, status: http.StatusUnauthorized},
		{name: "no requirement", actor: 0, perms: []string{" "}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tc.actor != 0 {
				req = req.WithContext(shared.ContextWithActor(req.Context(), tc.actor))
			}
			rr := httptest.NewRecorder()
			mw.RequireAny(tc.perms...)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
		})
	}
	assert.Equal(t, []bool{true, false, false}, decisions)
}

func TestMiddlewareRequireAll(t *testing.T) {
	subject := &stubSubject{id: 9, direct: []Permission{perm("roles.view")}}
	mw := Middleware{
		Authorizer: NewAuthorizer(),
		Loader:     func(ctx context.Context, userID int64) (Subject, error) { return subject, nil },
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), 9))
	rr := httptest.NewRecorder()
	mw.RequireAll("roles.view", "roles.edit")(ok).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	mw.RequireAll("roles.view")(ok).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
