package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

func newStackRouter(t *testing.T) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "sid", time.Hour, false)
	csrf := shared.NewCSRFManager("secret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         logger,
		Config:         &Config{AppRateLimit: 1000},
		SessionManager: sessions,
		CSRFManager:    csrf,
		Metrics:        observability.NewMetrics(),
	}) {
		r.Use(mw)
	}
	r.Get("/token", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		token, err := csrf.EnsureToken(sess)
		require.NoError(t, err)
		_, _ = w.Write([]byte(token))
	})
	r.Post("/login/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		shared.SessionFromContext(r.Context()).SetUser(id)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		id, _ := shared.ActorFromContext(r.Context())
		_, _ = w.Write([]byte(strconv.FormatInt(id, 10)))
	})
	return r, sessions
}

func TestCSRFRequiredOnUnsafeMethods(t *testing.T) {
	router, sessions := newStackRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	token := rr.Body.String()
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessions.CookieName() {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodPost, "/login/7", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/login/7", nil)
	req.AddCookie(cookie)
	req.Header.Set(shared.CSRFHeader, "forged")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/login/7", nil)
	req.AddCookie(cookie)
	req.Header.Set(shared.CSRFHeader, token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, "7", rr.Body.String())
}

func TestGuestHasNoActor(t *testing.T) {
	router, _ := newStackRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, "0", rr.Body.String())
}
