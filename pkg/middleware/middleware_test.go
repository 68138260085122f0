package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_BlocksOverBurst(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.01), 2)
	h := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/guest_login/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guest_login/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different client has its own bucket.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/guest_login/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_SweepDropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	rl.allow("10.0.0.1")

	rl.sweep(time.Now().Add(4 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.visitors)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", ClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:80"
	assert.Equal(t, "9.9.9.9", ClientIP(req))
}

func TestRequestID_EchoesHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	RequestID(okHandler()).ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(nil)(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	Health(nil)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "timestamp")
}

func TestHealth_ReportsDatabaseDown(t *testing.T) {
	ping := func(context.Context) error { return errors.New("connection refused") }

	w := httptest.NewRecorder()
	Health(ping)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}
