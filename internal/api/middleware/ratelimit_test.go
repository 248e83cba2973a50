package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/api/middleware"
	"github.com/slotwatch/slotwatch/internal/api/models"
	"github.com/slotwatch/slotwatch/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP_BlocksAfterLimit(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/cycles", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	w := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, models.ProblemTypeTooManyRequests, decodeProblem(t, w).Type)

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestRateLimitBySubject_KeysOnTokenSubject(t *testing.T) {
	svc := newTokenService(t, nil)
	alice, _, err := svc.Generate("alice", auth.ScopeTrigger)
	require.NoError(t, err)
	bob, _, err := svc.Generate("bob", auth.ScopeTrigger)
	require.NoError(t, err)

	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}
	handler := middleware.RequireScope(svc, auth.ScopeTrigger)(middleware.RateLimitBySubject(cfg)(okHandler()))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/cycles", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusTooManyRequests, send(alice))
	assert.Equal(t, http.StatusOK, send(bob))
}

func TestRateLimitDefaults(t *testing.T) {
	assert.Equal(t, 60, middleware.ReadRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.ReadRateLimit.WindowLength)
	assert.Less(t, middleware.TriggerRateLimit.RequestLimit, middleware.ReadRateLimit.RequestLimit)
}
