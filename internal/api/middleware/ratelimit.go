package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/slotwatch/slotwatch/internal/api/models"
)

// RateLimitConfig is a request budget per window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

var (
	// ReadRateLimit applies to history and status reads (60 req/min).
	ReadRateLimit = RateLimitConfig{RequestLimit: 60, WindowLength: time.Minute}

	// TriggerRateLimit applies to manual cycle triggers (6 req/min). A cycle
	// fans out to one scheduler request per location.
	TriggerRateLimit = RateLimitConfig{RequestLimit: 6, WindowLength: time.Minute}
)

// RateLimitByIP limits by client IP (honouring X-Forwarded-For via RealIP).
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

// RateLimitBySubject limits by token subject, falling back to client IP.
// It must run after RequireScope.
func RateLimitBySubject(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keyBySubjectOrIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

func keyBySubjectOrIP(r *http.Request) (string, error) {
	if subject := GetSubject(r.Context()); subject != "" {
		return "sub:" + subject, nil
	}
	return httprate.KeyByRealIP(r)
}

func limitExceeded(cfg RateLimitConfig) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", retryAfter)
		writeProblem(w, r, models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later."))
	}
}
