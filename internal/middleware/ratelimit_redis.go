package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/audit"
	"github.com/vibely/realtime-server-go/internal/config"
	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/httputil"
	"github.com/vibely/realtime-server-go/internal/service"
)

const (
	httpLimitScope  = "http"
	rateLimitWindow = time.Minute
)

// Limiter is the shared sliding-window check backed by redis.
type Limiter interface {
	CheckLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) service.LimitResult
}

// RedisRateLimitMiddleware limits authenticated requests per user across all
// server instances. While redis is unreachable it defers to the in-process
// fallback, if one is set.
type RedisRateLimitMiddleware struct {
	limiter  Limiter
	limit    int
	fallback *RateLimitMiddleware
}

func NewRedisRateLimitMiddleware(limiter Limiter, limit int) *RedisRateLimitMiddleware {
	if limit <= 0 {
		limit = config.DefaultRateLimitPerMin
	}
	return &RedisRateLimitMiddleware{limiter: limiter, limit: limit}
}

// WithFallback sets the limiter used while redis is unreachable.
func (m *RedisRateLimitMiddleware) WithFallback(fallback *RateLimitMiddleware) *RedisRateLimitMiddleware {
	m.fallback = fallback
	return m
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		res := m.limiter.CheckLimit(r.Context(), httpLimitScope, userID, m.limit, rateLimitWindow)
		if res.Degraded && m.fallback != nil {
			m.fallback.Handler(next).ServeHTTP(w, r)
			return
		}
		setRateLimitHeaders(w, m.limit, res.Remaining, res.ResetAt.Unix())

		if !res.Allowed {
			log.Warn().Str("userId", userID).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				UserID:  userID,
				Details: map[string]any{"scope": httpLimitScope},
			})
			w.Header().Set("Retry-After", "60")
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
