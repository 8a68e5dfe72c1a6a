package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vibely/realtime-server-go/internal/audit"
	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/httputil"
)

// IPRateLimitMiddleware limits connection attempts per client address. It
// runs ahead of auth on the long-lived endpoints.
type IPRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	scope   string
}

func NewIPRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, scope string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		scope:   "ip:" + scope,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		res := m.limiter.CheckLimit(r.Context(), m.scope, ip, m.limit, m.window)
		if !res.Allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"scope": m.scope},
			})
			secondsLeft := int(time.Until(res.ResetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(max(secondsLeft, 1)))
			httputil.WriteError(w, apperrors.New(apperrors.ErrCodeRateLimitExceeded, "Too many connection attempts. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}
