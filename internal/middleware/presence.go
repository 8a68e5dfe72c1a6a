package middleware

import (
	"net/http"
)

// ActivityRecorder is told about every authenticated request.
type ActivityRecorder interface {
	Refresh(userID string) bool
}

// PresenceMiddleware counts any authenticated request as activity for an
// online user.
type PresenceMiddleware struct {
	recorder ActivityRecorder
}

func NewPresenceMiddleware(recorder ActivityRecorder) *PresenceMiddleware {
	return &PresenceMiddleware{recorder: recorder}
}

func (m *PresenceMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := GetUserID(r.Context()); userID != "" {
			m.recorder.Refresh(userID)
		}
		next.ServeHTTP(w, r)
	})
}
