package middleware

import (
	"net/http"

	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/httputil"
)

const (
	DefaultMaxBodySize = 256 << 10 // 256KB, SDP blobs included
)

type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength > m.maxSize {
			httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, httputil.ErrorResponse{
				Success: false,
				Error:   "Request body too large",
				Code:    apperrors.ErrCodeInvalidInput,
			})
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		}
		next.ServeHTTP(w, r)
	})
}
