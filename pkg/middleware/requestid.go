package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/docsink/docsink/pkg/logger"
)

// RequestID returns middleware that attaches a request ID to the context and
// echoes it in the X-Request-ID response header. An incoming X-Request-ID is
// honored so IDs survive proxy hops.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := logger.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
