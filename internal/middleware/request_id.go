package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

type reqIDKeyType struct{}

var requestIDKey reqIDKeyType

// newReqID is a dependency-free id, unique enough to correlate log lines.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

func RequestIDFrom(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequestID tags every request with an id, exposed in the X-Request-Id
// header and the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newReqID()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
