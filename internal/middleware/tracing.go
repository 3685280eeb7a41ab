package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceIDHeader = "X-Request-ID"

	// maxRequestIDLen caps caller-supplied IDs before they reach log lines.
	maxRequestIDLen = 128
)

type traceIDKey struct{}

// Tracing assigns every request an ID and echoes it in X-Request-ID. A
// well-formed caller ID is kept. Otherwise the ID of the active span is used,
// falling back to a fresh UUID when no span is being recorded.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceIDHeader)
		if !validRequestID(traceID) {
			traceID = spanOrNewID(r.Context())
		}

		w.Header().Set(traceIDHeader, traceID)
		ctx := context.WithValue(r.Context(), traceIDKey{}, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func spanOrNewID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// TraceIDFromContext returns the request ID set by Tracing, or "" outside it.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}
