package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/josh-kwaku/eventsourced-accounts/internal/handler"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can drop the connection quietly.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			// Tracing runs inside this middleware, so the ID is only on the
			// response headers by now.
			logging.FromContext(r.Context()).Error("panic recovered",
				"request_id", w.Header().Get(traceIDHeader),
				"method", r.Method,
				"path", r.URL.Path,
				"error", rec,
				"stack", string(debug.Stack()),
			)
			handler.RespondAppError(w, handler.ErrInternalError, nil)
		}()
		next.ServeHTTP(w, r)
	})
}
