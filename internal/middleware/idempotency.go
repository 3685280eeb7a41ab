package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/josh-kwaku/eventsourced-accounts/internal/handler"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
	"github.com/josh-kwaku/eventsourced-accounts/internal/repository"
)

type idempotencyStore interface {
	Get(ctx context.Context, key string) (*repository.IdempotencyCacheEntry, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) (bool, error)
	Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error
	Release(ctx context.Context, key string) error
}

// reservationTTL bounds how long a key stays locked if its request never
// finishes, e.g. after a crash.
const reservationTTL = time.Minute

// Idempotency requires an Idempotency-Key on mutating requests. The key is
// reserved before the handler runs, so a duplicate that arrives while the
// first is in flight gets 409 instead of running again. Finished responses are
// replayed for the same request. Server errors release the key so the client
// can retry with it.
func Idempotency(store idempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			log := logging.FromContext(r.Context())

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := computeHash(r.Method, r.URL.Path, body)

			cached, err := store.Get(r.Context(), key)
			if err != nil {
				log.Error("idempotency cache lookup failed", "error", err, "idempotency_key", key)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if cached != nil {
				respondCached(w, r, cached, reqHash)
				return
			}

			reserved, err := store.Reserve(r.Context(), key, reqHash, time.Now().UTC().Add(min(ttl, reservationTTL)))
			if err != nil {
				log.Error("idempotency key reservation failed", "error", err, "idempotency_key", key)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if !reserved {
				// Lost the race to a concurrent request with the same key.
				cached, err := store.Get(r.Context(), key)
				if err != nil {
					log.Error("idempotency cache lookup failed", "error", err, "idempotency_key", key)
					handler.RespondAppError(w, handler.ErrInternalError, nil)
					return
				}
				if cached != nil {
					respondCached(w, r, cached, reqHash)
					return
				}
				handler.RespondAppError(w, handler.ErrIdempotencyInProgress, nil)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The outcome is recorded even if the client has gone away.
			storeCtx := context.WithoutCancel(r.Context())

			if rec.statusCode >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, key); err != nil {
					log.Error("idempotency key release failed", "error", err, "idempotency_key", key)
				}
				return
			}

			now := time.Now().UTC()
			entry := &repository.IdempotencyCacheEntry{
				Key:          key,
				RequestHash:  reqHash,
				StatusCode:   rec.statusCode,
				ResponseBody: rec.body.Bytes(),
				CreatedAt:    now,
				ExpiresAt:    now.Add(ttl),
			}
			if err := store.Set(storeCtx, entry); err != nil {
				log.Error("idempotency cache store failed", "error", err, "idempotency_key", key)
			}
		})
	}
}

func respondCached(w http.ResponseWriter, r *http.Request, cached *repository.IdempotencyCacheEntry, reqHash string) {
	if cached.RequestHash != reqHash {
		handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
		return
	}
	if cached.Pending() {
		handler.RespondAppError(w, handler.ErrIdempotencyInProgress, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.ResponseBody); err != nil {
		logging.FromContext(r.Context()).Error("failed to write idempotent replay", "error", err, "idempotency_key", cached.Key)
	}
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
