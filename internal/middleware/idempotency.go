package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/taskhub/taskhub-api/internal/pkg/cache"
	"github.com/taskhub/taskhub-api/internal/pkg/response"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotentResponse is a replayable response captured for one Idempotency-Key.
type IdempotentResponse struct {
	done   bool
	status int
	header http.Header
	body   []byte
}

// IdempotencyStore keeps captured responses until their TTL expires.
type IdempotencyStore = cache.TTL[string, *IdempotentResponse]

// NewIdempotencyStore creates a store whose entries live for the cache TTL.
var NewIdempotencyStore = cache.New[string, *IdempotentResponse]

// Idempotency replays the first response of a mutating request carrying an
// Idempotency-Key header. Keys are scoped to the caller's credentials and route.
// A duplicate that arrives while the first is still running gets 409.
func Idempotency(store *IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				response.BadRequest(w, "Idempotency-Key is too long")
				return
			}

			sum := sha256.Sum256([]byte(r.Header.Get("Authorization") + "\x00" + r.Method + " " + r.URL.Path + "\x00" + key))
			cacheKey := hex.EncodeToString(sum[:])

			if !store.SetIfAbsent(cacheKey, &IdempotentResponse{}) {
				prev, ok := store.Get(cacheKey)
				if !ok || !prev.done {
					response.Conflict(w, "A request with this Idempotency-Key is still in progress")
					return
				}
				for k, vs := range prev.header {
					w.Header()[k] = vs
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(prev.status)
				_, _ = w.Write(prev.body)
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				if !completed || rec.status >= http.StatusInternalServerError {
					store.Delete(cacheKey)
					return
				}
				store.Set(cacheKey, &IdempotentResponse{
					done:   true,
					status: rec.status,
					header: w.Header().Clone(),
					body:   rec.buf.Bytes(),
				})
			}()

			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *capturingWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}
