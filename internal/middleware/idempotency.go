package middleware

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/JellyRoute/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20
)

// storedResponse is what a keyed POST produced, plus a digest of the request
// body that produced it.
type storedResponse struct {
	Request string              `json:"request"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

// Idempotency replays the stored response for a repeated POST carrying the
// same Idempotency-Key, so a client retrying a task submission does not run
// the task and its remote calls twice. Reusing a key with a different body
// is rejected with 422. Server errors are not stored.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBody+1))
			if err != nil {
				http.Error(w, "read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			digest := digestHex(body)
			ck := idempotencyCacheKey(r.URL.Path, key)

			data, found, err := c.Get(ctx, ck)
			if err != nil {
				slog.WarnContext(ctx, "idempotency lookup failed", "error", err)
			}
			if found {
				var prev storedResponse
				if err := json.Unmarshal(data, &prev); err != nil {
					slog.WarnContext(ctx, "idempotency entry unreadable, running request", "error", err)
				} else if prev.Request != digest {
					http.Error(w, "Idempotency-Key was already used with a different request", http.StatusUnprocessableEntity)
					return
				} else {
					replay(w, &prev)
					return
				}
			}

			var out bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&out)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError || out.Len() > maxIdempotencyBody {
				return
			}
			entry, err := json.Marshal(storedResponse{
				Request: digest,
				Status:  status,
				Headers: w.Header().Clone(),
				Body:    out.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(ctx, ck, entry, ttl); err != nil {
				slog.WarnContext(ctx, "idempotency store failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, prev *storedResponse) {
	h := w.Header()
	for k, vals := range prev.Headers {
		h[k] = append([]string(nil), vals...)
	}
	h.Set(headerReplayed, "true")
	w.WriteHeader(prev.Status)
	_, _ = w.Write(prev.Body)
}

// idempotencyCacheKey scopes the client key to the route and hashes it into
// a fixed alphabet usable by every cache backend.
func idempotencyCacheKey(path, key string) string {
	return "idem:" + digestHex([]byte(path + "\x00" + key))
}

func digestHex(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:16])
}
