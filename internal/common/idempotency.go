package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemInFlight = "in-flight"

// Idem provides an Idempotency-Key middleware backed by Redis. A completed
// request is replayed verbatim (status and body) for the TTL; a retry that
// arrives while the first attempt is still running receives 409. Server
// errors release the key unless the handler called MarkCommitted.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type committedKey struct{}

// MarkCommitted tells the idempotency middleware that the request's writes
// are durable, so its response is kept for replay even when it reports a
// server error.
func MarkCommitted(ctx context.Context) {
	if flag, ok := ctx.Value(committedKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// key scopes the client-supplied value to caller and route so the same key on
// two different bills never collides.
func (i Idem) key(r *http.Request, header string) string {
	user, _ := UserID(r.Context())
	sum := sha256.Sum256([]byte(user + "|" + r.Method + "|" + r.URL.Path + "|" + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.key(r, header)
		ok, err := i.R.SetNX(ctx, key, idemInFlight, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replay(ctx, w, key)
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		committed := new(atomic.Bool)
		completed := false
		defer func() {
			store := context.WithoutCancel(ctx)
			if !completed || (rec.status >= http.StatusInternalServerError && !committed.Load()) {
				// nothing was written, so the client may retry
				_ = i.R.Del(store, key).Err()
				return
			}
			payload, err := json.Marshal(storedResponse{Status: rec.status, Body: rec.jsonBody()})
			if err != nil {
				_ = i.R.Del(store, key).Err()
				return
			}
			_ = i.R.Set(store, key, payload, i.ttl()).Err()
		}()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, committedKey{}, committed)))
		completed = true
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Result()
	if err != nil || raw == idemInFlight {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "request with this idempotency key is in progress", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) jsonBody() json.RawMessage {
	body := bytes.TrimSpace(c.buf.Bytes())
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage("null")
	}
	return json.RawMessage(append([]byte(nil), body...))
}
