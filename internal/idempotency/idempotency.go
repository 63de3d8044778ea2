// Package idempotency replays cached responses for requests that carry an
// Idempotency-Key header, so a retried transfer is never submitted twice.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vanshika/amlwatch/internal/logging"
)

const (
	// Header is the request header carrying the client-chosen key.
	Header = "Idempotency-Key"

	lockTimeout = 10 * time.Second
	cachePrefix = "idempotency:"
	lockPrefix  = "idempotency-lock:"
)

// ErrNotFound is returned by Store.Get when no response is cached.
var ErrNotFound = errors.New("idempotency: no cached response")

// Response is a cached HTTP response.
type Response struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Store caches responses and serializes concurrent requests sharing a key.
type Store interface {
	Get(ctx context.Context, key string) (Response, error)
	Put(ctx context.Context, key string, resp Response) error
	Lock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware replays cached 2xx responses and rejects concurrent duplicates
// with 409. scope partitions keys, typically by caller, so two callers cannot
// collide on the same key.
func Middleware(store Store, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if scope != nil {
				key = scope(r) + ":" + key
			}

			ctx := r.Context()
			logger := logging.FromContext(ctx).With("idempotency_key", r.Header.Get(Header))

			if replayed, err := replay(ctx, w, store, key); replayed || err != nil {
				if err != nil {
					logger.Error("idempotency lookup failed", "error", err)
					writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
					return
				}
				logger.Debug("idempotent replay")
				return
			}

			acquired, err := store.Lock(ctx, key)
			if err != nil {
				logger.Error("idempotency lock failed", "error", err)
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			}
			defer func() {
				if err := store.Unlock(context.WithoutCancel(ctx), key); err != nil {
					logger.Warn("idempotency unlock failed", "error", err)
				}
			}()

			// The previous holder may have cached its response between Get and Lock.
			if replayed, err := replay(ctx, w, store, key); replayed || err != nil {
				if err != nil {
					logger.Error("idempotency lookup failed", "error", err)
					writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
					return
				}
				logger.Debug("idempotent replay after lock")
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				resp := Response{Status: rec.status, Body: rec.body.Bytes()}
				if err := store.Put(context.WithoutCancel(ctx), key, resp); err != nil {
					logger.Warn("idempotency cache write failed", "error", err)
				}
			}
		})
	}
}

// replay writes the cached response for key, if any. A cache miss reports
// false with a nil error.
func replay(ctx context.Context, w http.ResponseWriter, store Store, key string) (bool, error) {
	cached, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
	return true, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RedisStore implements Store on Redis with SETNX locks.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore builds a RedisStore caching responses for ttl.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Response, error) {
	data, err := s.rdb.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, ErrNotFound
	}
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, cachePrefix+key, data, s.ttl).Err()
}

func (s *RedisStore) Lock(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, lockPrefix+key, "processing", lockTimeout).Result()
}

func (s *RedisStore) Unlock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, lockPrefix+key).Err()
}

// MemoryStore is an in-process Store for tests and single-instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	responses map[string]memoryResponse
	locks     map[string]struct{}
}

type memoryResponse struct {
	resp    Response
	expires time.Time
}

// NewMemoryStore builds a MemoryStore caching responses for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:       ttl,
		responses: make(map[string]memoryResponse),
		locks:     make(map[string]struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.responses[key]
	if !ok {
		return Response{}, ErrNotFound
	}
	if m.ttl > 0 && time.Now().After(entry.expires) {
		delete(m.responses, key)
		return Response{}, ErrNotFound
	}
	return entry.resp, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, resp Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = memoryResponse{resp: resp, expires: time.Now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Lock(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return false, nil
	}
	m.locks[key] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}
