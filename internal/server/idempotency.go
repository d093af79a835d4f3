package server

import (
	"bytes"
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"UsdnLedger/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IdempotencyHeader carries the client's key for a mutating request.
const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "Idempotent-Replay"
)

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// ResponseStore is the shared second tier behind the in-process LRU.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error) // nil, nil on miss
	Put(ctx context.Context, key string, resp StoredResponse) error
}

// IdempotencyChecker implements two-tier deduplication of mutating
// requests: an in-memory LRU, then an optional shared store.
type IdempotencyChecker struct {
	mu       sync.Mutex
	lru      *IdempotencyLRU
	inFlight map[string]struct{}

	remote  ResponseStore
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIdempotencyChecker(capacity int, remote ResponseStore, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:      NewIdempotencyLRU(capacity),
		inFlight: make(map[string]struct{}),
		remote:   remote,
		metrics:  metrics,
		logger:   logger,
	}
}

func (ic *IdempotencyChecker) countReplay(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotentReplays.WithLabelValues(tier).Inc()
	}
}

// lookup returns a stored response, or reserves key for the caller. ok is
// false when another request holds the key.
func (ic *IdempotencyChecker) lookup(ctx context.Context, key string) (stored *StoredResponse, ok bool) {
	ic.mu.Lock()
	if resp, hit := ic.lru.Get(key); hit {
		ic.mu.Unlock()
		ic.countReplay("lru")
		return resp, true
	}
	if _, busy := ic.inFlight[key]; busy {
		ic.mu.Unlock()
		return nil, false
	}
	ic.inFlight[key] = struct{}{}
	ic.mu.Unlock()

	if ic.remote == nil {
		return nil, true
	}
	resp, err := ic.remote.Get(ctx, key)
	if err != nil {
		// a store outage must not block the API; treat as a miss
		ic.logger.Warn().Err(err).Str("key", key).Msg("idempotency store lookup failed")
		return nil, true
	}
	if resp != nil {
		ic.mu.Lock()
		delete(ic.inFlight, key)
		ic.lru.Add(key, *resp)
		ic.mu.Unlock()
		ic.countReplay("redis")
	}
	return resp, true
}

// release records the outcome for key and drops the reservation. Server
// errors are not kept so the client may retry.
func (ic *IdempotencyChecker) release(ctx context.Context, key string, resp StoredResponse) {
	keep := resp.Status < http.StatusInternalServerError
	ic.mu.Lock()
	delete(ic.inFlight, key)
	if keep {
		ic.lru.Add(key, resp)
	}
	ic.mu.Unlock()

	if keep && ic.remote != nil {
		if err := ic.remote.Put(ctx, key, resp); err != nil {
			ic.logger.Warn().Err(err).Str("key", key).Msg("idempotency store write failed")
		}
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through.
func (ic *IdempotencyChecker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		key := fmt.Sprintf("%s:%s:%s", r.Method, r.URL.Path, header)

		stored, ok := ic.lookup(r.Context(), key)
		if !ok {
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: "request with this idempotency key is in progress"})
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(ReplayHeader, "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			ic.release(context.WithoutCancel(r.Context()), key, StoredResponse{Status: rec.status, Body: rec.body.Bytes()})
		}()
		next.ServeHTTP(rec, r)
	})
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache of responses. Not thread-safe; the
// checker guards it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key  string
	resp StoredResponse
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Get returns the response under key and promotes it.
func (lru *IdempotencyLRU) Get(key string) (*StoredResponse, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	resp := elem.Value.(*lruEntry).resp
	return &resp, true
}

// Add inserts or replaces key.
func (lru *IdempotencyLRU) Add(key string, resp StoredResponse) {
	if elem, exists := lru.cache[key]; exists {
		elem.Value.(*lruEntry).resp = resp
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, resp: resp})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Redis tier ---

const idempotencyKeyPrefix = "usdn:idem:"

// RedisResponseStore keeps responses in Redis. The first writer of a key
// wins, so replicas agree on the replayed response.
type RedisResponseStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisResponseStore(rdb redis.UniversalClient, ttl time.Duration) *RedisResponseStore {
	return &RedisResponseStore{rdb: rdb, ttl: ttl}
}

func (s *RedisResponseStore) Get(ctx context.Context, key string) (*StoredResponse, error) {
	data, err := s.rdb.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp StoredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, nil
}

func (s *RedisResponseStore) Put(ctx context.Context, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.SetNX(ctx, idempotencyKeyPrefix+key, data, s.ttl).Err()
}
