package idempotency

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CacheStore keeps idempotency records and replay markers in process memory. It suits a single
// instance; deployments with several replicas use RedisStore.
type CacheStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

var (
	_ Store       = (*CacheStore)(nil)
	_ ReplayCache = (*CacheStore)(nil)
)

func NewCacheStore() *CacheStore {
	return &CacheStore{cache: gocache.New(DefaultTTL, 10*time.Minute)}
}

func (s *CacheStore) Reserve(_ context.Context, key, fingerprint string) (Reservation, error) {
	id := "idem:" + storageKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache.Get(id); ok {
		return reservationFor(existing.(Record), fingerprint)
	}
	record := Record{Fingerprint: fingerprint, Status: StatusPending}
	s.cache.Set(id, record, pendingTTL)
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *CacheStore) Complete(_ context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := "idem:" + storageKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache.Get(id); ok && existing.(Record).Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.cache.Set(id, completedRecord(fingerprint, resp), ttl)
	return nil
}

func (s *CacheStore) Release(_ context.Context, key string) error {
	s.cache.Delete("idem:" + storageKey(key))
	return nil
}

func (s *CacheStore) Seen(_ context.Context, key string) (bool, error) {
	_, ok := s.cache.Get("replay:" + key)
	return ok, nil
}

func (s *CacheStore) Remember(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.cache.Set("replay:"+key, struct{}{}, ttl)
	return nil
}
