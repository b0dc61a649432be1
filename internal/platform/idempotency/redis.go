package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares idempotency records and replay markers between replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ Store       = (*RedisStore)(nil)
	_ ReplayCache = (*RedisStore)(nil)
)

// NewRedisStore wraps client. Keys are namespaced with prefix, defaulting to "orders:".
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	if prefix == "" {
		prefix = "orders:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) idemKey(key string) string   { return s.prefix + "idem:" + storageKey(key) }
func (s *RedisStore) replayKey(key string) string { return s.prefix + "replay:" + key }

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string) (Reservation, error) {
	record := Record{Fingerprint: fingerprint, Status: StatusPending}
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}
	id := s.idemKey(key)
	ok, err := s.client.SetNX(ctx, id, payload, pendingTTL).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	raw, err := s.client.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in flight so the client retries.
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode: %w", err)
	}
	return reservationFor(existing, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(completedRecord(fingerprint, resp))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.idemKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.idemKey(key)).Err()
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.replayKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Remember(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.Set(ctx, s.replayKey(key), "1", ttl).Err()
}

// Ping reports whether the Redis server answers, for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
