package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "procflow/pkg/domain"
)

const keyPrefix = "approval:idem:"

// RedisStore shares idempotency keys between instances. Reservation is a
// single SET NX, so two instances racing on one key see one winner.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, requestID id.RequestID, ttl time.Duration) (id.RequestID, bool, error) {
	k := keyPrefix + key
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, requestID.String(), ttl).Result()
		if err != nil {
			return id.RequestID{}, false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return requestID, true, nil
		}

		owner, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return id.RequestID{}, false, fmt.Errorf("read idempotency key: %w", err)
		}
		existing, err := id.ParseRequestID(owner)
		if err != nil {
			return id.RequestID{}, false, fmt.Errorf("corrupt idempotency key %s: %w", key, err)
		}
		return existing, false, nil
	}
	return id.RequestID{}, false, fmt.Errorf("reserve idempotency key %s: contention", key)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
