package dedup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ReceivedOrdersKey is the redis set of accepted transaction ids, shared
// by every gateway instance.
const ReceivedOrdersKey = "received.external-order"

// SetAdder is the slice of the redis client the guard needs.
type SetAdder interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// RedisStore implements Store on a redis set. SADD is the check-and-set in
// one round trip; a read-then-write pair would let two racing duplicates
// both observe "absent".
type RedisStore struct {
	client SetAdder
	key    string
}

func NewRedisStore(client SetAdder) *RedisStore {
	return &RedisStore{client: client, key: ReceivedOrdersKey}
}

func (s *RedisStore) TryAccept(ctx context.Context, tid string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key, tid).Result()
	if err != nil {
		return false, fmt.Errorf("dedup sadd %q: %w", tid, err)
	}
	return added == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, tid string) error {
	if err := s.client.SRem(ctx, s.key, tid).Err(); err != nil {
		return fmt.Errorf("dedup srem %q: %w", tid, err)
	}
	return nil
}
