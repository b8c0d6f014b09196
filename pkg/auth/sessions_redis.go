package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "admin."

// RedisSessions keeps one session key per admin user with the token TTL.
type RedisSessions struct {
	client redis.Cmdable
}

func NewRedisSessions(client redis.Cmdable) *RedisSessions {
	return &RedisSessions{client: client}
}

func (s *RedisSessions) Put(ctx context.Context, username, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionKeyPrefix+username, token, ttl).Err(); err != nil {
		return fmt.Errorf("auth: store session for %s: %w", username, err)
	}
	return nil
}

// Get returns the live token for the user, or "" when no session exists.
func (s *RedisSessions) Get(ctx context.Context, username string) (string, error) {
	v, err := s.client.Get(ctx, sessionKeyPrefix+username).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("auth: load session for %s: %w", username, err)
	}
	return v, nil
}

func (s *RedisSessions) Delete(ctx context.Context, username string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+username).Err(); err != nil {
		return fmt.Errorf("auth: delete session for %s: %w", username, err)
	}
	return nil
}
