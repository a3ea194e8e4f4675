package credstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores credentials under "<prefix>:<key>" with a sliding TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis returns a store scoped to prefix, typically one browser session.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Get returns the value for key; connection errors read as absent.
func (s *Redis) Get(ctx context.Context, key string) (string, bool) {
	if s == nil || s.client == nil {
		return "", false
	}
	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("credstore get", slog.String("key", key), slog.Any("error", err))
		}
		return "", false
	}
	return value, true
}

// Set writes value and refreshes its TTL.
func (s *Redis) Set(ctx context.Context, key, value string) error {
	if s == nil || s.client == nil {
		return unavailable("set", key, nil)
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *Redis) Remove(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return unavailable("remove", key, nil)
	}
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("remove", key, err)
	}
	return nil
}

func (s *Redis) redisKey(key string) string {
	if s.prefix == "" {
		return "console:" + key
	}
	return "console:" + s.prefix + ":" + key
}
