package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/t2o2/betfair-go/internal/orderbook"
)

type setter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisSink stores snapshots as JSON under {prefix}{marketId} with a TTL.
type RedisSink struct {
	client setter
	closer func() error
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisSink connects to redisURL and verifies the connection.
func NewRedisSink(ctx context.Context, redisURL, prefix string, ttl time.Duration, logger *slog.Logger) (*RedisSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := newRedisSink(client, prefix, ttl, logger)
	s.closer = client.Close
	return s, nil
}

func newRedisSink(client setter, prefix string, ttl time.Duration, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "redis_sink"),
	}
}

// Key returns the cache key for a market.
func (s *RedisSink) Key(marketID string) string {
	return s.prefix + marketID
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, snap orderbook.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := s.Key(snap.MarketID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}

	s.logger.Debug("snapshot cached", "key", key, "size_bytes", len(data))
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
