package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/festpay/internal/ledger"
	"github.com/kislikjeka/festpay/pkg/logger"
)

const (
	// DefaultTTL covers a device's full retry window: queued items expire after 7 days
	DefaultTTL = 8 * 24 * time.Hour

	// KeyPrefix is the prefix for acknowledgment keys
	KeyPrefix = "ack:"
)

// AckCache is a Redis-backed cache of ledger acknowledgments keyed by idempotency key
type AckCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

var _ ledger.AckCache = (*AckCache)(nil)

// NewAckCache creates a new acknowledgment cache
func NewAckCache(client *redis.Client, log *logger.Logger) *AckCache {
	return NewAckCacheWithTTL(client, DefaultTTL, log)
}

// NewAckCacheWithTTL creates a new acknowledgment cache with custom TTL
func NewAckCacheWithTTL(client *redis.Client, ttl time.Duration, log *logger.Logger) *AckCache {
	return &AckCache{
		client: client,
		ttl:    ttl,
		logger: log.Component("ack_cache"),
	}
}

func ackKey(idempotencyKey string) string {
	return KeyPrefix + idempotencyKey
}

// GetAck retrieves the acknowledgment stored for an idempotency key
func (c *AckCache) GetAck(ctx context.Context, key string) (*ledger.Ack, bool, error) {
	val, err := c.client.Get(ctx, ackKey(key)).Bytes()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "idempotency_key", key)
		return nil, false, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get", "idempotency_key", key, "error", err)
		return nil, false, fmt.Errorf("failed to get cached ack: %w", err)
	}

	var ack ledger.Ack
	if err := json.Unmarshal(val, &ack); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached ack: %w", err)
	}

	c.logger.Debug("cache hit", "idempotency_key", key)
	return &ack, true, nil
}

// SetAck stores an acknowledgment. An existing entry is kept.
func (c *AckCache) SetAck(ctx context.Context, key string, ack *ledger.Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("failed to marshal ack: %w", err)
	}

	if err := c.client.SetNX(ctx, ackKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Error("cache error", "operation", "set", "idempotency_key", key, "error", err)
		return fmt.Errorf("failed to set cached ack: %w", err)
	}

	return nil
}

// Delete removes a cached acknowledgment
func (c *AckCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, ackKey(key)).Err()
}

// Health checks the Redis connection
func (c *AckCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
