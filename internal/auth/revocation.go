package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const revokedKeyPrefix = "session_revoked:"

// RedisRevocations remembers logged-out session IDs until their expiry so a
// copied cookie stops working after logout.
type RedisRevocations struct {
	Client *redis.Client
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{Client: client}
}

func (c *RedisRevocations) Revoke(ctx context.Context, sessionID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.Client.Set(ctx, revokedKeyPrefix+sessionID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revocation in Redis: %w", err)
	}
	return nil
}

func (c *RedisRevocations) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.Client.Exists(ctx, revokedKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read revocation from Redis: %w", err)
	}
	return n > 0, nil
}
