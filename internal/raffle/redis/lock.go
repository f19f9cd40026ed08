package redis

import (
	"context"
	"fmt"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/raffle/tickets"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "ticket_lock:"

// Redis reserves ticket numbers for the lifetime of one submission so that
// overlapping submissions fail before either reaches the store.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{Client: client, TTL: ttl, Logger: log}
}

func lockKey(number int) string {
	return keyPrefix + tickets.Format(number)
}

// Reserve a single number for owner
func (r *Redis) Reserve(ctx context.Context, number int, owner string) (bool, error) {
	return r.Client.SetNX(ctx, lockKey(number), owner, r.TTL).Result()
}

// Release a single number if owner still holds it
func (r *Redis) Release(ctx context.Context, number int, owner string) error {
	key := lockKey(number)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == owner {
		return r.Client.Del(ctx, key).Err()
	}
	return nil
}

// ReserveAll reserves every number or none. On refusal it returns the
// numbers held by someone else.
func (r *Redis) ReserveAll(ctx context.Context, numbers []int, owner string) ([]int, error) {
	reserved := make([]int, 0, len(numbers))
	var held []int
	for _, n := range numbers {
		ok, err := r.Reserve(ctx, n, owner)
		if err != nil {
			r.rollback(ctx, reserved, owner)
			return nil, fmt.Errorf("reserve %s: %w", tickets.Format(n), err)
		}
		if !ok {
			held = append(held, n)
			continue
		}
		reserved = append(reserved, n)
	}
	if len(held) > 0 {
		r.rollback(ctx, reserved, owner)
		r.Logger.Debug("REDIS", fmt.Sprintf("Reservation %s refused, held: %s", owner, tickets.FormatAll(held)))
		return held, nil
	}
	return nil, nil
}

// ReleaseAll releases every number still held by owner.
func (r *Redis) ReleaseAll(ctx context.Context, numbers []int, owner string) error {
	var firstErr error
	for _, n := range numbers {
		if err := r.Release(ctx, n, owner); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Redis) rollback(ctx context.Context, reserved []int, owner string) {
	for _, n := range reserved {
		_ = r.Release(ctx, n, owner)
	}
}
