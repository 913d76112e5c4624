package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEventAlreadyProcessed is returned when a webhook event ID was seen before
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// CallbackDedupe records provider event IDs so redelivered webhooks are dropped
type CallbackDedupe interface {
	// Claim records the key. It returns ErrEventAlreadyProcessed if the key was already claimed.
	Claim(ctx context.Context, key string) error
	// Release forgets a claim so a failed event can be redelivered.
	Release(ctx context.Context, key string) error
}

// RedisCallbackDedupe stores claims in Redis with SETNX and a TTL
type RedisCallbackDedupe struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCallbackDedupe creates a Redis-backed dedupe store
func NewRedisCallbackDedupe(client *redis.Client, prefix string, ttl time.Duration) *RedisCallbackDedupe {
	return &RedisCallbackDedupe{client: client, prefix: prefix, ttl: ttl}
}

// Claim implements CallbackDedupe
func (d *RedisCallbackDedupe) Claim(ctx context.Context, key string) error {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to claim callback %s: %w", key, err)
	}
	if !ok {
		return ErrEventAlreadyProcessed
	}
	return nil
}

// Release implements CallbackDedupe
func (d *RedisCallbackDedupe) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release callback %s: %w", key, err)
	}
	return nil
}

// MemoryCallbackDedupe keeps claims in process memory. Used when Redis is not configured;
// claims do not survive restarts and are not shared between instances.
type MemoryCallbackDedupe struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryCallbackDedupe creates an in-memory dedupe store
func NewMemoryCallbackDedupe(ttl time.Duration) *MemoryCallbackDedupe {
	return &MemoryCallbackDedupe{
		ttl:    ttl,
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim implements CallbackDedupe
func (d *MemoryCallbackDedupe) Claim(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, claimedAt := range d.claims {
		if now.Sub(claimedAt) >= d.ttl {
			delete(d.claims, k)
		}
	}

	if _, ok := d.claims[key]; ok {
		return ErrEventAlreadyProcessed
	}
	d.claims[key] = now
	return nil
}

// Release implements CallbackDedupe
func (d *MemoryCallbackDedupe) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.claims, key)
	d.mu.Unlock()
	return nil
}
