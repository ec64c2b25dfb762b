// Package cache provides the Redis-backed read cache for session carts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/platform/config"
)

// ErrCacheMiss is returned when no cart is cached for the session.
var ErrCacheMiss = errors.New("cache: miss")

const (
	keyPrefix      = "storefront:cart:"
	defaultCartTTL = 15 * time.Minute
	maxJitter      = 5 * time.Minute
)

// CartCache stores serialised carts keyed by session ID. Entries expire after the base TTL plus up
// to five minutes of jitter so carts written together do not expire together.
type CartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  func() time.Duration
}

// Option customises the CartCache.
type Option func(*CartCache)

// WithTTL overrides the base entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *CartCache) {
		if ttl > 0 {
			c.baseTTL = ttl
		}
	}
}

// WithoutJitter disables TTL jitter.
func WithoutJitter() Option {
	return func(c *CartCache) {
		c.jitter = func() time.Duration { return 0 }
	}
}

// NewCartCache wraps an existing Redis client.
func NewCartCache(client redis.UniversalClient, opts ...Option) *CartCache {
	c := &CartCache{
		client:  client,
		baseTTL: defaultCartTTL,
		jitter:  func() time.Duration { return rand.N(maxJitter) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewClient dials Redis using cfg. It returns nil, nil when no address is configured so callers can
// run without a cache.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Get returns the cached cart or ErrCacheMiss.
func (c *CartCache) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cache: redis get: %w", err)
	}
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("cache: decode cart: %w", err)
	}
	return cart, nil
}

// Set stores cart for its session, replacing any existing entry.
func (c *CartCache) Set(ctx context.Context, cart domain.Cart) error {
	key, payload, err := encodeCart(cart)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, payload, c.baseTTL+c.jitter()).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// SetIfAbsent stores cart only when the session has no entry yet.
func (c *CartCache) SetIfAbsent(ctx context.Context, cart domain.Cart) error {
	key, payload, err := encodeCart(cart)
	if err != nil {
		return err
	}
	if err := c.client.SetNX(ctx, key, payload, c.baseTTL+c.jitter()).Err(); err != nil {
		return fmt.Errorf("cache: redis setnx: %w", err)
	}
	return nil
}

// Delete evicts the session's cart. Deleting a missing key succeeds.
func (c *CartCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func encodeCart(cart domain.Cart) (string, []byte, error) {
	if strings.TrimSpace(cart.SessionID) == "" {
		return "", nil, errors.New("cache: cart session id is required")
	}
	payload, err := json.Marshal(cart)
	if err != nil {
		return "", nil, fmt.Errorf("cache: encode cart: %w", err)
	}
	return cacheKey(cart.SessionID), payload, nil
}

func cacheKey(sessionID string) string {
	return keyPrefix + sessionID
}
