package mpesa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache shares OAuth access tokens between calls, and between
// instances when backed by redis.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type redisTokenCache struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenCache stores tokens under mpesa:token:<key>
func NewRedisTokenCache(client *redis.Client) TokenCache {
	return &redisTokenCache{client: client, prefix: "mpesa:token"}
}

func (c *redisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	tok, err := c.client.Get(ctx, c.prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tok, true, nil
}

func (c *redisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+":"+key, token, ttl).Err()
}

func (c *redisTokenCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+":"+key).Err()
}

type memoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewMemoryTokenCache is the single-instance fallback
func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{tokens: make(map[string]cachedToken), now: time.Now}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[key]
	if !ok || !t.expiresAt.After(c.now()) {
		return "", false, nil
	}
	return t.token, true, nil
}

func (c *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[key] = cachedToken{token: token, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *memoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, key)
	return nil
}
