package bank

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// TokenCache stores one access token for the configured credentials.
type TokenCache interface {
	Get(ctx context.Context) (*Token, bool, error)
	Put(ctx context.Context, tok *Token, ttl time.Duration) error
}

type tokenStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisTokenCache keeps the token in Redis so every replica shares it.
type RedisTokenCache struct {
	store tokenStore
	key   string
}

func NewRedisTokenCache(store tokenStore, key string) *RedisTokenCache {
	return &RedisTokenCache{store: store, key: key}
}

func (c *RedisTokenCache) Get(ctx context.Context) (*Token, bool, error) {
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		if redis.IsNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, false, err
	}
	if tok.AccessToken == "" {
		return nil, false, nil
	}
	return &tok, true, nil
}

func (c *RedisTokenCache) Put(ctx context.Context, tok *Token, ttl time.Duration) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.key, string(raw), ttl)
}
