package redisad

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pmsync/internal/adapters/observability"
	"pmsync/internal/domain"
)

// Store backs the pipeline's per-property key-value needs: OAuth tokens, sync
// cursors, the webhook idempotency cache, and a generic JSON read cache.
// Idempotency entries carry a TTL so the cache stays bounded.
type Store struct {
	c       *redis.Client
	idemTTL time.Duration
}

func New(addr, pass string, db int, idemTTL time.Duration) *Store {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Store{
		c:       redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}),
		idemTTL: idemTTL,
	}
}

// ---- domain.TokenStore ----

func tokenKey(propertyID string) string { return "pms:token:" + propertyID }

func (s *Store) GetToken(ctx context.Context, propertyID string) (*domain.OAuthToken, error) {
	v, err := s.c.Get(ctx, tokenKey(propertyID)).Bytes()
	if err == redis.Nil {
		observability.ObserveStore("tokens", "miss")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok domain.OAuthToken
	if err := json.Unmarshal(v, &tok); err != nil {
		return nil, err
	}
	observability.ObserveStore("tokens", "hit")
	return &tok, nil
}

func (s *Store) SaveToken(ctx context.Context, propertyID string, t domain.OAuthToken) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	// Expire the key with the token itself; no point keeping dead tokens.
	ttl := time.Duration(t.ExpiresIn) * time.Second
	observability.ObserveStore("tokens", "set")
	return s.c.Set(ctx, tokenKey(propertyID), b, ttl).Err()
}

// ---- domain.CursorStore ----

func cursorKey(propertyID string) string { return "pms:cursor:" + propertyID }

func (s *Store) LastSyncTime(ctx context.Context, propertyID string) (*time.Time, error) {
	v, err := s.c.Get(ctx, cursorKey(propertyID)).Result()
	if err == redis.Nil {
		observability.ObserveStore("cursors", "miss")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("corrupt cursor for %s: %w", propertyID, err)
	}
	observability.ObserveStore("cursors", "hit")
	return &t, nil
}

func (s *Store) SetLastSyncTime(ctx context.Context, propertyID string, t time.Time) error {
	observability.ObserveStore("cursors", "set")
	return s.c.Set(ctx, cursorKey(propertyID), t.UTC().Format(time.RFC3339Nano), 0).Err()
}

// ---- domain.IdempotencyStore ----

func idemKey(key string) string { return "pms:webhook:" + key }

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.c.Exists(ctx, idemKey(key)).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		observability.ObserveStore("idempotency", "hit")
		return true, nil
	}
	observability.ObserveStore("idempotency", "miss")
	return false, nil
}

func (s *Store) Mark(ctx context.Context, key string, at time.Time) error {
	observability.ObserveStore("idempotency", "set")
	return s.c.Set(ctx, idemKey(key), at.UTC().Format(time.RFC3339Nano), s.idemTTL).Err()
}

// ---- domain.Cache ----

func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, err := s.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		observability.ObserveStore("cache", "miss")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	observability.ObserveStore("cache", "hit")
	return true, json.Unmarshal(v, dst)
}

func (s *Store) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, _ := json.Marshal(v)
	observability.ObserveStore("cache", "set")
	return s.c.Set(ctx, key, b, time.Duration(ttlSec)*time.Second).Err()
}

func (s *Store) Del(ctx context.Context, key string) error {
	observability.ObserveStore("cache", "del")
	return s.c.Del(ctx, key).Err()
}
