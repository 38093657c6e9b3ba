// Package sharecache remembers the share link issued for a pack so an
// unchanged set of approved documents is not uploaded twice.
package sharecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"prearrival/api/internal/pack"
)

// ErrMiss means no live link is cached for the key.
var ErrMiss = errors.New("share link not cached")

type entry struct {
	Payload  pack.SharePayload `json:"payload"`
	IssuedAt time.Time         `json:"issued_at"`
}

// RedisStore caches share payloads keyed by request and pack fingerprint.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "share:"}
}

func (s *RedisStore) key(requestID, fingerprint string) string {
	return s.prefix + requestID + ":" + fingerprint
}

// indexKey names the set of cached keys for one request. Invalidate reads it
// instead of pattern-matching, so ids with glob or separator characters
// cannot reach other requests' entries.
func (s *RedisStore) indexKey(requestID string) string {
	return s.prefix + "index:" + requestID
}

// Save stores payload until shortly before the presigned link expires.
func (s *RedisStore) Save(ctx context.Context, requestID, fingerprint string, payload pack.SharePayload, linkTTL time.Duration) error {
	ttl := linkTTL - linkTTL/10
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry{Payload: payload, IssuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal share link: %w", err)
	}
	key := s.key(requestID, fingerprint)
	index := s.indexKey(requestID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save share link: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.// Invalidate drops every cached link for a request.
func (s *RedisStore) Invalidate(ctx context.Context, requestID string) error {
	index := s.indexKey(requestID)
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("list share links: %w", err)
	}
	if err := s.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("invalidate share links: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
