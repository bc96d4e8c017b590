package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aanfarhan/sso-sync/cache"
)

// TokenCache implements cache.TokenCache on Redis, for hosts running
// multiple engine processes against one token budget.
type TokenCache struct {
	client *redis.Client
	prefix string
}

// NewTokenCache creates a Redis-backed token cache. prefix namespaces
// the keys.
func NewTokenCache(client *redis.Client, prefix string) *TokenCache {
	return &TokenCache{client: client, prefix: prefix}
}

func (r *TokenCache) key(clientID string) string {
	return fmt.Sprintf("%s:cc-token:%s", r.prefix, clientID)
}

// Get implements cache.TokenCache.Get. An entry that cannot be decoded
// is treated as a miss; the caller is expected to purge and re-fetch.
func (r *TokenCache) Get(ctx context.Context, clientID string) (*cache.TokenEntry, bool) {
	res, err := r.client.HGetAll(ctx, r.key(clientID)).Result()
	if err != nil || len(res) == 0 {
		return nil, false
	}

	expiresAtUnix, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return nil, false
	}
	token, ok := res["access_token"]
	if !ok || token == "" {
		return nil, false
	}

	entry := &cache.TokenEntry{
		ClientID:    clientID,
		AccessToken: token,
		ExpiresAt:   time.Unix(expiresAtUnix, 0),
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry, true
}

// Set implements cache.TokenCache.Set.
func (r *TokenCache) Set(ctx context.Context, entry *cache.TokenEntry) error {
	key := r.key(entry.ClientID)
	fields := map[string]any{
		"access_token": entry.AccessToken,
		"expires_at":   entry.ExpiresAt.Unix(),
		"created_at":   time.Now().Unix(),
	}
	if _, err := r.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("failed to set token in Redis: %w", err)
	}
	if _, err := r.client.Expire(ctx, key, time.Until(entry.ExpiresAt)).Result(); err != nil {
		return fmt.Errorf("failed to set token expiry in Redis: %w", err)
	}
	return nil
}

// Delete implements cache.TokenCache.Delete.
func (r *TokenCache) Delete(ctx context.Context, clientID string) error {
	return r.client.Del(ctx, r.key(clientID)).Err()
}

// Close releases the underlying client.
func (r *TokenCache) Close() error {
	return r.client.Close()
}

var _ cache.TokenCache = (*TokenCache)(nil)
