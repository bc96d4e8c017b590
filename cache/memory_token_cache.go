package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryTokenCache implements TokenCache with an in-process ttlcache.
type MemoryTokenCache struct {
	cache *ttlcache.Cache[string, *TokenEntry]
}

// NewMemoryTokenCache creates an in-memory token cache with automatic
// expiry cleanup.
func NewMemoryTokenCache() *MemoryTokenCache {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *TokenEntry](),
	)
	go cache.Start()

	return &MemoryTokenCache{cache: cache}
}

// Get implements TokenCache.Get.
func (c *MemoryTokenCache) Get(_ context.Context, clientID string) (*TokenEntry, bool) {
	item := c.cache.Get(clientID)
	if item == nil {
		return nil, false
	}
	entry := item.Value()
	if entry == nil || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry, true
}

// Set implements TokenCache.Set. The entry's ExpiresAt drives the TTL.
func (c *MemoryTokenCache) Set(_ context.Context, entry *TokenEntry) error {
	c.cache.Set(entry.ClientID, entry, time.Until(entry.ExpiresAt))
	return nil
}

// Delete implements TokenCache.Delete.
func (c *MemoryTokenCache) Delete(_ context.Context, clientID string) error {
	c.cache.Delete(clientID)
	return nil
}

// Close stops the cleanup goroutine.
func (c *MemoryTokenCache) Close() error {
	c.cache.Stop()
	return nil
}
