package cache

import (
	"context"
	"time"
)

// TokenEntry is one cached machine-to-machine access token.
type TokenEntry struct {
	ClientID    string    `redis:"clientId"`
	AccessToken string    `redis:"accessToken"`
	ExpiresAt   time.Time `redis:"expiresAt"`
}

// TokenCache caches client-credentials access tokens keyed by client id.
// Implementations must be safe under concurrent readers: parallel engine
// instances may share one cache, and the expiry safety margin tolerates
// the resulting check-then-set races.
type TokenCache interface {
	// Get returns the entry for clientID, or (nil, false) on miss,
	// expiry, or an undecodable entry.
	Get(ctx context.Context, clientID string) (*TokenEntry, bool)
	Set(ctx context.Context, entry *TokenEntry) error
	// Delete purges the entry, used when a cached value turns out to be
	// corrupt.
	Delete(ctx context.Context, clientID string) error
	Close() error
}
