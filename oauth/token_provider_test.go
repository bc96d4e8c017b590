package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aanfarhan/sso-sync/cache"
	"github.com/aanfarhan/sso-sync/errors"
)

func newTokenServer(t *testing.T, requests *int, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		*requests++
		handler(w, r)
	}))
}

func TestTokenProvider_FetchAndCache(t *testing.T) {
	requests := 0
	srv := newTokenServer(t, &requests, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cid", r.FormValue("client_id"))
		assert.Equal(t, "secret", r.FormValue("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-abc","expires_in":3600}`))
	})
	defer srv.Close()

	tc := cache.NewMemoryTokenCache()
	defer tc.Close()
	provider := NewTokenProvider(srv.URL, "cid", "secret", tc, nil)
	ctx := context.Background()

	token, err := provider.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)

	// Second call is served from cache.
	token, err = provider.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, 1, requests)

	// The cached entry expires a safety margin before the token itself.
	entry, ok := tc.Get(ctx, "cid")
	require.True(t, ok)
	remaining := time.Until(entry.ExpiresAt)
	assert.Less(t, remaining, 3600*time.Second-30*time.Second)
	assert.Greater(t, remaining, 3600*time.Second-120*time.Second)
}

func TestTokenProvider_ErrorKeepsBody(t *testing.T) {
	requests := 0
	srv := newTokenServer(t, &requests, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client","error_description":"Client authentication failed"}`))
	})
	defer srv.Close()

	tc := cache.NewMemoryTokenCache()
	defer tc.Close()
	provider := NewTokenProvider(srv.URL, "cid", "wrong", tc, nil)

	_, err := provider.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
	assert.Contains(t, err.Error(), "invalid_client")

	// Failures are never cached.
	_, ok := tc.Get(context.Background(), "cid")
	assert.False(t, ok)
}

func TestTokenProvider_MissingExpiresInDefaults(t *testing.T) {
	requests := 0
	srv := newTokenServer(t, &requests, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok-abc"}`))
	})
	defer srv.Close()

	tc := cache.NewMemoryTokenCache()
	defer tc.Close()
	provider := NewTokenProvider(srv.URL, "cid", "secret", tc, nil)

	_, err := provider.GetAccessToken(context.Background())
	require.NoError(t, err)

	entry, ok := tc.Get(context.Background(), "cid")
	require.True(t, ok)
	assert.Greater(t, time.Until(entry.ExpiresAt), 30*time.Minute)
}

func TestTokenProvider_EmptyTokenRejected(t *testing.T) {
	requests := 0
	srv := newTokenServer(t, &requests, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":3600}`))
	})
	defer srv.Close()

	tc := cache.NewMemoryTokenCache()
	defer tc.Close()
	provider := NewTokenProvider(srv.URL, "cid", "secret", tc, nil)

	_, err := provider.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
}

func TestTokenProvider_RefetchAfterExpiry(t *testing.T) {
	requests := 0
	srv := newTokenServer(t, &requests, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok-abc","expires_in":3600}`))
	})
	defer srv.Close()

	tc := cache.NewMemoryTokenCache()
	defer tc.Close()
	provider := NewTokenProvider(srv.URL, "cid", "secret", tc, nil)
	ctx := context.Background()

	_, err := provider.GetAccessToken(ctx)
	require.NoError(t, err)

	// Simulate the cached token lapsing.
	require.NoError(t, tc.Set(ctx, &cache.TokenEntry{
		ClientID:    "cid",
		AccessToken: "tok-abc",
		ExpiresAt:   time.Now().Add(-time.Second),
	}))

	_, err = provider.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}
