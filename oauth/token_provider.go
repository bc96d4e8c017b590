package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aanfarhan/sso-sync/cache"
	"github.com/aanfarhan/sso-sync/errors"
	"github.com/aanfarhan/sso-sync/log"
)

// tokenExpirySafetyMargin is subtracted from expires_in before caching,
// covering clock skew and requests already in flight when the token
// lapses.
const tokenExpirySafetyMargin = 60 * time.Second

// defaultExpiresIn applies when the token endpoint omits expires_in.
const defaultExpiresIn = 3600

// TokenProvider obtains and caches machine-to-machine access tokens via
// the client-credentials grant. It does not retry; callers decide.
type TokenProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cache        cache.TokenCache
	logger       log.Logger
}

// NewTokenProvider creates a TokenProvider for the given authorization
// server host. The cache may be shared between provider instances.
func NewTokenProvider(host, clientID, clientSecret string, tokenCache cache.TokenCache, logger log.Logger) *TokenProvider {
	if logger == nil {
		logger = log.Nop()
	}
	return &TokenProvider{
		tokenURL:     strings.TrimRight(host, "/") + "/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		cache:        tokenCache,
		logger:       logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// GetAccessToken returns a valid machine token, from cache when
// possible. A cache entry that cannot be used is purged before a fresh
// token is requested.
func (p *TokenProvider) GetAccessToken(ctx context.Context) (string, error) {
	if entry, ok := p.cache.Get(ctx, p.clientID); ok {
		return entry.AccessToken, nil
	}
	// Miss, expiry, or corruption: drop whatever is there and start over.
	if err := p.cache.Delete(ctx, p.clientID); err != nil {
		p.logger.Warn(ctx, "failed to purge token cache entry", map[string]any{
			"client_id": p.clientID, "error": err.Error(),
		})
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.NewAuthError("failed to build token request", "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errors.NewAuthError("OAuth client credentials request failed", "", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.NewAuthError(
			fmt.Sprintf("failed to get access token (status %d)", resp.StatusCode),
			string(body), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", errors.NewAuthError("failed to decode token response", string(body), err)
	}
	if tr.AccessToken == "" {
		return "", errors.NewAuthError("token response carried no access_token", string(body), nil)
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	entry := &cache.TokenEntry{
		ClientID:    p.clientID,
		AccessToken: tr.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn)*time.Second - tokenExpirySafetyMargin),
	}
	if err := p.cache.Set(ctx, entry); err != nil {
		p.logger.Warn(ctx, "failed to cache access token", map[string]any{
			"client_id": p.clientID, "error": err.Error(),
		})
	}

	p.logger.Debug(ctx, "obtained client credentials token", map[string]any{
		"client_id": p.clientID, "expires_in": expiresIn,
	})
	return tr.AccessToken, nil
}
