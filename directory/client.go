package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/errors"
	"github.com/aanfarhan/sso-sync/log"
	"github.com/aanfarhan/sso-sync/oauth"
)

// Filters are the query parameters of a user search: email, username,
// client_id, check_access, paginate, limit.
type Filters map[string]string

// UserPage is one page of a user search result.
type UserPage struct {
	Data []domain.RemoteUser `json:"data"`
}

// MutationResult is the non-throwing outcome of a create or update call.
// Transport failures and remote validation rejections both surface here
// as Success=false with messages in Errors.
type MutationResult struct {
	Success bool
	User    domain.RemoteUser
	Errors  []string
}

// Client issues typed calls against the remote user directory. Calls are
// authenticated with the per-request user token when one was supplied
// via WithToken, otherwise with the machine token from the provider.
type Client struct {
	host       string
	tokens     *oauth.TokenProvider
	httpClient *http.Client
	logger     log.Logger
	userToken  string
}

// NewClient creates a directory client for the given authorization
// server host.
func NewClient(host string, tokens *oauth.TokenProvider, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// WithToken returns a copy of the client that authenticates with the
// given user-delegated bearer token instead of the machine token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.userToken = token
	return &clone
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.userToken != "" {
		return c.userToken, nil
	}
	return c.tokens.GetAccessToken(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (*http.Response, []byte, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	endpoint := c.host + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.NewTransportError("failed to encode request payload", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, errors.NewTransportError("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.NewTransportError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, errors.NewTransportError(fmt.Sprintf("failed to read %s response", path), err)
	}
	return resp, raw, nil
}

// SearchUsers queries /api/users/search. A 403 propagates as a
// permission error so callers can show remediation guidance; every other
// failure degrades to a nil page after being logged.
func (c *Client) SearchUsers(ctx context.Context, filters Filters) (*UserPage, error) {
	query := url.Values{}
	for k, v := range filters {
		query.Set(k, v)
	}

	resp, raw, err := c.do(ctx, http.MethodGet, "/api/users/search", query, nil)
	if err != nil {
		if errors.IsAuthError(err) {
			return nil, err
		}
		c.logger.Error(ctx, "user search failed", err)
		return nil, nil
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, errors.NewPermissionError("client lacks user management permissions (403 from directory)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error(ctx, "user search returned non-success status", nil, map[string]any{
			"status": resp.StatusCode, "body": string(raw),
		})
		return nil, nil
	}

	var page UserPage
	if err := json.Unmarshal(raw, &page); err != nil {
		c.logger.Error(ctx, "failed to decode user search response", err)
		return nil, nil
	}
	return &page, nil
}

// FindUserByEmailOrUsername looks a user up by exact email match first
// and falls back to username only when the email lookup returns no
// rows. (nil, nil) means not found.
func (c *Client) FindUserByEmailOrUsername(ctx context.Context, email, username string) (domain.RemoteUser, error) {
	page, err := c.SearchUsers(ctx, Filters{
		"email":    email,
		"paginate": "false",
		"limit":    "1",
	})
	if err != nil {
		return nil, err
	}
	if page != nil && len(page.Data) > 0 {
		return page.Data[0], nil
	}

	if username == "" {
		return nil, nil
	}
	page, err = c.SearchUsers(ctx, Filters{
		"username": username,
		"paginate": "false",
		"limit":    "1",
	})
	if err != nil {
		return nil, err
	}
	if page != nil && len(page.Data) > 0 {
		return page.Data[0], nil
	}
	return nil, nil
}

// CreateUser posts a new user to the directory. It never returns an
// error: remote validation failures and transport errors both come back
// as an unsuccessful result.
func (c *Client) CreateUser(ctx context.Context, payload map[string]any) *MutationResult {
	return c.mutate(ctx, http.MethodPost, "/api/users", payload)
}

// UpdateUser puts changed fields to an existing directory user. Same
// non-throwing contract as CreateUser.
func (c *Client) UpdateUser(ctx context.Context, id string, payload map[string]any) *MutationResult {
	return c.mutate(ctx, http.MethodPut, "/api/users/"+url.PathEscape(id), payload)
}

func (c *Client) mutate(ctx context.Context, method, path string, payload map[string]any) *MutationResult {
	resp, raw, err := c.do(ctx, method, path, nil, payload)
	if err != nil {
		c.logger.Error(ctx, "directory mutation failed", err, map[string]any{"path": path})
		return &MutationResult{Success: false, Errors: []string{"API connection failed: " + err.Error()}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error(ctx, "directory rejected mutation", nil, map[string]any{
			"path": path, "status": resp.StatusCode, "body": string(raw),
		})
		return &MutationResult{Success: false, Errors: parseRemoteErrors(raw)}
	}

	var decoded struct {
		Success *bool             `json:"success"`
		User    domain.RemoteUser `json:"user"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.logger.Error(ctx, "failed to decode mutation response", err, map[string]any{"path": path})
		return &MutationResult{Success: false, Errors: []string{"undecodable directory response"}}
	}
	if decoded.Success != nil && !*decoded.Success {
		return &MutationResult{Success: false, Errors: parseRemoteErrors(raw)}
	}
	return &MutationResult{Success: true, User: decoded.User}
}

// parseRemoteErrors extracts directory validation messages. The server
// returns either {"errors": ["..."]} or {"errors": {"field": ["..."]}}.
func parseRemoteErrors(raw []byte) []string {
	var withList struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &withList); err == nil && len(withList.Errors) > 0 {
		return withList.Errors
	}

	var withMap struct {
		Errors map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &withMap); err == nil && len(withMap.Errors) > 0 {
		fields := make([]string, 0, len(withMap.Errors))
		for field := range withMap.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		var out []string
		for _, field := range fields {
			for _, msg := range withMap.Errors[field] {
				out = append(out, field+": "+msg)
			}
		}
		return out
	}
	return []string{"Unknown error"}
}

// GetRoles fetches the remote role catalogue, nil on any failure.
func (c *Client) GetRoles(ctx context.Context) ([]domain.Role, error) {
	resp, raw, err := c.do(ctx, http.MethodGet, "/api/users/roles", nil, nil)
	if err != nil {
		if errors.IsAuthError(err) {
			return nil, err
		}
		c.logger.Error(ctx, "failed to get roles from directory", err)
		return nil, nil
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, errors.NewPermissionError("client lacks permission to list roles (403 from directory)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error(ctx, "role listing returned non-success status", nil, map[string]any{
			"status": resp.StatusCode, "body": string(raw),
		})
		return nil, nil
	}

	var decoded struct {
		Roles []domain.Role `json:"roles"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.logger.Error(ctx, "failed to decode role listing", err)
		return nil, nil
	}
	return decoded.Roles, nil
}

// GetMe fetches the enhanced self payload for a user-delegated token,
// used to enrich login-time sync. Nil on failure.
func (c *Client) GetMe(ctx context.Context, token string) (domain.RemoteUser, error) {
	resp, raw, err := c.WithToken(token).do(ctx, http.MethodGet, "/api/users/me", nil, nil)
	if err != nil {
		c.logger.Warn(ctx, "failed to get enhanced user data", map[string]any{"error": err.Error()})
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn(ctx, "self lookup returned non-success status", map[string]any{
			"status": resp.StatusCode,
		})
		return nil, nil
	}

	var user domain.RemoteUser
	if err := json.Unmarshal(raw, &user); err != nil {
		c.logger.Warn(ctx, "failed to decode self lookup response", map[string]any{"error": err.Error()})
		return nil, nil
	}
	return user, nil
}

// TestPasswordSync runs the directory's password compatibility
// diagnostic for one user. Diagnostic tooling only; the sync path never
// calls it.
func (c *Client) TestPasswordSync(ctx context.Context, email, password string, isHashed bool) (map[string]any, error) {
	payload := map[string]any{
		"email":     email,
		"password":  password,
		"is_hashed": isHashed,
	}
	resp, raw, err := c.do(ctx, http.MethodPost, "/api/users/test-password-sync", nil, payload)
	if err != nil {
		c.logger.Error(ctx, "password sync test failed", err)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error(ctx, "password sync test returned non-success status", nil, map[string]any{
			"status": resp.StatusCode, "body": string(raw),
		})
		return nil, nil
	}

	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		c.logger.Error(ctx, "failed to decode password sync report", err)
		return nil, nil
	}
	return report, nil
}
