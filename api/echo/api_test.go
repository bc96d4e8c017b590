package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aanfarhan/sso-sync/directory"
	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/sync"
)

// stubStore is the minimal LocalUserStore the login path touches.
type stubStore struct {
	user    *domain.LocalUser
	created *domain.LocalUser
}

func (s *stubStore) FindByEmailOrOAuthID(context.Context, string, string) (*domain.LocalUser, error) {
	return s.user, nil
}

func (s *stubStore) Create(_ context.Context, user *domain.LocalUser) error {
	user.ID = "1"
	s.created = user
	return nil
}

func (s *stubStore) Update(_ context.Context, id string, fields map[string]any) error {
	if s.user != nil && s.user.ID == id {
		for k, v := range fields {
			s.user.SetField(k, v)
		}
	}
	return nil
}

func (s *stubStore) Count(context.Context) (int64, error) { return 0, nil }

func (s *stubStore) ChunkAll(context.Context, int, func(context.Context, []*domain.LocalUser) error) error {
	return nil
}

func (s *stubStore) DistinctValues(context.Context, string) ([]string, error) { return nil, nil }

func (s *stubStore) Columns(context.Context) ([]string, error) {
	return []string{"id", "email", "username", "name", "oauth_id", "oauth_data", "synced_at", "is_active"}, nil
}

// degradedDirectory satisfies sync.Directory with every remote call
// degrading, so the login path runs purely on the token payload.
type degradedDirectory struct{}

func (degradedDirectory) SearchUsers(context.Context, directory.Filters) (*directory.UserPage, error) {
	return nil, nil
}

func (degradedDirectory) FindUserByEmailOrUsername(context.Context, string, string) (domain.RemoteUser, error) {
	return nil, nil
}

func (degradedDirectory) CreateUser(context.Context, map[string]any) *directory.MutationResult {
	return &directory.MutationResult{}
}

func (degradedDirectory) UpdateUser(context.Context, string, map[string]any) *directory.MutationResult {
	return &directory.MutationResult{}
}

func (degradedDirectory) GetRoles(context.Context) ([]domain.Role, error) { return nil, nil }

func (degradedDirectory) GetMe(context.Context, string) (domain.RemoteUser, error) { return nil, nil }

func newTestAPI(store *stubStore) *LoginAPI {
	ls := sync.NewLoginSync(store, degradedDirectory{}, sync.Options{}, nil)
	return NewLoginAPI(ls, "https://sso.example.com/", nil)
}

func doCallback(t *testing.T, api *LoginAPI, token string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/sso/callback", strings.NewReader(string(raw)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, api.CallbackHandler(e.NewContext(req, rec)))
	return rec
}

func TestCallbackHandler_ProvisionsAndReturnsUser(t *testing.T) {
	store := &stubStore{}
	api := newTestAPI(store)

	rec := doCallback(t, api, "tok", map[string]any{
		"id": "7", "email": "alice@example.com", "name": "Alice",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, "7", store.created.OAuthID)
	assert.True(t, store.created.IsActive)
}

func TestCallbackHandler_MissingToken(t *testing.T) {
	api := newTestAPI(&stubStore{})
	rec := doCallback(t, api, "", map[string]any{"id": "7", "email": "a@example.com"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackHandler_MissingIdentity(t *testing.T) {
	api := newTestAPI(&stubStore{})
	rec := doCallback(t, api, "tok", map[string]any{"name": "No Identity"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackHandler_InactiveUserRejected(t *testing.T) {
	store := &stubStore{user: &domain.LocalUser{
		ID: "1", Email: "alice@example.com", IsActive: false,
	}}
	api := newTestAPI(store)

	rec := doCallback(t, api, "tok", map[string]any{"id": "7", "email": "alice@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogoutURL(t *testing.T) {
	api := NewLoginAPI(nil, "https://sso.example.com/", nil)

	assert.Equal(t, "https://sso.example.com/sso/logout", api.LogoutURL(""))
	assert.Equal(t,
		"https://sso.example.com/sso/logout?redirect_uri=https%3A%2F%2Fapp.example.com%2Fgoodbye",
		api.LogoutURL("https://app.example.com/goodbye"))
}

func TestLogoutHandler_Redirects(t *testing.T) {
	api := NewLoginAPI(nil, "https://sso.example.com", nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/sso/logout?redirect_uri=https://app.example.com/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, api.LogoutHandler(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "/sso/logout?redirect_uri=")
}
