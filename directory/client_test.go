package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aanfarhan/sso-sync/cache"
	"github.com/aanfarhan/sso-sync/errors"
	"github.com/aanfarhan/sso-sync/oauth"
)

// newDirectoryServer serves the token endpoint plus the given API routes
// and returns a client wired to it.
func newDirectoryServer(t *testing.T, routes map[string]http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"machine-token","expires_in":3600}`))
	})
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tc := cache.NewMemoryTokenCache()
	t.Cleanup(func() { tc.Close() })
	tokens := oauth.NewTokenProvider(srv.URL, "cid", "secret", tc, nil)
	return NewClient(srv.URL, tokens, nil), srv
}

func TestSearchUsers(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/search": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer machine-token", r.Header.Get("Authorization"))
			assert.Equal(t, "a@example.com", r.URL.Query().Get("email"))
			w.Write([]byte(`{"data":[{"id":1,"email":"a@example.com","name":"Alice"}]}`))
		},
	})

	page, err := client.SearchUsers(context.Background(), Filters{"email": "a@example.com"})
	require.NoError(t, err)
	require.NotNil(t, page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "1", page.Data[0].ID())
	assert.Equal(t, "Alice", page.Data[0].Name())
}

func TestSearchUsers_ForbiddenIsPermissionError(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/search": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})

	page, err := client.SearchUsers(context.Background(), Filters{"limit": "1"})
	require.Error(t, err)
	assert.Nil(t, page)
	assert.True(t, errors.IsPermissionError(err))
}

func TestSearchUsers_ServerErrorDegradesToNil(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/search": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})

	page, err := client.SearchUsers(context.Background(), Filters{"limit": "1"})
	assert.NoError(t, err)
	assert.Nil(t, page)
}

func TestSearchUsers_AuthFailurePropagates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tc := cache.NewMemoryTokenCache()
	defer tc.Close()
	tokens := oauth.NewTokenProvider(srv.URL, "cid", "wrong", tc, nil)
	client := NewClient(srv.URL, tokens, nil)

	_, err := client.SearchUsers(context.Background(), Filters{"limit": "1"})
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
}

func TestFindUserByEmailOrUsername_FallsBackToUsername(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/search": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("email") != "" {
				w.Write([]byte(`{"data":[]}`))
				return
			}
			assert.Equal(t, "alice", r.URL.Query().Get("username"))
			w.Write([]byte(`{"data":[{"id":9,"username":"alice"}]}`))
		},
	})

	remote, err := client.FindUserByEmailOrUsername(context.Background(), "a@example.com", "alice")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, "9", remote.ID())
}

func TestFindUserByEmailOrUsername_NotFound(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/search": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[]}`))
		},
	})

	remote, err := client.FindUserByEmailOrUsername(context.Background(), "a@example.com", "alice")
	assert.NoError(t, err)
	assert.Nil(t, remote)
}

func TestFindUserByEmailOrUsername_EmailMatchSkipsUsernameLookup(t *testing.T) {
	searches := 0
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/search": func(w http.ResponseWriter, r *http.Request) {
			searches++
			w.Write([]byte(`{"data":[{"id":3,"email":"a@example.com"}]}`))
		},
	})

	remote, err := client.FindUserByEmailOrUsername(context.Background(), "a@example.com", "alice")
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, 1, searches)
}

func TestCreateUser(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "a@example.com", payload["email"])
			w.Write([]byte(`{"success":true,"user":{"id":11,"email":"a@example.com"}}`))
		},
	})

	result := client.CreateUser(context.Background(), map[string]any{"email": "a@example.com"})
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "11", result.User.ID())
}

func TestCreateUser_ValidationErrorsNeverThrow(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"errors":{"email":["The email has already been taken."],"username":["The username is invalid."]}}`))
		},
	})

	result := client.CreateUser(context.Background(), map[string]any{"email": "a@example.com"})
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, []string{
		"email: The email has already been taken.",
		"username: The username is invalid.",
	}, result.Errors)
}

func TestCreateUser_ListErrorFormat(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":["Something went wrong"]}`))
		},
	})

	result := client.CreateUser(context.Background(), map[string]any{"email": "a@example.com"})
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Something went wrong"}, result.Errors)
}

func TestUpdateUser(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/42": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			w.Write([]byte(`{"success":true,"user":{"id":42}}`))
		},
	})

	result := client.UpdateUser(context.Background(), "42", map[string]any{"name": "New Name"})
	assert.True(t, result.Success)
}

func TestGetRoles(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/roles": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"roles":[{"name":"admin","display_name":"Administrator"},{"name":"read"}]}`))
		},
	})

	roles, err := client.GetRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, "Administrator", roles[0].DisplayName)
}

func TestGetRoles_ForbiddenIsPermissionError(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/roles": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})

	roles, err := client.GetRoles(context.Background())
	require.Error(t, err)
	assert.Nil(t, roles)
	assert.True(t, errors.IsPermissionError(err))
}

func TestGetMe_UsesUserToken(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/me": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			w.Write([]byte(`{"id":5,"email":"a@example.com","roles":["admin"]}`))
		},
	})

	me, err := client.GetMe(context.Background(), "user-token")
	require.NoError(t, err)
	require.NotNil(t, me)
	assert.Equal(t, "5", me.ID())
}

func TestGetMe_FailureDegradesToNil(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/me": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})

	me, err := client.GetMe(context.Background(), "bad-token")
	assert.NoError(t, err)
	assert.Nil(t, me)
}

func TestTestPasswordSync(t *testing.T) {
	client, _ := newDirectoryServer(t, map[string]http.HandlerFunc{
		"/api/users/test-password-sync": func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, true, payload["is_hashed"])
			w.Write([]byte(`{"password_matches":true,"hash_compatible":true}`))
		},
	})

	report, err := client.TestPasswordSync(context.Background(), "a@example.com", "$2y$10$hash", true)
	require.NoError(t, err)
	assert.Equal(t, true, report["password_matches"])
}
