package echo

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aanfarhan/sso-sync/errors"
	ssolog "github.com/aanfarhan/sso-sync/log"
	"github.com/aanfarhan/sso-sync/sync"
)

// LoginAPI wires the login-time synchronizer into an echo application.
// The host application performs the OAuth2 authorization flow itself;
// once it holds a user access token it hands the token to the callback
// endpoint and receives the reconciled local user back.
type LoginAPI struct {
	loginSync *sync.LoginSync
	oauthHost string
	logger    ssolog.Logger
}

// NewLoginAPI initializes the login glue API.
func NewLoginAPI(loginSync *sync.LoginSync, oauthHost string, logger ssolog.Logger) *LoginAPI {
	if logger == nil {
		logger = ssolog.Nop()
	}
	return &LoginAPI{
		loginSync: loginSync,
		oauthHost: strings.TrimRight(oauthHost, "/"),
		logger:    logger,
	}
}

// RegisterRoutes registers the SSO session routes.
func (a *LoginAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/sso/callback", a.CallbackHandler)
	e.GET("/auth/sso/logout", a.LogoutHandler)
}

// callbackRequest carries the authenticated identity the host
// application obtained from the authorization server.
type callbackRequest struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Nickname string         `json:"nickname"`
	Avatar   string         `json:"avatar"`
	Raw      map[string]any `json:"raw"`
}

// CallbackHandler reconciles the authenticated remote identity into the
// local user store. The user access token comes from the Authorization
// header; the identity payload from the request body. Inactive local
// accounts are rejected.
func (a *LoginAPI) CallbackHandler(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "missing bearer token",
		})
	}

	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid callback payload",
		})
	}
	if req.ID == "" || req.Email == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "id and email are required",
		})
	}

	ctx := c.Request().Context()
	user, err := a.loginSync.SyncFromLogin(ctx, sync.AuthenticatedUser{
		ID:       req.ID,
		Email:    req.Email,
		Name:     req.Name,
		Nickname: req.Nickname,
		Avatar:   req.Avatar,
		Token:    token,
		Raw:      req.Raw,
	})
	if err != nil {
		a.logger.Error(ctx, "login sync failed", err, map[string]any{
			"email": req.Email,
		})
		if errors.IsValidationError(err) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to synchronize user",
		})
	}

	if !user.IsActive {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "account is inactive",
		})
	}

	return c.JSON(http.StatusOK, user)
}

// LogoutHandler redirects the browser to the authorization server's
// single logout endpoint so the SSO session ends together with the
// local one. The caller supplies where to land afterwards.
func (a *LoginAPI) LogoutHandler(c echo.Context) error {
	redirectURI := c.QueryParam("redirect_uri")
	return c.Redirect(http.StatusFound, a.LogoutURL(redirectURI))
}

// LogoutURL builds the single logout URL on the authorization server.
func (a *LoginAPI) LogoutURL(redirectURI string) string {
	logout := a.oauthHost + "/sso/logout"
	if redirectURI == "" {
		return logout
	}
	return logout + "?redirect_uri=" + url.QueryEscape(redirectURI)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return c.QueryParam("token")
}
