package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// TokenHandler serves token issuance and the caller's identity.
type TokenHandler struct {
	cfg   JWTConfig
	ttl   time.Duration
	issue bool
}

// NewTokenHandler returns a TokenHandler. When issue is false, POST
// /auth/token answers 404 so that only an external issuer can mint tokens.
func NewTokenHandler(cfg JWTConfig, ttl time.Duration, issue bool) *TokenHandler {
	return &TokenHandler{cfg: cfg, ttl: ttl, issue: issue}
}

func (h *TokenHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/token", h.Issue)
	api.GET("/auth/me", h.Me)
}

type tokenRequest struct {
	Address string `json:"address"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (h *TokenHandler) Issue(c echo.Context) error {
	if !h.issue {
		return echo.NewHTTPError(http.StatusNotFound, "token issuance is disabled")
	}
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Address) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address is required")
	}
	token, exp, err := IssueToken(h.cfg, strings.TrimSpace(req.Address), h.ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp.Unix()})
}

func (h *TokenHandler) Me(c echo.Context) error {
	p := PrincipalFromContext(c.Request().Context())
	if p == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return c.JSON(http.StatusOK, map[string]string{"address": p})
}
