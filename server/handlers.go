package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/middleware/playerauth"
	"github.com/Daveeeu/skyrox-core/services/auth"
	"github.com/Daveeeu/skyrox-core/services/deviceflow"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/logging"
	"github.com/Daveeeu/skyrox-core/services/permcache"
)

// Handlers is the thin HTTP surface over the auth orchestrator. All domain
// decisions live in the services; handlers only translate outcomes to status
// codes.
type Handlers struct {
	auth      *auth.Service
	permcache *permcache.Service
	logger    *logging.Service
}

func NewHandlers(authSvc *auth.Service, cache *permcache.Service, logger *logging.Service) *Handlers {
	return &Handlers{
		auth:      authSvc,
		permcache: cache,
		logger:    logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type deviceRequest struct {
	Scope string `json:"scope"`
}

type pollRequest struct {
	DeviceCode string `json:"device_code"`
	UserCode   string `json:"user_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type permissionCheckRequest struct {
	Permission string `json:"permission"`
}

func requestMeta(c echo.Context) auth.Request {
	return auth.Request{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Server:    c.Request().Header.Get("X-Skyrox-Server"),
	}
}

func (h *Handlers) InitiateDevice(c echo.Context) error {
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}

	grant, err := h.auth.InitiateLogin(c.Request().Context(), req.Scope, requestMeta(c))
	if err != nil {
		if errors.Is(err, idp.ErrUpstreamUnavailable) {
			return c.JSON(http.StatusBadGateway, errorResponse{Error: "identity provider unavailable"})
		}
		h.logger.Error("device flow initiation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, grant)
}

func (h *Handlers) PollDevice(c echo.Context) error {
	var req pollRequest
	if err := c.Bind(&req); err != nil || req.DeviceCode == "" || req.UserCode == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "device_code and user_code are required"})
	}

	resp, err := h.auth.Poll(c.Request().Context(), req.DeviceCode, req.UserCode, requestMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, deviceflow.ErrInvalidDeviceCode):
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid device code"})
		case errors.Is(err, idp.ErrUpstreamUnavailable):
			return c.JSON(http.StatusBadGateway, errorResponse{Error: "identity provider unavailable"})
		default:
			h.logger.Error("device flow poll failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
	}

	switch resp.Status {
	case deviceflow.StatusPending:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "authorization_pending"})
	case deviceflow.StatusSlowDown:
		return c.JSON(http.StatusTooManyRequests, map[string]string{"status": "slow_down"})
	case deviceflow.StatusExpired:
		return c.JSON(http.StatusGone, map[string]string{"status": "expired"})
	case deviceflow.StatusDenied:
		return c.JSON(http.StatusForbidden, map[string]string{"status": "access_denied"})
	case deviceflow.StatusAuthorized:
		login := resp.Login
		body := map[string]any{
			"status":        "authorized",
			"player":        login.Identity,
			"session_id":    login.Session.SessionID,
			"access_token":  login.AccessToken.Secret,
			"refresh_token": login.RefreshToken.Secret,
			"id_token":      login.UpstreamIDToken,
			"expires_at":    login.AccessToken.Token.ExpiresAt,
			"warnings":      login.Warnings,
		}
		if login.IDToken != nil {
			body["id_token_id"] = login.IDToken.Token.TokenID
		}
		return c.JSON(http.StatusOK, body)
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handlers) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "refresh_token is required"})
	}

	resp, err := h.auth.Refresh(c.Request().Context(), req.RefreshToken, requestMeta(c))
	if err != nil {
		h.logger.Debug("refresh rejected", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credential"})
	}

	body := map[string]any{
		"access_token": resp.AccessToken.Secret,
		"expires_at":   resp.AccessToken.Token.ExpiresAt,
		"rotated":      resp.Rotated,
	}
	if resp.RefreshToken != nil {
		body["refresh_token"] = resp.RefreshToken.Secret
	}

	return c.JSON(http.StatusOK, body)
}

func (h *Handlers) Logout(c echo.Context) error {
	secret := playerauth.BearerToken(c)
	if secret == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid credential"})
	}

	result, err := h.auth.Logout(c.Request().Context(), secret)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid credential"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"tokens_revoked":      result.TokensRevoked,
		"sessions_terminated": result.SessionsTerminated,
		"warnings":            result.Warnings,
	})
}

func (h *Handlers) Me(c echo.Context) error {
	ident := playerauth.CurrentIdentity(c)
	if ident == nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credential"})
	}

	snapshot, err := h.permcache.Get(c.Request().Context(), ident.ID)
	if err != nil {
		h.logger.Error("failed to load permission snapshot",
			zap.Uint("owner_id", ident.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"player":      ident,
		"roles":       snapshot.Roles,
		"permissions": snapshot.Permissions,
		"online":      snapshot.Online,
	})
}

func (h *Handlers) OnlinePlayers(c echo.Context) error {
	owners, err := h.permcache.OnlineOwners(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list online players", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
	if owners == nil {
		owners = []uint{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"online": owners,
		"count":  len(owners),
	})
}

func (h *Handlers) CheckPermission(c echo.Context) error {
	ident := playerauth.CurrentIdentity(c)
	if ident == nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credential"})
	}

	var req permissionCheckRequest
	if err := c.Bind(&req); err != nil || req.Permission == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "permission is required"})
	}

	granted, err := h.permcache.HasPermission(c.Request().Context(), ident.ID, req.Permission)
	if err != nil {
		h.logger.Error("permission check failed",
			zap.Uint("owner_id", ident.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"permission": req.Permission,
		"granted":    granted,
	})
}
