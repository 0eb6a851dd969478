// Package idp is the outbound client for the external identity provider's
// RFC 8628 device-authorization and OAuth2 token endpoints.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

// ErrUpstreamUnavailable covers network failures, timeouts and unexpected
// provider responses. It is retryable and distinct from the provider's own
// protocol states.
var ErrUpstreamUnavailable = errors.New("identity provider unavailable")

const grantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// ProtocolState is a non-error outcome of polling the token endpoint.
type ProtocolState string

const (
	StateGranted  ProtocolState = "granted"
	StatePending  ProtocolState = "pending"
	StateSlowDown ProtocolState = "slow_down"
	StateExpired  ProtocolState = "expired"
	StateDenied   ProtocolState = "denied"
)

type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

// PollOutcome carries either a grant (State == StateGranted) or a pending
// protocol state.
type PollOutcome struct {
	State ProtocolState
	Grant *TokenGrant
}

type Profile struct {
	Subject    string `json:"sub"`
	Username   string `json:"preferred_username"`
	Email      string `json:"email"`
	PlayerUUID string `json:"player_uuid"`
}

type Client interface {
	RequestDeviceAuthorization(ctx context.Context, scope string) (*DeviceAuthorizationResponse, error)
	PollDeviceToken(ctx context.Context, deviceCode string) (*PollOutcome, error)
	RefreshUpstreamToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

type HTTPClient struct {
	config     config.IdPConfig
	httpClient *http.Client
	logger     *logging.Service
}

func NewHTTPClient(cfg config.IdPConfig, httpClient *http.Client, logger *logging.Service) *HTTPClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *HTTPClient) RequestDeviceAuthorization(ctx context.Context, scope string) (*DeviceAuthorizationResponse, error) {
	if scope == "" {
		scope = c.config.Scope
	}

	form := url.Values{}
	form.Set("client_id", c.config.ClientID)
	form.Set("scope", scope)

	body, status, err := c.postForm(ctx, c.config.DeviceAuthURL, form)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.logger.Error("device authorization request rejected",
			zap.Int("status", status),
			zap.String("body", truncate(body)))
		return nil, ErrUpstreamUnavailable
	}

	var response DeviceAuthorizationResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		c.logger.Error("malformed device authorization response", zap.Error(err))
		return nil, ErrUpstreamUnavailable
	}

	c.logger.Info("device authorization requested",
		zap.String("user_code", response.UserCode),
		zap.Int("expires_in", response.ExpiresIn),
		zap.Int("interval", response.Interval))

	return &response, nil
}

// PollDeviceToken forwards one poll to the token endpoint. Protocol error
// codes from the provider become states, never errors; only transport and
// unexpected responses surface ErrUpstreamUnavailable.
func (c *HTTPClient) PollDeviceToken(ctx context.Context, deviceCode string) (*PollOutcome, error) {
	form := url.Values{}
	form.Set("client_id", c.config.ClientID)
	form.Set("grant_type", grantTypeDeviceCode)
	form.Set("device_code", deviceCode)

	body, status, err := c.postForm(ctx, c.config.TokenURL, form)
	if err != nil {
		return nil, err
	}

	if status == http.StatusBadRequest || status == http.StatusForbidden || status == http.StatusTooManyRequests {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(body), &errResp); err == nil {
			switch errResp.Error {
			case "authorization_pending":
				return &PollOutcome{State: StatePending}, nil
			case "slow_down":
				return &PollOutcome{State: StateSlowDown}, nil
			case "expired_token":
				return &PollOutcome{State: StateExpired}, nil
			case "access_denied":
				return &PollOutcome{State: StateDenied}, nil
			}
		}
		c.logger.Error("unexpected token endpoint error",
			zap.Int("status", status),
			zap.String("body", truncate(body)))
		return nil, ErrUpstreamUnavailable
	}

	if status < 200 || status >= 300 {
		c.logger.Error("token endpoint request rejected",
			zap.Int("status", status),
			zap.String("body", truncate(body)))
		return nil, ErrUpstreamUnavailable
	}

	var grant TokenGrant
	if err := json.Unmarshal([]byte(body), &grant); err != nil || grant.AccessToken == "" {
		c.logger.Error("malformed token grant response", zap.Error(err))
		return nil, ErrUpstreamUnavailable
	}

	c.logger.Info("device grant completed upstream",
		zap.String("token_type", grant.TokenType),
		zap.String("scope", grant.Scope),
		zap.Int("expires_in", grant.ExpiresIn))

	return &PollOutcome{State: StateGranted, Grant: &grant}, nil
}

func (c *HTTPClient) RefreshUpstreamToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("client_id", c.config.ClientID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	body, status, err := c.postForm(ctx, c.config.TokenURL, form)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.logger.Error("upstream token refresh rejected",
			zap.Int("status", status),
			zap.String("body", truncate(body)))
		return nil, ErrUpstreamUnavailable
	}

	var grant TokenGrant
	if err := json.Unmarshal([]byte(body), &grant); err != nil || grant.AccessToken == "" {
		return nil, ErrUpstreamUnavailable
	}

	// Providers may omit the refresh token; the presented one stays valid.
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}

	return &grant, nil
}

func (c *HTTPClient) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("profile request failed", zap.Error(err))
		return nil, ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ErrUpstreamUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("profile request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body))))
		return nil, ErrUpstreamUnavailable
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil || profile.Subject == "" {
		return nil, ErrUpstreamUnavailable
	}

	return &profile, nil
}

func (c *HTTPClient) postForm(ctx context.Context, endpoint string, form url.Values) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("identity provider request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return "", 0, ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, ErrUpstreamUnavailable
	}

	return string(body), resp.StatusCode, nil
}

func truncate(s string) string {
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
