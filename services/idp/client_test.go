package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daveeeu/skyrox-core/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.IdPConfig{
		ClientID:      "game-client",
		DeviceAuthURL: server.URL + "/device/auth",
		TokenURL:      server.URL + "/token",
		ProfileURL:    server.URL + "/userinfo",
		Scope:         "openid offline",
		Timeout:       5 * time.Second,
	}

	return NewHTTPClient(cfg, server.Client(), nil)
}

func TestRequestDeviceAuthorization(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/device/auth", r.URL.Path)
		assert.Equal(t, "game-client", r.Form.Get("client_id"))
		assert.Equal(t, "openid offline", r.Form.Get("scope"))

		json.NewEncoder(w).Encode(map[string]any{
			"device_code":               "dev-123",
			"user_code":                 "ABCD-1234",
			"verification_uri":          "https://idp.example.com/activate",
			"verification_uri_complete": "https://idp.example.com/activate?user_code=ABCD-1234",
			"expires_in":                900,
			"interval":                  5,
		})
	})

	resp, err := client.RequestDeviceAuthorization(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "dev-123", resp.DeviceCode)
	assert.Equal(t, "ABCD-1234", resp.UserCode)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.Equal(t, 5, resp.Interval)
}

func TestRequestDeviceAuthorization_UpstreamFailure(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.RequestDeviceAuthorization(context.Background(), "")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("connection refused", func(t *testing.T) {
		cfg := config.IdPConfig{
			ClientID:      "game-client",
			DeviceAuthURL: "http://127.0.0.1:1/device/auth",
			TokenURL:      "http://127.0.0.1:1/token",
			Timeout:       time.Second,
		}
		client := NewHTTPClient(cfg, nil, nil)

		_, err := client.RequestDeviceAuthorization(context.Background(), "")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestPollDeviceToken_ProtocolStates(t *testing.T) {
	tests := []struct {
		errCode string
		status  int
		want    ProtocolState
	}{
		{"authorization_pending", http.StatusBadRequest, StatePending},
		{"slow_down", http.StatusBadRequest, StateSlowDown},
		{"expired_token", http.StatusBadRequest, StateExpired},
		{"access_denied", http.StatusForbidden, StateDenied},
	}

	for _, tt := range tests {
		t.Run(tt.errCode, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, grantTypeDeviceCode, r.Form.Get("grant_type"))

				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": tt.errCode})
			})

			outcome, err := client.PollDeviceToken(context.Background(), "dev-123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.State)
			assert.Nil(t, outcome.Grant)
		})
	}
}

func TestPollDeviceToken_Granted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-access",
			"refresh_token": "upstream-refresh",
			"token_type":    "Bearer",
			"scope":         "openid offline",
			"expires_in":    3600,
		})
	})

	outcome, err := client.PollDeviceToken(context.Background(), "dev-123")
	require.NoError(t, err)

	assert.Equal(t, StateGranted, outcome.State)
	require.NotNil(t, outcome.Grant)
	assert.Equal(t, "upstream-access", outcome.Grant.AccessToken)
	assert.Equal(t, "upstream-refresh", outcome.Grant.RefreshToken)
}

func TestPollDeviceToken_UnknownErrorCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
	})

	_, err := client.PollDeviceToken(context.Background(), "dev-123")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRefreshUpstreamToken(t *testing.T) {
	t.Run("provider omits refresh token", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "new-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		})

		grant, err := client.RefreshUpstreamToken(context.Background(), "old-refresh")
		require.NoError(t, err)
		assert.Equal(t, "new-access", grant.AccessToken)
		assert.Equal(t, "old-refresh", grant.RefreshToken)
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := client.RefreshUpstreamToken(context.Background(), "old-refresh")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestFetchProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer upstream-access", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]string{
			"sub":                "auth0|abc123",
			"preferred_username": "steve",
			"email":              "steve@example.com",
			"player_uuid":        "11111111-2222-3333-4444-555555555555",
		})
	})

	profile, err := client.FetchProfile(context.Background(), "upstream-access")
	require.NoError(t, err)

	assert.Equal(t, "auth0|abc123", profile.Subject)
	assert.Equal(t, "steve", profile.Username)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", profile.PlayerUUID)
}

func TestFetchProfile_MissingSubject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"email": "steve@example.com"})
	})

	_, err := client.FetchProfile(context.Background(), "upstream-access")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
