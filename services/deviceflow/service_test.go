package deviceflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/testutils"
)

type mockIdPClient struct {
	requestFunc func(ctx context.Context, scope string) (*idp.DeviceAuthorizationResponse, error)
	pollFunc    func(ctx context.Context, deviceCode string) (*idp.PollOutcome, error)
}

func (m *mockIdPClient) RequestDeviceAuthorization(ctx context.Context, scope string) (*idp.DeviceAuthorizationResponse, error) {
	if m.requestFunc != nil {
		return m.requestFunc(ctx, scope)
	}
	return &idp.DeviceAuthorizationResponse{
		DeviceCode:              "dev-123",
		UserCode:                "ABCD-1234",
		VerificationURI:         "https://idp.example.com/activate",
		VerificationURIComplete: "https://idp.example.com/activate?user_code=ABCD-1234",
		ExpiresIn:               900,
		Interval:                5,
	}, nil
}

func (m *mockIdPClient) PollDeviceToken(ctx context.Context, deviceCode string) (*idp.PollOutcome, error) {
	if m.pollFunc != nil {
		return m.pollFunc(ctx, deviceCode)
	}
	return &idp.PollOutcome{State: idp.StatePending}, nil
}

func (m *mockIdPClient) RefreshUpstreamToken(context.Context, string) (*idp.TokenGrant, error) {
	return nil, idp.ErrUpstreamUnavailable
}

func (m *mockIdPClient) FetchProfile(context.Context, string) (*idp.Profile, error) {
	return nil, idp.ErrUpstreamUnavailable
}

func grantedOutcome() (*idp.PollOutcome, error) {
	return &idp.PollOutcome{
		State: idp.StateGranted,
		Grant: &idp.TokenGrant{
			AccessToken:  "upstream-access",
			RefreshToken: "upstream-refresh",
			TokenType:    "Bearer",
			Scope:        "openid offline",
			ExpiresIn:    3600,
		},
	}, nil
}

func newTestService(t *testing.T, client *mockIdPClient) (*Service, Store) {
	t.Helper()

	redisClient, _ := testutils.SetupTestRedis(t)
	store := NewRedisStore(redisClient, "test:")

	cfg := &config.Config{
		DeviceFlow: config.DeviceFlowConfig{GrantTTL: 15 * time.Minute},
	}

	return NewService(client, store, cfg, nil), store
}

func TestInitiate(t *testing.T) {
	svc, store := newTestService(t, &mockIdPClient{})
	ctx := context.Background()

	grant, err := svc.Initiate(ctx, "openid offline", Origin{IP: "10.0.0.1", UserAgent: "launcher/1.0"})
	require.NoError(t, err)

	assert.Equal(t, "dev-123", grant.DeviceCode)
	assert.Equal(t, "ABCD-1234", grant.UserCode)
	assert.Equal(t, 900, grant.ExpiresIn)
	assert.Equal(t, 5, grant.Interval)

	stored, err := store.Get(ctx, "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, "dev-123", stored.DeviceCode)
	assert.Equal(t, "10.0.0.1", stored.OriginIP)
	assert.Equal(t, "launcher/1.0", stored.OriginUserAgent)
}

func TestInitiate_UpstreamUnavailable(t *testing.T) {
	client := &mockIdPClient{
		requestFunc: func(context.Context, string) (*idp.DeviceAuthorizationResponse, error) {
			return nil, idp.ErrUpstreamUnavailable
		},
	}
	svc, _ := newTestService(t, client)

	_, err := svc.Initiate(context.Background(), "", Origin{})
	assert.ErrorIs(t, err, idp.ErrUpstreamUnavailable)
}

func TestPoll_PairValidation(t *testing.T) {
	svc, _ := newTestService(t, &mockIdPClient{})
	ctx := context.Background()

	_, err := svc.Initiate(ctx, "", Origin{})
	require.NoError(t, err)

	t.Run("unknown user code", func(t *testing.T) {
		_, err := svc.Poll(ctx, "dev-123", "WXYZ-9999")
		assert.ErrorIs(t, err, ErrInvalidDeviceCode)
	})

	t.Run("wrong device code", func(t *testing.T) {
		_, err := svc.Poll(ctx, "guessed-code", "ABCD-1234")
		assert.ErrorIs(t, err, ErrInvalidDeviceCode)
	})
}

func TestPoll_TransientStates(t *testing.T) {
	tests := []struct {
		name  string
		state idp.ProtocolState
		want  PollStatus
	}{
		{"pending", idp.StatePending, StatusPending},
		{"slow down", idp.StateSlowDown, StatusSlowDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockIdPClient{
				pollFunc: func(context.Context, string) (*idp.PollOutcome, error) {
					return &idp.PollOutcome{State: tt.state}, nil
				},
			}
			svc, store := newTestService(t, client)
			ctx := context.Background()

			_, err := svc.Initiate(ctx, "", Origin{})
			require.NoError(t, err)

			result, err := svc.Poll(ctx, "dev-123", "ABCD-1234")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)

			// Transient states keep the authorization alive for retry.
			_, err = store.Get(ctx, "ABCD-1234")
			require.NoError(t, err)
		})
	}
}

func TestPoll_TerminalStates(t *testing.T) {
	tests := []struct {
		name  string
		state idp.ProtocolState
		want  PollStatus
	}{
		{"expired", idp.StateExpired, StatusExpired},
		{"denied", idp.StateDenied, StatusDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockIdPClient{
				pollFunc: func(context.Context, string) (*idp.PollOutcome, error) {
					return &idp.PollOutcome{State: tt.state}, nil
				},
			}
			svc, store := newTestService(t, client)
			ctx := context.Background()

			_, err := svc.Initiate(ctx, "", Origin{})
			require.NoError(t, err)

			result, err := svc.Poll(ctx, "dev-123", "ABCD-1234")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)

			// Terminal states discard the authorization.
			_, err = store.Get(ctx, "ABCD-1234")
			assert.ErrorIs(t, err, ErrAuthorizationNotFound)
		})
	}
}

func TestPoll_AuthorizedIsOneShot(t *testing.T) {
	client := &mockIdPClient{
		pollFunc: func(context.Context, string) (*idp.PollOutcome, error) {
			return grantedOutcome()
		},
	}
	svc, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.Initiate(ctx, "", Origin{IP: "10.0.0.1"})
	require.NoError(t, err)

	result, err := svc.Poll(ctx, "dev-123", "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, result.Status)
	require.NotNil(t, result.Grant)
	assert.Equal(t, "upstream-access", result.Grant.AccessToken)
	require.NotNil(t, result.Authorization)
	assert.Equal(t, "10.0.0.1", result.Authorization.OriginIP)

	// A second poll with the same pair must not replay the success.
	_, err = svc.Poll(ctx, "dev-123", "ABCD-1234")
	assert.ErrorIs(t, err, ErrInvalidDeviceCode)
}

func TestPoll_TTLExpiry(t *testing.T) {
	ctx := context.Background()

	redisClient, mr := testutils.SetupTestRedis(t)
	store := NewRedisStore(redisClient, "test:")
	cfg := &config.Config{DeviceFlow: config.DeviceFlowConfig{GrantTTL: 15 * time.Minute}}
	svc := NewService(&mockIdPClient{}, store, cfg, nil)

	_, err := svc.Initiate(ctx, "", Origin{})
	require.NoError(t, err)

	mr.FastForward(901 * time.Second)

	_, err = svc.Poll(ctx, "dev-123", "ABCD-1234")
	assert.ErrorIs(t, err, ErrInvalidDeviceCode)
}

func TestPoll_UpstreamUnavailable(t *testing.T) {
	client := &mockIdPClient{
		pollFunc: func(context.Context, string) (*idp.PollOutcome, error) {
			return nil, idp.ErrUpstreamUnavailable
		},
	}
	svc, store := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.Initiate(ctx, "", Origin{})
	require.NoError(t, err)

	_, err = svc.Poll(ctx, "dev-123", "ABCD-1234")
	assert.ErrorIs(t, err, idp.ErrUpstreamUnavailable)

	// Upstream failure is retryable; state must survive.
	_, err = store.Get(ctx, "ABCD-1234")
	require.NoError(t, err)
}

func TestRedisStore_Consume(t *testing.T) {
	redisClient, _ := testutils.SetupTestRedis(t)
	store := NewRedisStore(redisClient, "test:")
	ctx := context.Background()

	auth := &DeviceAuthorization{DeviceCode: "dev-123", UserCode: "ABCD-1234", CreatedAt: time.Now()}
	require.NoError(t, store.Put(ctx, auth, time.Minute))

	consumed, err := store.Consume(ctx, "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, "dev-123", consumed.DeviceCode)

	_, err = store.Consume(ctx, "ABCD-1234")
	assert.ErrorIs(t, err, ErrAuthorizationNotFound)
}
