package deviceflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

// ErrInvalidDeviceCode covers every mismatch between the presented pair and
// stored state: unknown user code, wrong device code, or already-consumed
// grant. Callers cannot distinguish which, on purpose.
var ErrInvalidDeviceCode = errors.New("invalid or expired device code")

// Service drives the device-authorization state machine. Per-code state lives
// in the Store; the provider remains the authority on grant progress.
type Service struct {
	idp    idp.Client
	store  Store
	config *config.Config
	logger *logging.Service
}

func NewService(idpClient idp.Client, store Store, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		idp:    idpClient,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Initiate starts a device flow against the provider and records the
// authorization keyed by user_code for the provider-reported lifetime.
func (s *Service) Initiate(ctx context.Context, scope string, origin Origin) (*Grant, error) {
	resp, err := s.idp.RequestDeviceAuthorization(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = s.config.DeviceFlow.GrantTTL
	}

	auth := &DeviceAuthorization{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		Interval:        resp.Interval,
		OriginIP:        origin.IP,
		OriginUserAgent: origin.UserAgent,
	}

	if err := s.store.Put(ctx, auth, ttl); err != nil {
		s.logger.Error("failed to store device authorization",
			zap.String("user_code", resp.UserCode),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("device flow initiated",
		zap.String("user_code", resp.UserCode),
		zap.Int("expires_in", resp.ExpiresIn),
		zap.String("origin_ip", origin.IP))

	return &Grant{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresIn:               resp.ExpiresIn,
		Interval:                resp.Interval,
	}, nil
}

// Poll validates the (device_code, user_code) pair and forwards one poll to
// the provider. On authorization the stored entry is consumed atomically:
// of two racing polls only one returns StatusAuthorized, the other sees
// ErrInvalidDeviceCode. Fast local polling is never throttled here; slow_down
// comes only from the provider, which has global rate visibility.
func (s *Service) Poll(ctx context.Context, deviceCode, userCode string) (*PollResult, error) {
	auth, err := s.store.Get(ctx, userCode)
	if err != nil {
		if errors.Is(err, ErrAuthorizationNotFound) {
			s.logger.Warn("poll for unknown user code", zap.String("user_code", userCode))
			return nil, ErrInvalidDeviceCode
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(deviceCode), []byte(auth.DeviceCode)) != 1 {
		s.logger.Warn("poll with mismatched device code", zap.String("user_code", userCode))
		return nil, ErrInvalidDeviceCode
	}

	outcome, err := s.idp.PollDeviceToken(ctx, deviceCode)
	if err != nil {
		return nil, err
	}

	switch outcome.State {
	case idp.StatePending:
		return &PollResult{Status: StatusPending}, nil

	case idp.StateSlowDown:
		return &PollResult{Status: StatusSlowDown}, nil

	case idp.StateExpired:
		s.discard(ctx, userCode)
		return &PollResult{Status: StatusExpired}, nil

	case idp.StateDenied:
		s.discard(ctx, userCode)
		s.logger.Info("device flow denied by user", zap.String("user_code", userCode))
		return &PollResult{Status: StatusDenied}, nil

	case idp.StateGranted:
		consumed, err := s.store.Consume(ctx, userCode)
		if err != nil {
			if errors.Is(err, ErrAuthorizationNotFound) {
				// Lost the consume race to a concurrent poll.
				s.logger.Warn("device grant already consumed", zap.String("user_code", userCode))
				return nil, ErrInvalidDeviceCode
			}
			return nil, err
		}

		s.logger.Info("device flow authorized",
			zap.String("user_code", userCode),
			zap.String("scope", outcome.Grant.Scope))

		return &PollResult{
			Status:        StatusAuthorized,
			Grant:         outcome.Grant,
			Authorization: consumed,
		}, nil

	default:
		return nil, idp.ErrUpstreamUnavailable
	}
}

func (s *Service) discard(ctx context.Context, userCode string) {
	if err := s.store.Delete(ctx, userCode); err != nil {
		s.logger.Warn("failed to discard device authorization",
			zap.String("user_code", userCode),
			zap.Error(err))
	}
}
