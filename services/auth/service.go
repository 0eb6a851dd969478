package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/deviceflow"
	"github.com/Daveeeu/skyrox-core/services/identity"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/idtoken"
	"github.com/Daveeeu/skyrox-core/services/logging"
	"github.com/Daveeeu/skyrox-core/services/permcache"
	"github.com/Daveeeu/skyrox-core/services/sessionreg"
	"github.com/Daveeeu/skyrox-core/services/token"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Request carries the calling client's metadata through an auth operation.
type Request struct {
	IP        string
	UserAgent string
	Server    string
}

// LoginResult is the full outcome of a completed device-flow login. Warnings
// lists best-effort steps that failed; the login itself still succeeded.
type LoginResult struct {
	Identity        *identity.Identity
	Session         *sessionreg.Session
	AccessToken     *token.IssuedToken
	RefreshToken    *token.IssuedToken
	IDToken         *token.IssuedToken
	UpstreamIDToken string
	Warnings        []string
}

// PollResponse wraps the device-flow state; Login is set only when the state
// is Authorized.
type PollResponse struct {
	Status deviceflow.PollStatus
	Login  *LoginResult
}

// RefreshResponse is the outcome of a local refresh-token exchange.
type RefreshResponse struct {
	AccessToken  *token.IssuedToken
	RefreshToken *token.IssuedToken
	Rotated      bool
}

// Service orchestrates the full login lifecycle across the device flow, the
// upstream IdP, identities, sessions, tokens and the permission cache.
type Service struct {
	flow      *deviceflow.Service
	idp       idp.Client
	identity  *identity.Service
	sessions  *sessionreg.Service
	tokens    *token.Service
	idtokens  *idtoken.Service
	permcache *permcache.Service
	config    *config.Config
	logger    *logging.Service
}

func NewService(
	flow *deviceflow.Service,
	idpClient idp.Client,
	identitySvc *identity.Service,
	sessions *sessionreg.Service,
	tokens *token.Service,
	idtokens *idtoken.Service,
	cache *permcache.Service,
	cfg *config.Config,
	logger *logging.Service,
) *Service {
	return &Service{
		flow:      flow,
		idp:       idpClient,
		identity:  identitySvc,
		sessions:  sessions,
		tokens:    tokens,
		idtokens:  idtokens,
		permcache: cache,
		config:    cfg,
		logger:    logger,
	}
}

// InitiateLogin starts a device-flow attempt for the calling client. An empty
// scope falls back to the configured default.
func (s *Service) InitiateLogin(ctx context.Context, scope string, req Request) (*deviceflow.Grant, error) {
	if scope == "" {
		scope = s.config.IdP.Scope
	}
	return s.flow.Initiate(ctx, scope, deviceflow.Origin{
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
}

// Poll advances a pending device-flow attempt. On authorization it performs
// the full local login: profile fetch, identity upsert, session open, token
// issuance and permission cache population.
func (s *Service) Poll(ctx context.Context, deviceCode, userCode string, req Request) (*PollResponse, error) {
	result, err := s.flow.Poll(ctx, deviceCode, userCode)
	if err != nil {
		return nil, err
	}

	if result.Status != deviceflow.StatusAuthorized {
		return &PollResponse{Status: result.Status}, nil
	}

	login, err := s.completeLogin(ctx, result.Grant, req)
	if err != nil {
		return nil, err
	}

	return &PollResponse{Status: deviceflow.StatusAuthorized, Login: login}, nil
}

func (s *Service) completeLogin(ctx context.Context, grant *idp.TokenGrant, req Request) (*LoginResult, error) {
	profile, err := s.idp.FetchProfile(ctx, grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch player profile: %w", err)
	}

	login := &LoginResult{UpstreamIDToken: grant.IDToken}

	// The ID token enriches the profile and cross-checks the subject; it is
	// informational, so problems with it never fail the login.
	if grant.IDToken != "" {
		claims, err := s.idtokens.Extract(grant.IDToken)
		switch {
		case err != nil:
			s.logger.Warn("unusable upstream ID token", zap.Error(err))
			login.Warnings = append(login.Warnings, "id token unusable")
		case claims.Subject != "" && claims.Subject != profile.Subject:
			s.logger.Warn("id token subject does not match profile",
				zap.String("id_token_subject", claims.Subject),
				zap.String("profile_subject", profile.Subject))
			login.Warnings = append(login.Warnings, "id token subject mismatch")
		default:
			if profile.Username == "" {
				profile.Username = claims.Username
			}
			if profile.Email == "" {
				profile.Email = claims.Email
			}
			if profile.PlayerUUID == "" {
				profile.PlayerUUID = claims.PlayerUUID
			}
		}
	}

	ident, err := s.identity.Upsert(ctx, profile, req.IP)
	if err != nil {
		return nil, fmt.Errorf("failed to record identity: %w", err)
	}

	session, err := s.sessions.Open(ctx, ident.ID, req.Server, req.IP, req.UserAgent, s.config.Sessions.Expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	meta := token.Metadata{IPAddress: req.IP, UserAgent: req.UserAgent}
	scope := token.SplitScope(grant.Scope)

	access, err := s.tokens.IssueAccessToken(ctx, ident.ID, scope, s.config.Tokens.AccessExpiry, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refresh, err := s.tokens.IssueRefreshToken(ctx, ident.ID, s.config.Tokens.RefreshExpiry, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	login.Identity = ident
	login.Session = session
	login.AccessToken = access
	login.RefreshToken = refresh

	if grant.RefreshToken != "" {
		if err := s.tokens.AttachUpstream(ctx, refresh.Token.TokenID, grant.RefreshToken); err != nil {
			s.logger.Warn("failed to store upstream refresh credential",
				zap.Uint("owner_id", ident.ID),
				zap.Error(err))
			login.Warnings = append(login.Warnings, "upstream credential not stored")
		}
	}

	if grant.IDToken != "" {
		idTok, err := s.tokens.IssueIDToken(ctx, ident.ID, s.config.Tokens.AccessExpiry, meta)
		if err != nil {
			s.logger.Warn("failed to issue id token",
				zap.Uint("owner_id", ident.ID),
				zap.Error(err))
			login.Warnings = append(login.Warnings, "id token not issued")
		} else {
			login.IDToken = idTok
		}
	}

	// Cache population and presence are best-effort; the login already holds.
	if _, err := s.permcache.Get(ctx, ident.ID); err != nil {
		s.logger.Warn("failed to populate permission cache on login",
			zap.Uint("owner_id", ident.ID),
			zap.Error(err))
		login.Warnings = append(login.Warnings, "permission cache unavailable")
	}
	if err := s.permcache.SetOnline(ctx, ident.ID, true); err != nil {
		s.logger.Warn("failed to mark player online",
			zap.Uint("owner_id", ident.ID),
			zap.Error(err))
		login.Warnings = append(login.Warnings, "online index unavailable")
	}

	s.logger.Info("player login completed",
		zap.Uint("owner_id", ident.ID),
		zap.String("username", ident.Username),
		zap.String("session_id", session.SessionID))

	return login, nil
}

// Refresh exchanges a local refresh token and keeps the owner's session
// activity current.
func (s *Service) Refresh(ctx context.Context, refreshSecret string, req Request) (*RefreshResponse, error) {
	result, err := s.tokens.Refresh(ctx, refreshSecret, token.Metadata{
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessions.TouchOwner(ctx, result.AccessToken.Token.OwnerID, req.IP); err != nil {
		s.logger.Debug("no session to touch on refresh",
			zap.Uint("owner_id", result.AccessToken.Token.OwnerID),
			zap.Error(err))
	}

	if result.RefreshToken != nil {
		s.renewUpstream(ctx, result.RefreshToken.Token.TokenID)
	}

	return &RefreshResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Rotated:      result.Rotated,
	}, nil
}

// renewUpstream rolls the provider-side session alongside the local one.
// Best-effort: the local refresh already succeeded, and the old upstream
// credential stays attached if the provider is unreachable.
func (s *Service) renewUpstream(ctx context.Context, tokenID string) {
	upstream, err := s.tokens.RevealUpstream(ctx, tokenID)
	if err != nil || upstream == "" {
		if err != nil {
			s.logger.Debug("upstream credential unavailable on refresh",
				zap.String("token_id", tokenID),
				zap.Error(err))
		}
		return
	}

	grant, err := s.idp.RefreshUpstreamToken(ctx, upstream)
	if err != nil {
		s.logger.Warn("failed to renew upstream session",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return
	}

	if grant.RefreshToken != "" && grant.RefreshToken != upstream {
		if err := s.tokens.AttachUpstream(ctx, tokenID, grant.RefreshToken); err != nil {
			s.logger.Warn("failed to store renewed upstream credential",
				zap.String("token_id", tokenID),
				zap.Error(err))
		}
	}
}

// ValidateAccess checks an access-token secret and returns the owning
// identity. Every failure mode collapses to ErrInvalidCredential so callers
// cannot distinguish why a credential was rejected.
func (s *Service) ValidateAccess(ctx context.Context, secret string, req Request) (*identity.Identity, *token.Token, error) {
	record, err := s.tokens.Validate(ctx, secret, token.KindAccess)
	if err != nil {
		s.logger.Debug("access token rejected", zap.Error(err))
		return nil, nil, ErrInvalidCredential
	}

	ident, err := s.identity.Get(ctx, record.OwnerID)
	if err != nil {
		s.logger.Warn("token owner has no identity record",
			zap.Uint("owner_id", record.OwnerID),
			zap.Error(err))
		return nil, nil, ErrInvalidCredential
	}

	if req.IP != "" {
		if err := s.sessions.TouchOwner(ctx, ident.ID, req.IP); err != nil {
			s.logger.Debug("no session to touch on validate",
				zap.Uint("owner_id", ident.ID),
				zap.Error(err))
		}
	}

	return ident, record, nil
}

// LogoutResult reports what a logout actually cleaned up. Warnings lists
// best-effort steps that failed.
type LogoutResult struct {
	TokensRevoked      int64
	SessionsTerminated int64
	Warnings           []string
}

// Logout validates the presented access token, then tears down everything
// the owner has: tokens, sessions, cache entry, presence. Each teardown step
// is attempted regardless of the others failing.
func (s *Service) Logout(ctx context.Context, secret string) (*LogoutResult, error) {
	record, err := s.tokens.Validate(ctx, secret, token.KindAccess)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	result := &LogoutResult{}
	ownerID := record.OwnerID

	revoked, err := s.tokens.RevokeAll(ctx, ownerID, token.ReasonLogout)
	if err != nil {
		s.logger.Error("failed to revoke tokens on logout",
			zap.Uint("owner_id", ownerID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, "token revocation incomplete")
	}
	result.TokensRevoked = revoked

	terminated, err := s.sessions.TerminateAll(ctx, ownerID, sessionreg.ReasonLogout)
	if err != nil {
		s.logger.Error("failed to terminate sessions on logout",
			zap.Uint("owner_id", ownerID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, "session termination incomplete")
	}
	result.SessionsTerminated = terminated

	if err := s.permcache.SetOnline(ctx, ownerID, false); err != nil {
		s.logger.Warn("failed to mark player offline on logout",
			zap.Uint("owner_id", ownerID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, "online index unavailable")
	}

	s.logger.Info("player logout completed",
		zap.Uint("owner_id", ownerID),
		zap.Int64("tokens_revoked", result.TokensRevoked),
		zap.Int64("sessions_terminated", result.SessionsTerminated))

	return result, nil
}
