package idtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/services/logging"
)

var (
	ErrMalformedToken = errors.New("malformed ID token")
	ErrExpiredToken   = errors.New("ID token has expired")
)

// Claims are the OpenID Connect claims the upstream IdP puts in its ID
// tokens that we care about.
type Claims struct {
	Username   string `json:"preferred_username,omitempty"`
	Email      string `json:"email,omitempty"`
	PlayerUUID string `json:"player_uuid,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks an ID token's signature. The default deployment trusts
// the IdP's TLS channel and skips signature verification; installations
// holding the IdP's JWKS can plug in a real verifier.
type Verifier interface {
	Verify(tokenString string) error
}

type Service struct {
	verifier Verifier
	logger   *logging.Service
}

func NewService(verifier Verifier, logger *logging.Service) *Service {
	return &Service{
		verifier: verifier,
		logger:   logger,
	}
}

// Extract parses the ID token's claims. The signature is checked only when
// a Verifier is configured; the claims are never used for authorization,
// only to enrich the local identity record.
func (s *Service) Extract(tokenString string) (*Claims, error) {
	if s.verifier != nil {
		if err := s.verifier.Verify(tokenString); err != nil {
			return nil, err
		}
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		s.logger.Debug("failed to parse ID token", zap.Error(err))
		return nil, ErrMalformedToken
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiredToken
	}

	return claims, nil
}

// Subject returns the token's subject claim, or "" when absent.
func (s *Service) Subject(tokenString string) (string, error) {
	claims, err := s.Extract(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
