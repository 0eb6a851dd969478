package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrWrongKind             = errors.New("token kind mismatch")
	ErrTokenRevoked          = errors.New("token revoked")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenNotYetValid      = errors.New("token not yet valid")
	ErrDecryptionUnavailable = errors.New("token has no recoverable secret")
	ErrSecretGeneration      = errors.New("failed to generate secure token secret")
)

// Service owns all Token mutation. Nothing else writes to player_tokens.
type Service struct {
	db     *gorm.DB
	config *config.Config
	enc    Encryptor
	logger *logging.Service

	sweepStop chan struct{}
}

func NewService(db *gorm.DB, cfg *config.Config, enc Encryptor, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing token lifecycle service",
			zap.Duration("access_expiry", cfg.Tokens.AccessExpiry),
			zap.Duration("refresh_expiry", cfg.Tokens.RefreshExpiry),
			zap.Bool("rotate_refresh", cfg.Tokens.RotateRefresh))
	}

	return &Service{
		db:     db,
		config: cfg,
		enc:    enc,
		logger: logger,
	}
}

func (s *Service) IssueAccessToken(ctx context.Context, ownerID uint, scope []string, ttl time.Duration, meta Metadata) (*IssuedToken, error) {
	if ttl <= 0 {
		ttl = s.config.Tokens.AccessExpiry
	}
	return s.issue(ctx, ownerID, KindAccess, JoinScope(scope), ttl, meta)
}

func (s *Service) IssueRefreshToken(ctx context.Context, ownerID uint, ttl time.Duration, meta Metadata) (*IssuedToken, error) {
	if ttl <= 0 {
		ttl = s.config.Tokens.RefreshExpiry
	}
	return s.issue(ctx, ownerID, KindRefresh, "", ttl, meta)
}

func (s *Service) IssueIDToken(ctx context.Context, ownerID uint, ttl time.Duration, meta Metadata) (*IssuedToken, error) {
	if ttl <= 0 {
		ttl = s.config.Tokens.AccessExpiry
	}
	return s.issue(ctx, ownerID, KindID, "", ttl, meta)
}

func (s *Service) issue(ctx context.Context, ownerID uint, kind Kind, scope string, ttl time.Duration, meta Metadata) (*IssuedToken, error) {
	secret, err := s.generateSecret()
	if err != nil {
		s.logger.Error("failed to generate token secret", zap.Error(err), zap.String("kind", string(kind)))
		return nil, ErrSecretGeneration
	}

	ciphertext, err := s.enc.Encrypt(secret)
	if err != nil {
		s.logger.Error("failed to encrypt token secret", zap.Error(err))
		return nil, fmt.Errorf("failed to encrypt token secret: %w", err)
	}

	now := time.Now()
	record := Token{
		TokenID:          uuid.NewString(),
		OwnerID:          ownerID,
		Kind:             kind,
		SecretHash:       hashSecret(secret),
		SecretCiphertext: ciphertext,
		Scope:            scope,
		IssuedAt:         now,
		ExpiresAt:        now.Add(ttl),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("failed to store token",
			zap.Error(err),
			zap.Uint("owner_id", ownerID),
			zap.String("kind", string(kind)))
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Info("token issued",
		zap.Uint("owner_id", ownerID),
		zap.String("kind", string(kind)),
		zap.String("token_id", record.TokenID),
		zap.Time("expires_at", record.ExpiresAt))

	return &IssuedToken{Token: &record, Secret: secret}, nil
}

// Validate resolves a secret to its token record, enforcing kind, revocation,
// expiry and not-before. Usage recording is best-effort and never fails the
// read path.
func (s *Service) Validate(ctx context.Context, secret string, kind Kind) (*Token, error) {
	var record Token
	err := s.db.WithContext(ctx).Where("secret_hash = ?", hashSecret(secret)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("token validation failed - not found", zap.String("kind", string(kind)))
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if record.Kind != kind {
		s.logger.Warn("token validation failed - kind mismatch",
			zap.String("token_id", record.TokenID),
			zap.String("expected", string(kind)),
			zap.String("actual", string(record.Kind)))
		return nil, ErrWrongKind
	}

	now := time.Now()
	if record.Revoked {
		s.logger.Warn("token validation failed - revoked",
			zap.String("token_id", record.TokenID),
			zap.String("reason", record.RevocationReason))
		return nil, ErrTokenRevoked
	}
	if record.IsExpired(now) {
		s.logger.Warn("token validation failed - expired",
			zap.String("token_id", record.TokenID),
			zap.Time("expired_at", record.ExpiresAt))
		return nil, ErrTokenExpired
	}
	if record.IsNotYetValid(now) {
		s.logger.Warn("token validation failed - not yet valid",
			zap.String("token_id", record.TokenID),
			zap.Timep("not_before", record.NotBefore))
		return nil, ErrTokenNotYetValid
	}

	s.recordUsage(ctx, &record, now)

	return &record, nil
}

func (s *Service) recordUsage(ctx context.Context, record *Token, now time.Time) {
	err := s.db.WithContext(ctx).Model(&Token{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}).Error
	if err != nil {
		s.logger.Warn("failed to record token usage",
			zap.String("token_id", record.TokenID),
			zap.Error(err))
		return
	}

	record.UsageCount++
	record.LastUsedAt = &now
}

// Refresh exchanges a refresh secret for a new access token. With rotation
// enabled the presented refresh token is revoked before the replacement
// secret leaves this method, so it can never be redeemed twice.
func (s *Service) Refresh(ctx context.Context, refreshSecret string, meta Metadata) (*RefreshResult, error) {
	current, err := s.Validate(ctx, refreshSecret, KindRefresh)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{}

	if s.config.Tokens.RotateRefresh {
		// Two racing exchanges can both pass Validate; only the one that
		// wins the revoked=false transition may mint a replacement chain.
		won, err := s.revokeRecord(ctx, current, ReasonRotated)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, ErrTokenRevoked
		}
		result.Rotated = true

		newRefresh, err := s.IssueRefreshToken(ctx, current.OwnerID, 0, meta)
		if err != nil {
			return nil, err
		}
		result.RefreshToken = newRefresh

		if current.UpstreamCiphertext != "" {
			err = s.db.WithContext(ctx).Model(&Token{}).
				Where("id = ?", newRefresh.Token.ID).
				Update("upstream_ciphertext", current.UpstreamCiphertext).Error
			if err != nil {
				s.logger.Warn("failed to carry upstream credential onto rotated token",
					zap.String("token_id", newRefresh.Token.TokenID),
					zap.Error(err))
			} else {
				newRefresh.Token.UpstreamCiphertext = current.UpstreamCiphertext
			}
		}
	}

	access, err := s.IssueAccessToken(ctx, current.OwnerID, current.Scopes(), 0, meta)
	if err != nil {
		return nil, err
	}
	result.AccessToken = access

	s.logger.Info("refresh token exchanged",
		zap.Uint("owner_id", current.OwnerID),
		zap.Bool("rotated", result.Rotated))

	return result, nil
}

// Revoke marks the token matching the secret as revoked. Revoking an
// already-revoked token is a no-op success.
func (s *Service) Revoke(ctx context.Context, secret, reason string) error {
	var record Token
	err := s.db.WithContext(ctx).Where("secret_hash = ?", hashSecret(secret)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("database error: %w", err)
	}

	_, err = s.revokeRecord(ctx, &record, reason)
	return err
}

func (s *Service) RevokeByID(ctx context.Context, tokenID, reason string) error {
	var record Token
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("database error: %w", err)
	}

	_, err = s.revokeRecord(ctx, &record, reason)
	return err
}

// revokeRecord transitions a token into the revoked state. The returned bool
// reports whether this caller won the revoked=false transition; a false with
// nil error means someone else revoked it first. Callers needing exactly-once
// semantics (rotation) must check it; idempotent callers ignore it.
func (s *Service) revokeRecord(ctx context.Context, record *Token, reason string) (bool, error) {
	if record.Revoked {
		return false, nil
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Token{}).
		Where("id = ? AND revoked = ?", record.ID, false).
		Updates(map[string]any{
			"revoked":           true,
			"revoked_at":        now,
			"revocation_reason": reason,
		})
	if result.Error != nil {
		s.logger.Error("failed to revoke token",
			zap.String("token_id", record.TokenID),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to revoke token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	record.Revoked = true
	record.RevokedAt = &now
	record.RevocationReason = reason

	s.logger.Info("token revoked",
		zap.String("token_id", record.TokenID),
		zap.Uint("owner_id", record.OwnerID),
		zap.String("reason", reason))

	return true, nil
}

// RevokeAll revokes every live token for the owner. Returns how many tokens
// transitioned.
func (s *Service) RevokeAll(ctx context.Context, ownerID uint, reason string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Token{}).
		Where("owner_id = ? AND revoked = ?", ownerID, false).
		Updates(map[string]any{
			"revoked":           true,
			"revoked_at":        time.Now(),
			"revocation_reason": reason,
		})
	if result.Error != nil {
		s.logger.Error("failed to revoke owner tokens",
			zap.Uint("owner_id", ownerID),
			zap.Error(result.Error))
		return 0, fmt.Errorf("failed to revoke owner tokens: %w", result.Error)
	}

	s.logger.Info("owner tokens revoked",
		zap.Uint("owner_id", ownerID),
		zap.String("reason", reason),
		zap.Int64("count", result.RowsAffected))

	return result.RowsAffected, nil
}

// Reveal decrypts the stored ciphertext of a token. Used by audit flows that
// must surface the raw value of an already-issued credential.
func (s *Service) Reveal(ctx context.Context, tokenID string) (string, error) {
	var record Token
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("database error: %w", err)
	}

	if record.SecretCiphertext == "" {
		return "", ErrDecryptionUnavailable
	}

	secret, err := s.enc.Decrypt(record.SecretCiphertext)
	if err != nil {
		return "", ErrDecryptionUnavailable
	}
	return secret, nil
}

// AttachUpstream stores the provider credential on the token, encrypted with
// the same key as the secret ciphertext.
func (s *Service) AttachUpstream(ctx context.Context, tokenID, upstreamSecret string) error {
	ciphertext, err := s.enc.Encrypt(upstreamSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt upstream credential: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&Token{}).
		Where("token_id = ?", tokenID).
		Update("upstream_ciphertext", ciphertext)
	if result.Error != nil {
		return fmt.Errorf("failed to attach upstream credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// RevealUpstream decrypts the provider credential attached to the token.
// Returns "" without error when none is attached.
func (s *Service) RevealUpstream(ctx context.Context, tokenID string) (string, error) {
	var record Token
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("database error: %w", err)
	}

	if record.UpstreamCiphertext == "" {
		return "", nil
	}

	secret, err := s.enc.Decrypt(record.UpstreamCiphertext)
	if err != nil {
		return "", ErrDecryptionUnavailable
	}
	return secret, nil
}

// SweepExpired moves expired-but-unrevoked tokens into the revoked state.
// Safe to run concurrently with validations: expiry is checked independently
// of the revoked flag on the read path.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Token{}).
		Where("revoked = ? AND expires_at < ?", false, time.Now()).
		Updates(map[string]any{
			"revoked":           true,
			"revoked_at":        time.Now(),
			"revocation_reason": ReasonExpired,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired tokens swept", zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

// PurgeRevoked physically deletes revoked tokens older than the retention
// window. The only code path that deletes token rows.
func (s *Service) PurgeRevoked(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("revoked = ? AND revoked_at < ?", true, cutoff).
		Delete(&Token{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("revoked tokens purged",
			zap.Int64("count", result.RowsAffected),
			zap.Time("cutoff", cutoff))
	}

	return result.RowsAffected, nil
}

// RevokedRetention is the configured window PurgeRevoked should honor.
func (s *Service) RevokedRetention() time.Duration {
	return s.config.Tokens.RevokedRetained
}

func (s *Service) ActiveCount(ctx context.Context, ownerID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Token{}).
		Where("owner_id = ? AND revoked = ? AND expires_at > ?", ownerID, false, time.Now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active tokens: %w", err)
	}
	return count, nil
}

func (s *Service) CountByKind(ctx context.Context) (map[Kind]int64, error) {
	type row struct {
		Kind  Kind
		Count int64
	}

	var rows []row
	err := s.db.WithContext(ctx).Model(&Token{}).
		Select("kind, COUNT(*) as count").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens: %w", err)
	}

	counts := make(map[Kind]int64, len(rows))
	for _, r := range rows {
		counts[r.Kind] = r.Count
	}
	return counts, nil
}

func (s *Service) StartSweepWorker() {
	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.config.Tokens.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepExpired(context.Background()); err != nil {
					s.logger.Error("token sweep worker failed", zap.Error(err))
				}
			case <-s.sweepStop:
				return
			}
		}
	}()

	s.logger.Info("started token sweep worker",
		zap.Duration("interval", s.config.Tokens.SweepInterval))
}

func (s *Service) StopSweepWorker() {
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
}

func (s *Service) generateSecret() (string, error) {
	buf := make([]byte, s.config.Tokens.SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
