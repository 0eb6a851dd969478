package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

var ErrIdentityNotFound = errors.New("identity not found")

type Service struct {
	db     *gorm.DB
	logger *logging.Service
}

func NewService(db *gorm.DB, logger *logging.Service) *Service {
	return &Service{db: db, logger: logger}
}

// Upsert creates or refreshes the local record for a provider profile and
// records the login event.
func (s *Service) Upsert(ctx context.Context, profile *idp.Profile, ip string) (*Identity, error) {
	now := time.Now()

	var record Identity
	err := s.db.WithContext(ctx).Where("subject = ?", profile.Subject).First(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = Identity{
			Subject:     profile.Subject,
			Username:    profile.Username,
			Email:       profile.Email,
			PlayerUUID:  profile.PlayerUUID,
			FirstLogin:  &now,
			LastLogin:   &now,
			LastLoginIP: ip,
			LoginCount:  1,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			s.logger.Error("failed to create identity",
				zap.String("subject", profile.Subject),
				zap.Error(err))
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}

		s.logger.Info("identity created",
			zap.Uint("identity_id", record.ID),
			zap.String("subject", profile.Subject),
			zap.String("player_uuid", profile.PlayerUUID))
		return &record, nil

	case err != nil:
		return nil, fmt.Errorf("database error: %w", err)
	}

	record.Username = profile.Username
	record.Email = profile.Email
	record.PlayerUUID = profile.PlayerUUID
	record.LastLogin = &now
	record.LastLoginIP = ip
	record.LoginCount++

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logger.Error("failed to update identity",
			zap.Uint("identity_id", record.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}

	s.logger.Info("identity login recorded",
		zap.Uint("identity_id", record.ID),
		zap.Uint("login_count", record.LoginCount))

	return &record, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*Identity, error) {
	var record Identity
	err := s.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &record, nil
}

func (s *Service) GetBySubject(ctx context.Context, subject string) (*Identity, error) {
	var record Identity
	err := s.db.WithContext(ctx).Where("subject = ?", subject).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &record, nil
}
