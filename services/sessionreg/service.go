package sessionreg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

var ErrSessionNotFound = errors.New("session not found")

// Service owns all Session mutation and enforces the per-owner concurrency
// cap with least-recently-active eviction.
type Service struct {
	db     *gorm.DB
	config *config.Config
	logger *logging.Service

	sweepStop chan struct{}
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing session registry",
			zap.Int("max_per_owner", cfg.Sessions.MaxPerOwner),
			zap.Duration("expiry", cfg.Sessions.Expiry))
	}

	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// Open creates a session for the owner. When the owner is at the concurrency
// cap, the least-recently-active session is terminated first. Eviction is by
// last activity, not by creation order.
func (s *Service) Open(ctx context.Context, ownerID uint, serverName, ip, userAgent string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = s.config.Sessions.Expiry
	}

	if err := s.evictToCap(ctx, ownerID); err != nil {
		return nil, err
	}

	now := time.Now()
	session := Session{
		SessionID:      uuid.NewString(),
		OwnerID:        ownerID,
		ServerName:     serverName,
		IPAddress:      ip,
		UserAgent:      userAgent,
		DeviceType:     parseDeviceType(userAgent),
		Browser:        parseBrowser(userAgent),
		Platform:       parsePlatform(userAgent),
		Active:         true,
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logger.Error("failed to create session",
			zap.Uint("owner_id", ownerID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session opened",
		zap.Uint("owner_id", ownerID),
		zap.String("session_id", session.SessionID),
		zap.String("server", serverName),
		zap.Time("expires_at", session.ExpiresAt))

	return &session, nil
}

func (s *Service) evictToCap(ctx context.Context, ownerID uint) error {
	max := s.config.Sessions.MaxPerOwner

	for {
		count, err := s.ActiveCount(ctx, ownerID)
		if err != nil {
			return err
		}
		if count < int64(max) {
			return nil
		}

		var oldest Session
		err = s.db.WithContext(ctx).
			Where("owner_id = ? AND active = ?", ownerID, true).
			Order("last_activity_at ASC").
			First(&oldest).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to find eviction candidate: %w", err)
		}

		if err := s.Terminate(ctx, oldest.SessionID, ReasonMaxSessionsExceeded); err != nil {
			return err
		}

		s.logger.Info("session evicted for concurrency cap",
			zap.Uint("owner_id", ownerID),
			zap.String("session_id", oldest.SessionID),
			zap.Time("last_activity_at", oldest.LastActivityAt))
	}
}

// Touch records activity on a session. An IP change is appended to the audit
// trail and the stored IP updated; changes are audited, never rejected. The
// history append is guarded on last_activity_at so concurrent touches cannot
// overwrite each other's entries; a lost write retries against a fresh view.
func (s *Service) Touch(ctx context.Context, sessionID, ip string) error {
	for attempt := 0; attempt < 3; attempt++ {
		var session Session
		err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("database error: %w", err)
		}

		now := time.Now()
		updates := map[string]any{"last_activity_at": now}

		if ip != "" && ip != session.IPAddress {
			session.appendIPChange(IPChange{From: session.IPAddress, To: ip, ChangedAt: now})
			updates["ip_address"] = ip
			updates["ip_history"] = session.IPHistory

			s.logger.Warn("session ip changed",
				zap.String("session_id", sessionID),
				zap.String("from", session.IPAddress),
				zap.String("to", ip))
		}

		result := s.db.WithContext(ctx).Model(&Session{}).
			Where("session_id = ? AND last_activity_at = ?", sessionID, session.LastActivityAt).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to touch session: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
	}

	// Persistent contention: record the activity without touching the audit
	// trail rather than dropping the touch entirely.
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("last_activity_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// TouchOwner records activity on the owner's most recently active session.
func (s *Service) TouchOwner(ctx context.Context, ownerID uint, ip string) error {
	var session Session
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", ownerID, true).
		Order("last_activity_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("database error: %w", err)
	}

	return s.Touch(ctx, session.SessionID, ip)
}

// Terminate deactivates a session. Terminating an inactive session is a
// no-op success; exactly one call observes the active→inactive transition.
func (s *Service) Terminate(ctx context.Context, sessionID, reason string) error {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND active = ?", sessionID, true).
		Updates(map[string]any{
			"active":             false,
			"terminated_at":      time.Now(),
			"termination_reason": reason,
		})
	if result.Error != nil {
		s.logger.Error("failed to terminate session",
			zap.String("session_id", sessionID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to terminate session: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("session terminated",
			zap.String("session_id", sessionID),
			zap.String("reason", reason))
	}

	return nil
}

func (s *Service) TerminateAll(ctx context.Context, ownerID uint, reason string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("owner_id = ? AND active = ?", ownerID, true).
		Updates(map[string]any{
			"active":             false,
			"terminated_at":      time.Now(),
			"termination_reason": reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to terminate owner sessions: %w", result.Error)
	}

	s.logger.Info("owner sessions terminated",
		zap.Uint("owner_id", ownerID),
		zap.String("reason", reason),
		zap.Int64("count", result.RowsAffected))

	return result.RowsAffected, nil
}

// SweepExpired deactivates sessions whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("active = ? AND expires_at < ?", true, time.Now()).
		Updates(map[string]any{
			"active":             false,
			"terminated_at":      time.Now(),
			"termination_reason": ReasonExpired,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired sessions swept", zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &session, nil
}

func (s *Service) ActiveCount(ctx context.Context, ownerID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("owner_id = ? AND active = ? AND expires_at > ?", ownerID, true, time.Now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

func (s *Service) ActiveSessions(ctx context.Context, ownerID uint) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND active = ? AND expires_at > ?", ownerID, true, time.Now()).
		Order("last_activity_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

func (s *Service) IsOnline(ctx context.Context, ownerID uint) (bool, error) {
	count, err := s.ActiveCount(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type Stats struct {
	TotalSessions  int64 `json:"total_sessions"`
	ActiveSessions int64 `json:"active_sessions"`
	OnlineOwners   int64 `json:"online_owners"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	now := time.Now()

	if err := s.db.WithContext(ctx).Model(&Session{}).Count(&stats.TotalSessions).Error; err != nil {
		return nil, fmt.Errorf("failed to collect session stats: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Session{}).
		Where("active = ? AND expires_at > ?", true, now).
		Count(&stats.ActiveSessions).Error; err != nil {
		return nil, fmt.Errorf("failed to collect session stats: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Session{}).
		Where("active = ? AND expires_at > ?", true, now).
		Distinct("owner_id").
		Count(&stats.OnlineOwners).Error; err != nil {
		return nil, fmt.Errorf("failed to collect session stats: %w", err)
	}

	return &stats, nil
}

func (s *Service) StartSweepWorker() {
	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.config.Sessions.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepExpired(context.Background()); err != nil {
					s.logger.Error("session sweep worker failed", zap.Error(err))
				}
			case <-s.sweepStop:
				return
			}
		}
	}()

	s.logger.Info("started session sweep worker",
		zap.Duration("interval", s.config.Sessions.SweepInterval))
}

func (s *Service) StopSweepWorker() {
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
}

func parseDeviceType(userAgentString string) string {
	if userAgentString == "" {
		return "unknown"
	}

	ua := useragent.Parse(userAgentString)
	switch {
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}

func parseBrowser(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.Parse(userAgentString)
	if ua.Name == "" {
		return ""
	}
	if ua.Version != "" {
		return ua.Name + " " + ua.Version
	}
	return ua.Name
}

func parsePlatform(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.Parse(userAgentString)
	if ua.OS == "" {
		return ""
	}
	if ua.OSVersion != "" {
		return ua.OS + " " + ua.OSVersion
	}
	return ua.OS
}
