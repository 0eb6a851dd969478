package sessionreg

import (
	"encoding/json"
	"time"
)

// Termination reasons recorded when a session goes inactive.
const (
	ReasonExpired             = "expired"
	ReasonLogout              = "logout"
	ReasonMaxSessionsExceeded = "max_sessions_exceeded"
	ReasonManual              = "manual"
)

type Session struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	SessionID         string     `json:"session_id" gorm:"uniqueIndex;size:36;not null"`
	OwnerID           uint       `json:"owner_id" gorm:"not null;index;index:idx_owner_active"`
	ServerName        string     `json:"server_name" gorm:"size:255"`
	IPAddress         string     `json:"ip_address" gorm:"size:45"`
	UserAgent         string     `json:"user_agent" gorm:"size:500"`
	DeviceType        string     `json:"device_type" gorm:"size:16;default:'unknown'"`
	Browser           string     `json:"browser" gorm:"size:255"`
	Platform          string     `json:"platform" gorm:"size:255"`
	Active            bool       `json:"active" gorm:"index;index:idx_owner_active;index:idx_active_expiry"`
	StartedAt         time.Time  `json:"started_at"`
	LastActivityAt    time.Time  `json:"last_activity_at" gorm:"index"`
	ExpiresAt         time.Time  `json:"expires_at" gorm:"index;index:idx_active_expiry"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty" gorm:"size:64"`
	IPHistory         string     `json:"-" gorm:"type:text"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Session) TableName() string {
	return "player_sessions"
}

// IsLive reports whether the session is active and unexpired.
func (s *Session) IsLive(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// IPChange is one entry of the session's IP audit trail.
type IPChange struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

// IPChanges decodes the stored audit trail. A corrupt column yields an empty
// trail rather than an error; the history is advisory.
func (s *Session) IPChanges() []IPChange {
	if s.IPHistory == "" {
		return nil
	}
	var changes []IPChange
	if err := json.Unmarshal([]byte(s.IPHistory), &changes); err != nil {
		return nil
	}
	return changes
}

func (s *Session) appendIPChange(change IPChange) {
	changes := append(s.IPChanges(), change)
	if encoded, err := json.Marshal(changes); err == nil {
		s.IPHistory = string(encoded)
	}
}
