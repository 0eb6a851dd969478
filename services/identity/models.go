package identity

import "time"

// Identity is the local record for a provider account. Upsert-keyed by the
// provider subject; the PlayerUUID is the in-game identity.
type Identity struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Subject     string     `json:"subject" gorm:"uniqueIndex;size:255;not null"`
	Username    string     `json:"username" gorm:"size:255"`
	Email       string     `json:"email" gorm:"size:255;index"`
	PlayerUUID  string     `json:"player_uuid" gorm:"size:36;index"`
	FirstLogin  *time.Time `json:"first_login_at,omitempty"`
	LastLogin   *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `json:"last_login_ip" gorm:"size:45"`
	LoginCount  uint       `json:"login_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Identity) TableName() string {
	return "player_identities"
}
