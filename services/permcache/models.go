package permcache

import (
	"time"
)

// Role and Permission are the authoritative grant tables. Assignments bind
// identities to roles; roles carry permissions.
type Role struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"uniqueIndex;size:255;not null"`
	Permissions []Permission `json:"permissions" gorm:"many2many:role_permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Permission struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex;size:255;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// RoleAssignment links an owner (identity id) to a role.
type RoleAssignment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	OwnerID   uint      `json:"owner_id" gorm:"not null;index;uniqueIndex:idx_owner_role"`
	RoleID    uint      `json:"role_id" gorm:"not null;index;uniqueIndex:idx_owner_role"`
	CreatedAt time.Time `json:"created_at"`
}

func (RoleAssignment) TableName() string {
	return "role_assignments"
}

// Snapshot is the derived, disposable cache entry for one owner. It is never
// authoritative; absence means rebuild, not "no permissions".
type Snapshot struct {
	OwnerID     uint      `json:"owner_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Online      bool      `json:"online"`
	CachedAt    time.Time `json:"cached_at"`
}

// HasPermission is an exact string match. Wildcard expansion happens in the
// authoritative source before caching, never here.
func (s *Snapshot) HasPermission(permission string) bool {
	for _, p := range s.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (s *Snapshot) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}
