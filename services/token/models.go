package token

import (
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindID      Kind = "id"
)

// Revocation reasons recorded on terminal state transitions.
const (
	ReasonRotated = "rotated"
	ReasonExpired = "expired"
	ReasonLogout  = "logout"
	ReasonManual  = "manual"
)

type Token struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	TokenID          string     `json:"token_id" gorm:"uniqueIndex;size:36;not null"`
	OwnerID          uint       `json:"owner_id" gorm:"not null;index;index:idx_owner_kind"`
	Kind             Kind       `json:"kind" gorm:"size:16;not null;index:idx_owner_kind"`
	SecretHash       string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	SecretCiphertext string     `json:"-" gorm:"type:text"`
	// UpstreamCiphertext holds the provider's refresh token, encrypted, so
	// the upstream session can be renewed alongside the local one.
	UpstreamCiphertext string `json:"-" gorm:"type:text"`
	Scope            string     `json:"scope"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at" gorm:"index;index:idx_revoked_expiry"`
	NotBefore        *time.Time `json:"not_before,omitempty"`
	Revoked          bool       `json:"revoked" gorm:"index;index:idx_revoked_expiry"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty" gorm:"size:64"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	UsageCount       uint       `json:"usage_count"`
	IPAddress        string     `json:"ip_address" gorm:"size:45"`
	UserAgent        string     `json:"user_agent" gorm:"size:500"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Token) TableName() string {
	return "player_tokens"
}

func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *Token) IsNotYetValid(now time.Time) bool {
	return t.NotBefore != nil && now.Before(*t.NotBefore)
}

// Scopes returns the scope field as a set-like slice. Space-delimited strings
// are a serialization detail of the storage layer only.
func (t *Token) Scopes() []string {
	return SplitScope(t.Scope)
}

func SplitScope(scope string) []string {
	if scope == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, s := range strings.Fields(scope) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func JoinScope(scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}

	seen := make(map[string]struct{})
	var out []string
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// Metadata captures the request origin recorded alongside issued tokens.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// IssuedToken pairs the persisted record with the raw secret. The secret is
// only ever available at issuance time.
type IssuedToken struct {
	Token  *Token
	Secret string
}

// RefreshResult is the outcome of exchanging a refresh token. RefreshToken is
// nil when rotation is disabled and the presented token remains valid.
type RefreshResult struct {
	AccessToken  *IssuedToken
	RefreshToken *IssuedToken
	Rotated      bool
}
