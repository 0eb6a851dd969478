package permcache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Source is the authoritative read path for an owner's grants.
type Source interface {
	Load(ctx context.Context, ownerID uint) (roles []string, permissions []string, err error)
}

// GormSource resolves roles and permissions from the relational tables and
// expands wildcard grants (`admin.*`) against the known permission set.
type GormSource struct {
	db *gorm.DB
}

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) Load(ctx context.Context, ownerID uint) ([]string, []string, error) {
	var roleIDs []uint
	err := s.db.WithContext(ctx).Model(&RoleAssignment{}).
		Where("owner_id = ?", ownerID).
		Pluck("role_id", &roleIDs).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load role assignments: %w", err)
	}

	if len(roleIDs) == 0 {
		return []string{}, []string{}, nil
	}

	var roles []Role
	err = s.db.WithContext(ctx).Preload("Permissions").
		Where("id IN ?", roleIDs).
		Find(&roles).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load roles: %w", err)
	}

	roleNames := make([]string, 0, len(roles))
	permSet := make(map[string]struct{})
	var wildcards []string

	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
		for _, perm := range role.Permissions {
			permSet[perm.Name] = struct{}{}
			if strings.HasSuffix(perm.Name, ".*") {
				wildcards = append(wildcards, perm.Name)
			}
		}
	}

	if len(wildcards) > 0 {
		if err := s.expand(ctx, wildcards, permSet); err != nil {
			return nil, nil, err
		}
	}

	permissions := make([]string, 0, len(permSet))
	for p := range permSet {
		permissions = append(permissions, p)
	}
	sort.Strings(roleNames)
	sort.Strings(permissions)

	return roleNames, permissions, nil
}

func (s *GormSource) expand(ctx context.Context, wildcards []string, permSet map[string]struct{}) error {
	var all []string
	if err := s.db.WithContext(ctx).Model(&Permission{}).Pluck("name", &all).Error; err != nil {
		return fmt.Errorf("failed to expand wildcard permissions: %w", err)
	}

	for _, wildcard := range wildcards {
		prefix := strings.TrimSuffix(wildcard, "*")
		for _, name := range all {
			if strings.HasPrefix(name, prefix) && !strings.HasSuffix(name, ".*") {
				permSet[name] = struct{}{}
			}
		}
	}
	return nil
}
