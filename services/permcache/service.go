package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

// Presence reports whether an owner currently has a live session. Backed by
// the session registry.
type Presence interface {
	IsOnline(ctx context.Context, ownerID uint) (bool, error)
}

// Service is a cache-aside view over the authoritative permission source,
// plus an advisory online-owner set. The cache is an optimization: every
// redis failure on the read path degrades to a direct source read.
type Service struct {
	client redis.UniversalClient
	source Source
	pres   Presence
	config *config.Config
	logger *logging.Service
}

func NewService(client redis.UniversalClient, source Source, pres Presence, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		client: client,
		source: source,
		pres:   pres,
		config: cfg,
		logger: logger,
	}
}

func (s *Service) snapshotKey(ownerID uint) string {
	return s.config.Redis.KeyPrefix + "perm:" + strconv.FormatUint(uint64(ownerID), 10)
}

func (s *Service) onlineKey() string {
	return s.config.Redis.KeyPrefix + "online_players"
}

// Get returns the owner's snapshot, rebuilding from the authoritative source
// on miss. A missing entry never means "no permissions".
func (s *Service) Get(ctx context.Context, ownerID uint) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(ownerID)).Bytes()
	if err == nil {
		var snapshot Snapshot
		if err := json.Unmarshal(raw, &snapshot); err == nil {
			return &snapshot, nil
		}
		s.logger.Warn("corrupt permission snapshot, rebuilding",
			zap.Uint("owner_id", ownerID))
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("permission cache read failed, falling back to source",
			zap.Uint("owner_id", ownerID),
			zap.Error(err))
	}

	return s.rebuild(ctx, ownerID)
}

func (s *Service) rebuild(ctx context.Context, ownerID uint) (*Snapshot, error) {
	roles, permissions, err := s.source.Load(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	online := false
	if s.pres != nil {
		online, err = s.pres.IsOnline(ctx, ownerID)
		if err != nil {
			s.logger.Warn("presence lookup failed during snapshot rebuild",
				zap.Uint("owner_id", ownerID),
				zap.Error(err))
			online = false
		}
	}

	snapshot := &Snapshot{
		OwnerID:     ownerID,
		Roles:       roles,
		Permissions: permissions,
		Online:      online,
		CachedAt:    time.Now(),
	}

	// Population is best-effort; the snapshot is already correct.
	if payload, err := json.Marshal(snapshot); err == nil {
		if err := s.client.Set(ctx, s.snapshotKey(ownerID), payload, s.config.PermCache.TTL).Err(); err != nil {
			s.logger.Warn("failed to populate permission cache",
				zap.Uint("owner_id", ownerID),
				zap.Error(err))
		}
	}

	s.logger.Debug("permission snapshot rebuilt",
		zap.Uint("owner_id", ownerID),
		zap.Int("roles", len(roles)),
		zap.Int("permissions", len(permissions)),
		zap.Bool("online", online))

	return snapshot, nil
}

// HasPermission consults the cached set with an exact string match.
func (s *Service) HasPermission(ctx context.Context, ownerID uint, permission string) (bool, error) {
	snapshot, err := s.Get(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return snapshot.HasPermission(permission), nil
}

func (s *Service) Roles(ctx context.Context, ownerID uint) ([]string, error) {
	snapshot, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return snapshot.Roles, nil
}

// Invalidate evicts the owner's snapshot; the next Get rebuilds.
func (s *Service) Invalidate(ctx context.Context, ownerID uint) error {
	if err := s.client.Del(ctx, s.snapshotKey(ownerID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate permission snapshot: %w", err)
	}
	return nil
}

// InvalidateAll evicts every entry under the key prefix, the online index
// included.
func (s *Service) InvalidateAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.config.Redis.KeyPrefix+"*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan permission cache keys: %w", err)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to flush permission cache: %w", err)
		}
	}

	s.logger.Info("permission cache flushed", zap.Int("keys", len(keys)))
	return nil
}

// SetOnline updates the advisory presence index. The snapshot is evicted
// first so the next Get rebuilds with current session state; the two writes
// are not transactional and readers must tolerate transient disagreement.
func (s *Service) SetOnline(ctx context.Context, ownerID uint, online bool) error {
	if err := s.Invalidate(ctx, ownerID); err != nil {
		s.logger.Warn("failed to evict snapshot on presence change",
			zap.Uint("owner_id", ownerID),
			zap.Error(err))
	}

	member := strconv.FormatUint(uint64(ownerID), 10)
	var err error
	if online {
		err = s.client.SAdd(ctx, s.onlineKey(), member).Err()
	} else {
		err = s.client.SRem(ctx, s.onlineKey(), member).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update online index: %w", err)
	}

	return nil
}

// OnlineOwners lists the presence index, pruning members whose rebuilt
// snapshot says offline. The result is advisory; precise callers must check
// Snapshot.Online themselves.
func (s *Service) OnlineOwners(ctx context.Context) ([]uint, error) {
	members, err := s.client.SMembers(ctx, s.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read online index: %w", err)
	}

	var online []uint
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 32)
		if err != nil {
			s.client.SRem(ctx, s.onlineKey(), member)
			continue
		}

		snapshot, err := s.Get(ctx, uint(id))
		if err != nil {
			return nil, err
		}
		if snapshot.Online {
			online = append(online, uint(id))
		} else {
			s.client.SRem(ctx, s.onlineKey(), member)
		}
	}

	return online, nil
}
