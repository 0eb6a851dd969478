package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds device authorizations for the lifetime of the flow. Consume
// must be atomic: when two callers race, exactly one receives the entry.
type Store interface {
	Put(ctx context.Context, auth *DeviceAuthorization, ttl time.Duration) error
	Get(ctx context.Context, userCode string) (*DeviceAuthorization, error)
	Delete(ctx context.Context, userCode string) error
	Consume(ctx context.Context, userCode string) (*DeviceAuthorization, error)
}

// ErrAuthorizationNotFound is returned when no live entry exists for the
// user code.
var ErrAuthorizationNotFound = errors.New("device authorization not found")

type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(userCode string) string {
	return s.keyPrefix + "device:" + userCode
}

func (s *RedisStore) Put(ctx context.Context, auth *DeviceAuthorization, ttl time.Duration) error {
	payload, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("marshal device authorization: %w", err)
	}
	if err := s.client.Set(ctx, s.key(auth.UserCode), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist device authorization: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	raw, err := s.client.Get(ctx, s.key(userCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAuthorizationNotFound
		}
		return nil, fmt.Errorf("load device authorization: %w", err)
	}
	return decode(raw)
}

func (s *RedisStore) Delete(ctx context.Context, userCode string) error {
	if err := s.client.Del(ctx, s.key(userCode)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete device authorization: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the entry via GETDEL, so exactly one
// of any number of concurrent callers wins.
func (s *RedisStore) Consume(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	raw, err := s.client.GetDel(ctx, s.key(userCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAuthorizationNotFound
		}
		return nil, fmt.Errorf("consume device authorization: %w", err)
	}
	return decode(raw)
}

func decode(raw []byte) (*DeviceAuthorization, error) {
	var auth DeviceAuthorization
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("decode device authorization: %w", err)
	}
	return &auth, nil
}
