package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFlagStore はTTL付きのフラグ（メンテナンスモードなど）
type RedisFlagStore struct {
	client *redis.Client
}

func NewRedisFlagStore(client *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{client: client}
}

func (s *RedisFlagStore) IsSet(ctx context.Context, name string) (bool, error) {
	err := s.client.Get(ctx, "recon:flag:"+name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ttlが0以下なら解除
func (s *RedisFlagStore) Set(ctx context.Context, name string, ttl time.Duration) error {
	key := "recon:flag:" + name
	if ttl <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	return s.client.Set(ctx, key, "1", ttl).Err()
}

type LocalFlagStore struct {
	mu    sync.Mutex
	flags map[string]time.Time
	nowFn func() time.Time
}

func NewLocalFlagStore() *LocalFlagStore {
	return &LocalFlagStore{flags: map[string]time.Time{}, nowFn: time.Now}
}

func (s *LocalFlagStore) IsSet(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.flags[name]
	if !ok {
		return false, nil
	}
	if !s.nowFn().Before(until) {
		delete(s.flags, name)
		return false, nil
	}
	return true, nil
}

func (s *LocalFlagStore) Set(_ context.Context, name string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.flags, name)
		return nil
	}
	s.flags[name] = s.nowFn().Add(ttl)
	return nil
}
