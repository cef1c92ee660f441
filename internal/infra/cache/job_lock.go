package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 持ち主のときだけ消す
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLock は全インスタンスで1つだけジョブを走らせるためのロック
type RedisJobLock struct {
	client *redis.Client
}

func NewRedisJobLock(client *redis.Client) *RedisJobLock {
	return &RedisJobLock{client: client}
}

func (l *RedisJobLock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := "recon:joblock:" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		//呼び出し元のctxがキャンセル済みでも解放する
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalJobLock はRedisが無い単一インスタンス用
type LocalJobLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

func NewLocalJobLock() *LocalJobLock {
	return &LocalJobLock{held: map[string]time.Time{}, nowFn: time.Now}
}

func (l *LocalJobLock) TryLock(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[name] = until

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[name].Equal(until) {
			delete(l.held, name)
		}
	}
	return release, true, nil
}
