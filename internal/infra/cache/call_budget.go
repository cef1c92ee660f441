package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCallBudget は1分単位の固定ウィンドウで外部API呼び出しを数える
type RedisCallBudget struct {
	client *redis.Client
	limit  int64
	nowFn  func() time.Time
}

func NewRedisCallBudget(client *redis.Client, perMinute int) *RedisCallBudget {
	return &RedisCallBudget{client: client, limit: int64(perMinute), nowFn: time.Now}
}

func (b *RedisCallBudget) Allow(ctx context.Context, key string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	window := b.nowFn().Unix() / 60
	redisKey := "recon:budget:" + key + ":" + strconv.FormatInt(window, 10)

	var incr *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.Expire(ctx, redisKey, 2*time.Minute)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= b.limit, nil
}

// LocalCallBudget はプロセス内の同じ仕組み
type LocalCallBudget struct {
	mu     sync.Mutex
	limit  int64
	window int64
	counts map[string]int64
	nowFn  func() time.Time
}

func NewLocalCallBudget(perMinute int) *LocalCallBudget {
	return &LocalCallBudget{limit: int64(perMinute), counts: map[string]int64{}, nowFn: time.Now}
}

func (b *LocalCallBudget) Allow(_ context.Context, key string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.nowFn().Unix() / 60
	if window != b.window {
		b.window = window
		b.counts = map[string]int64{}
	}
	b.counts[key]++
	return b.counts[key] <= b.limit, nil
}
