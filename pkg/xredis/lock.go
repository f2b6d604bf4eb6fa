package xredis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
)

// 只删自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 跨节点的短锁：同一个 symbol 同一时间只让一个节点去打上游
type Locker struct {
	rdb *redis.Client
	id  string // 当前节点的唯一ID
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, id: uuid.NewString()}
}

func (l *Locker) ID() string { return l.id }

// TryLock SETNX + 过期时间，防止持锁节点挂了之后死锁
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := l.rdb.SetNX(ctx, key, l.id, ttl).Result()
	metrics.ObserveRedis("setnx", start, err)
	if err != nil {
		logger.Warn(ctx, "redis lock error", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return ok, nil
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	start := time.Now()
	err := unlockScript.Run(ctx, l.rdb, []string{key}, l.id).Err()
	metrics.ObserveRedis("unlock", start, err)
	return err
}
