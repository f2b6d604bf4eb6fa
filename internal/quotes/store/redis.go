package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"stockx.com/internal/quotes/model"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
)

// Redis 挡在数据库前面的一层：读先查 redis，miss 再查 next 并回填；写两边都写。
// 多实例共享同一份最新报价，重启后也不用全量打 DB。
type Redis struct {
	rdb  *redis.Client
	next Store
	ttl  time.Duration
}

func NewRedis(rdb *redis.Client, next Store, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, next: next, ttl: ttl}
}

func (r *Redis) LoadInstrument(ctx context.Context, symbol string) (model.Quote, bool, error) {
	key := instrumentKey(symbol)

	start := time.Now()
	b, err := r.rdb.Get(ctx, key).Bytes()
	metrics.ObserveRedis("get", start, err)
	switch {
	case err == nil:
		var q model.Quote
		if jerr := json.Unmarshal(b, &q); jerr == nil {
			q.Tier = model.TierCache
			return q, true, nil
		}
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.rdb.Del(ctx, key).Err()
	case !errors.Is(err, redis.Nil):
		logger.Warn(ctx, "redis get failed, fallback to db", zap.String("key", key), zap.Error(err))
	}

	if r.next == nil {
		return model.Quote{}, false, nil
	}
	q, ok, err := r.next.LoadInstrument(ctx, symbol)
	if err != nil || !ok {
		return q, ok, err
	}
	r.set(ctx, q)
	return q, true, nil
}

func (r *Redis) SaveInstrument(ctx context.Context, q model.Quote) error {
	if r.next != nil {
		if err := r.next.SaveInstrument(ctx, q); err != nil {
			return err
		}
	}
	return r.set(ctx, q)
}

func (r *Redis) set(ctx context.Context, q model.Quote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	start := time.Now()
	// 加入随机时间 防止同一批 key 同时过期
	err = r.rdb.Set(ctx, instrumentKey(q.Symbol), b, withJitter(r.ttl, time.Minute)).Err()
	metrics.ObserveRedis("set", start, err)
	return err
}

func instrumentKey(symbol string) string {
	return "quotes:instrument:" + symbol
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	// [0, jitter) 的随机
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
