package metrics

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "app_db_pool_open",
		Help: "Current open DB connections",
	})
	DbPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_idle"})
	DbPoolInuse        = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_inuse"})
	DbPoolWaitCount    = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_wait_count"})
	DbPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_wait_seconds"})

	RedisPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_open"})
	RedisPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})
	RedisPoolStale = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_stale"})
	RedisPoolMiss  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_misses"})

	DbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_db_query_duration_seconds",
		Help:    "DB query latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms ~ 16s
	}, []string{"query", "status"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_redis_cmd_duration_seconds",
		Help:    "Redis command latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"cmd", "status"})
)

// ObserveDB 记录一次查询耗时
func ObserveDB(query string, start time.Time, err error) {
	DbQueryDuration.WithLabelValues(query, status(err)).Observe(time.Since(start).Seconds())
}

// ObserveRedis 记录一次命令耗时，redis.Nil 不算失败
func ObserveRedis(cmd string, start time.Time, err error) {
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	RedisCmdDuration.WithLabelValues(cmd, status(err)).Observe(time.Since(start).Seconds())
}

// WatchPools 周期性采集连接池，db/rdb 可以为 nil
func WatchPools(ctx context.Context, db *sql.DB, rdb *redis.Client, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if db != nil {
			st := db.Stats()
			DbPoolOpen.Set(float64(st.OpenConnections))
			DbPoolIdle.Set(float64(st.Idle))
			DbPoolInuse.Set(float64(st.InUse))
			DbPoolWaitCount.Set(float64(st.WaitCount))
			DbPoolWaitDuration.Set(st.WaitDuration.Seconds())
		}
		if rdb != nil {
			st := rdb.PoolStats()
			RedisPoolOpen.Set(float64(st.TotalConns))
			RedisPoolIdle.Set(float64(st.IdleConns))
			RedisPoolStale.Set(float64(st.StaleConns))
			RedisPoolMiss.Set(float64(st.Misses))
		}
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
