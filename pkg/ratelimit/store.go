package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"stockx.com/pkg/safe"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen int64 // unix nano  最后的时间
}

// Store 按 key（IP / 连接 id）维护令牌桶，长时间不用的 key 由 janitor 清掉
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
	ttl     time.Duration
}

func NewStore(r rate.Limit, burst int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{
		entries: make(map[string]*entry, 1024),
		rate:    r,
		burst:   burst,
		ttl:     ttl,
	}
}

// Allow 判断是否允许通过。允许则返回 true。
func (s *Store) Allow(key string) bool {
	return s.limiterFor(key).Allow()
}

func (s *Store) Wait(ctx context.Context, key string) error {
	return s.limiterFor(key).Wait(ctx)
}

// Forget 连接断开时直接删掉，不用等 janitor
func (s *Store) Forget(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Reconfigure 配置热更新后调整速率，已有的 limiter 一起改
func (s *Store) Reconfigure(r rate.Limit, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate, s.burst = r, burst
	for _, e := range s.entries {
		e.limiter.SetLimit(r)
		e.limiter.SetBurst(burst)
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) limiterFor(key string) *rate.Limiter {
	now := time.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.rate, s.burst), lastSeen: now}
		s.entries[key] = e
		return e.limiter
	}
	atomic.StoreInt64(&e.lastSeen, now)
	return e.limiter
}

func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	safe.GoNamed(ctx, "ratelimit-janitor", func(ctx context.Context) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	})
}

func (s *Store) cleanup() {
	cut := time.Now().Add(-s.ttl).UnixNano()

	s.mu.Lock()
	for k, e := range s.entries {
		if atomic.LoadInt64(&e.lastSeen) < cut {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}
