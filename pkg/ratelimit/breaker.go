package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
	"stockx.com/pkg/xerr"
)

type BreakerRule struct {
	// 连续计数错误达到阈值就打开
	Threshold uint32
	// 打开持续多久，到期后下一次调用时才关闭（惰性，不靠定时器）
	Cooldown time.Duration
	// Counts 哪些错误计入熔断，nil 表示只有限流错误计入
	Counts func(err error) bool
}

// BreakerState 给状态接口看的快照
type BreakerState struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutiveFailures"`
	OpenUntil           time.Time `json:"openUntil"`
}

// Breaker 对 gobreaker 的一层包装：
// 只有 Counts 认可的错误累加计数，其它错误既不算成功也不算失败；
// Open 到期后第一次调用先把状态拉回 Closed，再执行真正的请求。
type Breaker struct {
	name string
	rule BreakerRule
	cb   *gobreaker.CircuitBreaker[struct{}]

	mu        sync.Mutex
	openUntil time.Time

	// 真实请求持读锁；settle 持写锁，空探测执行时 half-open 里没有别的请求
	gate sync.RWMutex
}

func NewBreaker(name string, rule BreakerRule) *Breaker {
	if rule.Threshold == 0 {
		rule.Threshold = 5
	}
	if rule.Cooldown <= 0 {
		rule.Cooldown = 5 * time.Minute
	}
	if rule.Counts == nil {
		rule.Counts = func(err error) bool { return xerr.IsKind(err, xerr.KindRateLimited) }
	}

	b := &Breaker{name: name, rule: rule}
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name: name,
		// half-open 只放一个探测，探测成功即关闭
		MaxRequests: 1,
		Timeout:     rule.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= rule.Threshold
		},
		IsExcluded: func(err error) bool {
			return err != nil && !rule.Counts(err)
		},
		// 在 gobreaker 的锁里回调，这里不能再调 b.cb 的方法
		OnStateChange: b.onStateChange,
	})
	metrics.CBState.WithLabelValues(name).Set(0)
	return b
}

// Do 经过熔断执行 fn。熔断打开时不执行 fn，返回 CircuitOpen。
func (b *Breaker) Do(fn func() error) error {
	for {
		b.settle()

		b.gate.RLock()
		_, err := b.cb.Execute(func() (struct{}, error) {
			return struct{}{}, fn()
		})
		b.gate.RUnlock()

		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			// 冷却刚到期，half-open 被另一个请求占着；settle 会等它结束，再按结果走
			continue
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CBRejectTotal.WithLabelValues(b.name).Inc()
			return xerr.CircuitOpen(err)
		}
		if err != nil && b.rule.Counts(err) && b.cb.State() == gobreaker.StateOpen {
			// 这一次正好把熔断打开
			return xerr.CircuitOpen(err)
		}
		return err
	}
}

// Open 当前是否处于打开且未到期
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) Snapshot() BreakerState {
	b.settle()
	st := b.cb.State()
	s := BreakerState{
		Name:                b.name,
		State:               st.String(),
		ConsecutiveFailures: b.cb.Counts().ConsecutiveFailures,
	}
	if st == gobreaker.StateOpen {
		b.mu.Lock()
		s.OpenUntil = b.openUntil
		b.mu.Unlock()
	}
	return s
}

// settle 到期的 Open 在 State() 里会变成 HalfOpen，这里用一个空探测把它关掉，
// 之后的真实请求按 Closed 计数。
func (b *Breaker) settle() {
	if b.cb.State() != gobreaker.StateHalfOpen {
		return
	}
	b.gate.Lock()
	defer b.gate.Unlock()
	if b.cb.State() == gobreaker.StateHalfOpen {
		_, _ = b.cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
	}
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	ctx := context.Background()
	switch to {
	case gobreaker.StateOpen:
		until := time.Now().Add(b.rule.Cooldown)
		b.mu.Lock()
		b.openUntil = until
		b.mu.Unlock()
		metrics.CBState.WithLabelValues(name).Set(1)
		logger.Warn(ctx, "🔌 circuit breaker opened",
			zap.String("name", name),
			zap.Uint32("threshold", b.rule.Threshold),
			zap.Time("open_until", until))
	case gobreaker.StateClosed:
		b.mu.Lock()
		b.openUntil = time.Time{}
		b.mu.Unlock()
		metrics.CBState.WithLabelValues(name).Set(0)
		logger.Info(ctx, "✅ circuit breaker closed", zap.String("name", name), zap.String("from", from.String()))
	}
}
