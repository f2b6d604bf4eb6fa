// Package upstream 包装不稳定的第三方行情接口：单次超时、限流重试、熔断。
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"stockx.com/internal/quotes/model"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
	"stockx.com/pkg/ratelimit"
	"stockx.com/pkg/xerr"
)

// Provider 一个能按标准 symbol 查报价的数据源
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (model.Quote, error)
}

type ClientConfig struct {
	Name      string        `mapstructure:"name"`
	Timeout   time.Duration `mapstructure:"timeout"`    // 单次请求超时
	Retries   int           `mapstructure:"retries"`    // 限流后的重试次数，不含第一次
	BaseDelay time.Duration `mapstructure:"base_delay"` // 第一次重试前等待，之后翻倍
	MaxDelay  time.Duration `mapstructure:"max_delay"`

	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:             name,
		Timeout:          10 * time.Second,
		Retries:          3,
		BaseDelay:        2 * time.Second,
		MaxDelay:         30 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  5 * time.Minute,
	}
}

// Budget 一次逻辑调用最长耗时：每次尝试的超时加上全部退避等待
func (c ClientConfig) Budget() time.Duration {
	total := time.Duration(c.Retries+1) * c.Timeout
	d := c.BaseDelay
	for i := 0; i < c.Retries; i++ {
		total += min(d, c.MaxDelay)
		d *= 2
	}
	return total
}

// Client 一个上游一个实例，熔断状态挂在实例上
type Client struct {
	cfg     ClientConfig
	breaker *ratelimit.Breaker
}

func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay << cfg.Retries
	}
	return &Client{
		cfg: cfg,
		breaker: ratelimit.NewBreaker(cfg.Name, ratelimit.BreakerRule{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
	}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Breaker() ratelimit.BreakerState { return c.breaker.Snapshot() }

func (c *Client) Budget() time.Duration { return c.cfg.Budget() }

// Do 执行一次逻辑调用。
// 每次尝试都过熔断；只有限流错误会退避重试，其它错误原样（或包成 Transient）立刻返回。
func Do[T any](ctx context.Context, c *Client, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		var out T
		err := c.breaker.Do(func() error {
			v, err := runOnce(ctx, c.cfg, op)
			out = v
			return err
		})
		c.observe(err)
		if err == nil {
			return out, nil
		}
		if xerr.IsKind(err, xerr.KindRateLimited) {
			return out, err
		}
		return out, backoff.Permanent(err)
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.cfg.MaxDelay,
	}
	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.cfg.Retries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug(ctx, "upstream throttled, backing off",
				zap.String("provider", c.cfg.Name),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err == nil {
		return v, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if xerr.KindOf(err) == xerr.KindUnknown {
		// 退避等待时 ctx 被取消
		err = xerr.Transient(err)
	}
	return v, err
}

// runOnce 单次尝试，带超时；未分类的错误一律算 Transient
func runOnce[T any](ctx context.Context, cfg ClientConfig, op func(ctx context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	v, err := op(actx)
	metrics.UpstreamDuration.WithLabelValues(cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil && xerr.KindOf(err) == xerr.KindUnknown {
		err = xerr.Transient(err)
	}
	return v, err
}

func (c *Client) observe(err error) {
	outcome := "ok"
	if err != nil {
		outcome = xerr.KindOf(err).String()
	}
	metrics.UpstreamCallsTotal.WithLabelValues(c.cfg.Name, outcome).Inc()
}
