// Package refresh 过期标的的数据源降级链：推流快照 -> REST -> 网页抓取。
package refresh

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/symbol"
	"stockx.com/internal/quotes/upstream"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
	"stockx.com/pkg/xerr"
)

// StreamSnapshot 推流连接上最近收到的 tick
type StreamSnapshot interface {
	Connected() bool
	LastTick(sym string) (model.Tick, bool)
}

type Orchestrator struct {
	stream StreamSnapshot
	rest   upstream.Provider
	scrape upstream.Provider

	// 每一级的最短预算；数据源报告的 Budget 更长时用它的，重试不会被截断
	TierTimeout time.Duration
}

// budgeted 数据源自己知道一次调用（含退避重试）最长要多久
type budgeted interface {
	Budget() time.Duration
}

// New 任意一级都可以传 nil，表示没有这一级
func New(stream StreamSnapshot, rest, scrape upstream.Provider) *Orchestrator {
	return &Orchestrator{
		stream:      stream,
		rest:        rest,
		scrape:      scrape,
		TierTimeout: 10 * time.Second,
	}
}

// Refresh 按顺序尝试，第一个拿到价格的胜出；缺的字段用 prev 补齐。
// 各级的错误只记日志；全部失败返回 NotFound，一级都没法尝试返回 MappingUnavailable。
func (o *Orchestrator) Refresh(ctx context.Context, sym string, prev model.Quote) (model.Quote, error) {
	// 1) 推流快照，不发网络请求
	if o.stream != nil && o.stream.Connected() {
		if t, ok := o.stream.LastTick(sym); ok && t.Price.IsPositive() {
			o.hit(model.TierStream)
			return backfill(sym, t.Fields(), prev), nil
		}
		o.miss(model.TierStream)
	}

	var (
		attempted bool
		errs      []error
	)

	// 2) REST，NSE 不认识就换 BSE
	if o.rest != nil {
		attempted = true
		q, err := o.tier(ctx, o.rest, sym)
		if xerr.IsKind(err, xerr.KindNotFound) {
			if alt, ok := symbol.AlternateListing(sym); ok {
				q, err = o.tier(ctx, o.rest, alt)
			}
		}
		if err == nil && q.HasPrice() {
			o.hit(model.TierREST)
			return backfill(sym, q, prev), nil
		}
		o.miss(model.TierREST)
		errs = append(errs, tierErr(model.TierREST, err))
	}

	// 3) 网页抓取，兜底
	if o.scrape != nil {
		q, err := o.tier(ctx, o.scrape, sym)
		if err == nil && q.HasPrice() {
			o.hit(model.TierScrape)
			return backfill(sym, q, prev), nil
		}
		if !xerr.IsKind(err, xerr.KindMappingUnavailable) {
			attempted = true
		}
		o.miss(model.TierScrape)
		errs = append(errs, tierErr(model.TierScrape, err))
	}

	if !attempted {
		return model.Quote{}, xerr.MappingUnavailable(sym)
	}
	err := errors.Join(errs...)
	logger.Warn(ctx, "⚠️ all refresh tiers failed", zap.String("symbol", sym), zap.Error(err))
	return model.Quote{}, xerr.NotFound(err)
}

func (o *Orchestrator) tier(ctx context.Context, p upstream.Provider, sym string) (model.Quote, error) {
	tctx, cancel := context.WithTimeout(ctx, o.timeoutFor(p))
	defer cancel()

	q, err := p.Quote(tctx, sym)
	switch {
	case err == nil:
	case xerr.IsKind(err, xerr.KindCircuitOpen), xerr.IsKind(err, xerr.KindNotFound):
		// 熔断期间每次都会失败，不刷屏
		logger.Debug(ctx, "refresh tier failed", zap.String("provider", p.Name()), zap.String("symbol", sym), zap.Error(err))
	default:
		logger.Warn(ctx, "refresh tier failed", zap.String("provider", p.Name()), zap.String("symbol", sym), zap.Error(err))
	}
	return q, err
}

func (o *Orchestrator) timeoutFor(p upstream.Provider) time.Duration {
	if b, ok := p.(budgeted); ok {
		if d := b.Budget(); d > o.TierTimeout {
			return d
		}
	}
	return o.TierTimeout
}

func (o *Orchestrator) hit(t model.Tier) {
	metrics.RefreshTierTotal.WithLabelValues(string(t), "hit").Inc()
}
func (o *Orchestrator) miss(t model.Tier) {
	metrics.RefreshTierTotal.WithLabelValues(string(t), "miss").Inc()
}

// backfill 新结果覆盖在 prev 上面：没有的字段沿用旧值，基本面不会被清空
func backfill(sym string, won, prev model.Quote) model.Quote {
	out := prev
	out.Merge(won)
	out.Symbol = sym
	out.Tier = won.Tier
	if !won.LastUpdatedAt.IsZero() {
		out.LastUpdatedAt = won.LastUpdatedAt
	}
	return out
}

func tierErr(t model.Tier, err error) error {
	if err == nil {
		err = xerr.NotFound(errors.New("no price"))
	}
	return &TierError{Tier: t, Err: err}
}

type TierError struct {
	Tier model.Tier
	Err  error
}

func (e *TierError) Error() string { return string(e.Tier) + ": " + e.Err.Error() }
func (e *TierError) Unwrap() error { return e.Err }
