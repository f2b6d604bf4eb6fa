// Package cache 进程内对每个标的"当前价格"的唯一认知，以及什么时候该去上游刷新。
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/symbol"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
	"stockx.com/pkg/safe"
	"stockx.com/pkg/xerr"
)

type Mode uint8

const (
	// ModeSync 过期就等刷新完成，单个查询用
	ModeSync Mode = iota
	// ModeAsync 过期先返回旧值，后台刷新，列表用
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Store 持久化，Load 在内存 miss 时只查一次
type Store interface {
	LoadInstrument(ctx context.Context, symbol string) (model.Quote, bool, error)
	SaveInstrument(ctx context.Context, q model.Quote) error
}

// Refresher 走数据源降级链拿一份新报价
type Refresher interface {
	Refresh(ctx context.Context, symbol string, prev model.Quote) (model.Quote, error)
}

// Locker 跨节点刷新锁，可以不配
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Config struct {
	IndexMaxAge      time.Duration `mapstructure:"index_max_age"`
	MaxAge           time.Duration `mapstructure:"max_age"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	LockWait         time.Duration `mapstructure:"lock_wait"`
}

func DefaultConfig() Config {
	return Config{
		IndexMaxAge:      time.Minute,
		MaxAge:           15 * time.Minute,
		BatchConcurrency: 16,
		LockTTL:          30 * time.Second,
		LockWait:         2 * time.Second,
	}
}

type entry struct {
	mu       sync.Mutex
	q        model.Quote
	has      bool // 有过任何记录（包括只有时间戳的负缓存）
	hydrated bool // 已经从 store 加载过
}

type Cache struct {
	cfg       Config
	store     Store
	refresher Refresher
	locker    Locker
	onRefresh func(model.Quote)
	now       func() time.Time

	ctx context.Context // 生命周期，后台刷新挂在它下面

	mu    sync.RWMutex
	items map[string]*entry

	sf singleflight.Group
}

type Option func(*Cache)

func WithLocker(l Locker) Option { return func(c *Cache) { c.locker = l } }

// WithOnRefresh 刷新拿到新报价后回调（推给 ws 订阅者）
func WithOnRefresh(fn func(model.Quote)) Option { return func(c *Cache) { c.onRefresh = fn } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New ctx 结束后后台刷新全部停止。store 可以为 nil（纯内存）
func New(ctx context.Context, cfg Config, st Store, r Refresher, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.IndexMaxAge <= 0 {
		cfg.IndexMaxAge = def.IndexMaxAge
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockWait < 0 {
		cfg.LockWait = 0
	}
	c := &Cache{
		cfg:       cfg,
		store:     st,
		refresher: r,
		now:       time.Now,
		ctx:       ctx,
		items:     make(map[string]*entry, 1024),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MaxAge 按标的类别区分：指数 1 分钟，其它 15 分钟
func (c *Cache) MaxAge(sym string) time.Duration {
	if symbol.IsIndex(sym) {
		return c.cfg.IndexMaxAge
	}
	return c.cfg.MaxAge
}

// Fresh 在有效期内且价格不为 0。没有价格字段的记录是负缓存，有效期内也算新鲜
func (c *Cache) Fresh(q model.Quote) bool {
	if q.LastUpdatedAt.IsZero() || q.Age(c.now()) > c.MaxAge(q.Symbol) {
		return false
	}
	return q.HasPrice() || !q.Price.Valid
}

// Read 读一个标的。只有从来没拿到过价格时才返回 NotFound。
func (c *Cache) Read(ctx context.Context, raw string, mode Mode) (model.Quote, error) {
	sym := symbol.Canonical(raw)
	if sym == "" {
		return model.Quote{}, xerr.MappingUnavailable(raw)
	}

	q, ok := c.lookup(ctx, sym)
	if ok && c.Fresh(q) {
		if !q.HasPrice() {
			metrics.CacheReadsTotal.WithLabelValues(mode.String(), "negative").Inc()
			return q, xerr.NotFound(nil)
		}
		metrics.CacheReadsTotal.WithLabelValues(mode.String(), "fresh").Inc()
		return q, nil
	}

	if mode == ModeAsync {
		c.refreshAsync(sym)
		if ok && q.HasPrice() {
			metrics.CacheReadsTotal.WithLabelValues(mode.String(), "stale").Inc()
			return q, nil
		}
		metrics.CacheReadsTotal.WithLabelValues(mode.String(), "not_found").Inc()
		return model.Quote{}, xerr.NotFound(nil)
	}

	got, err := c.refreshWait(ctx, sym)
	if err == nil {
		metrics.CacheReadsTotal.WithLabelValues(mode.String(), "refreshed").Inc()
		return got, nil
	}
	if ok && q.HasPrice() {
		// 等不到刷新结果（调用方超时等），有旧值就给旧值
		metrics.CacheReadsTotal.WithLabelValues(mode.String(), "stale").Inc()
		return q, nil
	}
	metrics.CacheReadsTotal.WithLabelValues(mode.String(), "not_found").Inc()
	return got, err
}

// ReadBatch 列表接口：全部走 async，从没拿到过价格的直接不出现在结果里。顺序和入参一致，重复的只留一个。
func (c *Cache) ReadBatch(ctx context.Context, raws []string) ([]model.Quote, error) {
	syms := make([]string, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, r := range raws {
		s := symbol.Canonical(r)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		syms = append(syms, s)
	}

	res := make([]model.Quote, len(syms))
	hit := make([]bool, len(syms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BatchConcurrency)
	for i, s := range syms {
		g.Go(func() error {
			q, err := c.Read(gctx, s, ModeAsync)
			if err == nil {
				res[i], hit[i] = q, true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := res[:0]
	for i, q := range res {
		if hit[i] {
			out = append(out, q)
		}
	}
	return out, nil
}

type upsertOpts struct {
	skipPersist bool
}

type UpsertOption func(*upsertOpts)

// SkipPersist 只更新内存（个股 tick 太频繁，不落库）
func SkipPersist() UpsertOption { return func(o *upsertOpts) { o.skipPersist = true } }

// Upsert 字段级合并：fields 里为空的字段不会覆盖已有值，LastUpdatedAt 总是打成现在。
// 同一个 symbol 的写串行，不同 symbol 互不影响。
func (c *Cache) Upsert(ctx context.Context, sym string, fields model.Quote, opts ...UpsertOption) model.Quote {
	var o upsertOpts
	for _, fn := range opts {
		fn(&o)
	}
	sym = symbol.Canonical(sym)

	e := c.entry(sym)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !o.skipPersist {
		// 落库前要先拿到库里的完整记录，否则整行写回会冲掉基本面
		c.hydrateLocked(ctx, sym, e)
	}
	e.q.Symbol = sym
	e.q.Merge(fields)
	e.q.LastUpdatedAt = c.now()
	e.q.Tier = fields.Tier
	e.has = true
	out := e.q

	if !o.skipPersist {
		c.persist(ctx, out)
	}
	return out
}

// Peek 只看内存，不查库不刷新
func (c *Cache) Peek(raw string) (model.Quote, bool) {
	sym := symbol.Canonical(raw)
	c.mu.RLock()
	e := c.items[sym]
	c.mu.RUnlock()
	if e == nil {
		return model.Quote{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q, e.has
}

// Len 内存里的标的数
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) entry(sym string) *entry {
	c.mu.RLock()
	e := c.items[sym]
	c.mu.RUnlock()
	if e != nil {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e = c.items[sym]; e == nil {
		e = &entry{}
		c.items[sym] = e
	}
	return e
}

// lookup 内存没有就查一次库
func (c *Cache) lookup(ctx context.Context, sym string) (model.Quote, bool) {
	e := c.entry(sym)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.hydrateLocked(ctx, sym, e)
	return e.q, e.has
}

// hydrateLocked 库里的记录垫在下面，内存里已有的字段（比如 tick）优先
func (c *Cache) hydrateLocked(ctx context.Context, sym string, e *entry) {
	if e.hydrated {
		return
	}
	if c.store == nil {
		e.hydrated = true
		return
	}
	stored, ok, err := c.store.LoadInstrument(ctx, sym)
	if err != nil {
		logger.Warn(ctx, "load instrument failed", zap.String("symbol", sym), zap.Error(err))
		return
	}
	e.hydrated = true
	if !ok {
		return
	}
	if !e.has {
		e.q, e.has = stored, true
		return
	}
	mem := e.q
	stored.Merge(mem)
	if mem.LastUpdatedAt.After(stored.LastUpdatedAt) {
		stored.LastUpdatedAt = mem.LastUpdatedAt
	}
	stored.Symbol, stored.Tier = sym, mem.Tier
	e.q = stored
}

func (c *Cache) persist(ctx context.Context, q model.Quote) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveInstrument(ctx, q); err != nil {
		logger.Error(ctx, "save instrument failed", zap.String("symbol", q.Symbol), zap.Error(err))
	}
}

// touch 刷新全挂时只打时间戳，防止每次读都去打上游
func (c *Cache) touch(ctx context.Context, sym string) model.Quote {
	e := c.entry(sym)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.hydrateLocked(ctx, sym, e)
	e.q.Symbol = sym
	e.q.LastUpdatedAt = c.now()
	e.q.Tier = model.TierCache
	e.has = true
	out := e.q
	c.persist(ctx, out)
	return out
}

func (c *Cache) refreshAsync(sym string) {
	safe.GoNamed(c.ctx, "cache-refresh", func(ctx context.Context) {
		_, _ = c.refresh(ctx, sym)
	})
}

// refreshWait 同一个 symbol 并发的刷新合并成一次；调用方的 ctx 取消只影响它自己等不等
func (c *Cache) refreshWait(ctx context.Context, sym string) (model.Quote, error) {
	ch := c.sf.DoChan(sym, func() (any, error) {
		return c.doRefresh(c.ctx, sym)
	})
	select {
	case <-ctx.Done():
		return model.Quote{}, ctx.Err()
	case r := <-ch:
		q, _ := r.Val.(model.Quote)
		return q, r.Err
	}
}

func (c *Cache) refresh(ctx context.Context, sym string) (model.Quote, error) {
	v, err, _ := c.sf.Do(sym, func() (any, error) {
		return c.doRefresh(ctx, sym)
	})
	q, _ := v.(model.Quote)
	return q, err
}

func (c *Cache) doRefresh(ctx context.Context, sym string) (model.Quote, error) {
	prev, _ := c.lookup(ctx, sym)
	// 排队期间别人已经刷新过了
	if c.Fresh(prev) {
		if !prev.HasPrice() {
			return prev, xerr.NotFound(nil)
		}
		return prev, nil
	}

	if c.locker != nil {
		key := "quotes:refresh:" + sym
		ok, err := c.locker.TryLock(ctx, key, c.cfg.LockTTL)
		if err == nil && !ok {
			return c.awaitPeer(ctx, sym, prev)
		}
		if ok {
			defer func() { _ = c.locker.Unlock(context.WithoutCancel(ctx), key) }()
		}
		// redis 出错就当没有锁，自己刷
	}

	q, err := c.refresher.Refresh(ctx, sym, prev)
	if err == nil {
		out := c.Upsert(ctx, sym, q)
		if c.onRefresh != nil {
			c.onRefresh(out)
		}
		return out, nil
	}
	if xerr.IsKind(err, xerr.KindMappingUnavailable) || ctx.Err() != nil {
		return prev, err
	}

	touched := c.touch(ctx, sym)
	if touched.HasPrice() {
		logger.Warn(ctx, "all tiers failed, serving last known", zap.String("symbol", sym), zap.Error(err))
		return touched, nil
	}
	return touched, xerr.NotFound(err)
}

// awaitPeer 别的节点正在刷新：等一会儿看库里有没有新数据
func (c *Cache) awaitPeer(ctx context.Context, sym string, prev model.Quote) (model.Quote, error) {
	if c.store != nil && c.cfg.LockWait > 0 {
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		deadline := time.NewTimer(c.cfg.LockWait)
		defer deadline.Stop()
	wait:
		for {
			select {
			case <-ctx.Done():
				return prev, ctx.Err()
			case <-deadline.C:
				break wait
			case <-tick.C:
			}
			stored, ok, err := c.store.LoadInstrument(ctx, sym)
			if err != nil || !ok || !stored.LastUpdatedAt.After(prev.LastUpdatedAt) {
				continue
			}
			e := c.entry(sym)
			e.mu.Lock()
			e.q.Symbol = sym
			e.q.Merge(stored)
			e.q.LastUpdatedAt = stored.LastUpdatedAt
			e.q.Tier = model.TierCache
			e.has = true
			out := e.q
			e.mu.Unlock()
			if out.HasPrice() {
				return out, nil
			}
			return out, xerr.NotFound(nil)
		}
	}
	if prev.HasPrice() {
		return prev, nil
	}
	return prev, xerr.NotFound(nil)
}
