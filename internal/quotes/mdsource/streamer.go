package mdsource

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/symbol"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
	"stockx.com/pkg/safe"
)

// DemandFunc 返回当前下游想要的标准 symbol 集合
type DemandFunc func() []string

// Streamer 维护唯一一条上游推流连接：
// 断线固定间隔重连；每次连上全量订阅一次；之后每个同步周期只补订新增的 symbol，从不退订。
type Streamer struct {
	src    Source
	demand DemandFunc
	out    chan model.Tick

	ReconnectInterval time.Duration // 5s
	SyncInterval      time.Duration // 2s
	BatchSize         int
	Lite              bool

	now func() time.Time

	connected atomic.Bool
	dropped   atomic.Int64

	// subMu 串行化全量订阅和增量同步，保证重连后的全量只发一次
	subMu      sync.Mutex
	mu         sync.RWMutex
	session    Session
	subscribed map[string]struct{} // 标准 symbol
	last       map[string]model.Tick
}

func NewStreamer(src Source, demand DemandFunc) *Streamer {
	return &Streamer{
		src:               src,
		demand:            demand,
		out:               make(chan model.Tick, 8192),
		ReconnectInterval: 5 * time.Second,
		SyncInterval:      2 * time.Second,
		BatchSize:         100,
		Lite:              true,
		now:               time.Now,
		subscribed:        make(map[string]struct{}),
		last:              make(map[string]model.Tick),
	}
}

// Ticks 翻译好的 tick 流，满了直接丢
func (s *Streamer) Ticks() <-chan model.Tick { return s.out }

func (s *Streamer) Connected() bool { return s.connected.Load() }

// Dropped 被丢弃的 tick 数（格式错误 / 翻译失败 / 下游积压）
func (s *Streamer) Dropped() int64 { return s.dropped.Load() }

// LastTick 最近一条 tick，刷新链路的第一级
func (s *Streamer) LastTick(sym string) (model.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[sym]
	return t, ok
}

// Subscribed 当前认为已在上游订阅的 symbol 数
func (s *Streamer) Subscribed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribed)
}

// Run 阻塞到 ctx 取消：重连监督 + 周期同步
func (s *Streamer) Run(ctx context.Context) {
	safe.GoNamed(ctx, "stream-sync", s.syncLoop)
	s.supervise(ctx)
}

func (s *Streamer) supervise(ctx context.Context) {
	var lastErr string
	for ctx.Err() == nil {
		err := s.src.Run(ctx, s)
		s.disconnected()
		if ctx.Err() != nil {
			return
		}
		// 同样的错误只记一次，避免 token 缺失时每 5s 刷一条
		if msg := errString(err); msg != lastErr {
			lastErr = msg
			logger.Warn(ctx, "📡 stream disconnected, will retry",
				zap.String("source", s.src.Name()),
				zap.Duration("every", s.ReconnectInterval),
				zap.Error(err))
		}

		timer := time.NewTimer(s.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		metrics.StreamReconnectsTotal.Inc()
	}
}

func (s *Streamer) syncLoop(ctx context.Context) {
	t := time.NewTicker(s.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.sync(ctx); err != nil {
				logger.Warn(ctx, "stream subscription sync failed", zap.Error(err))
			}
		}
	}
}

// OnConnect 新连接：上游不记得之前的订阅，全量重订
func (s *Streamer) OnConnect(ctx context.Context, sess Session) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	s.session = sess
	s.subscribed = make(map[string]struct{})
	s.mu.Unlock()

	s.connected.Store(true)
	metrics.StreamConnected.Set(1)
	logger.Info(ctx, "📡 stream connected", zap.String("source", s.src.Name()))

	return s.syncLocked(ctx, true)
}

func (s *Streamer) OnTick(raw model.RawTick) {
	sym, ok := symbol.FromProvider(raw.ProviderID)
	if !ok {
		s.OnDrop("unmapped")
		return
	}
	t := model.Tick{
		Src:           s.src.Name(),
		Symbol:        sym,
		ProviderID:    raw.ProviderID,
		Price:         raw.Price,
		Change:        raw.Change,
		ChangePercent: raw.ChangePercent,
		High:          raw.High,
		Low:           raw.Low,
		At:            s.now(),
	}

	s.mu.Lock()
	s.last[sym] = t
	s.mu.Unlock()
	metrics.StreamTicksTotal.Inc()

	select {
	case s.out <- t:
	default:
		s.OnDrop("backpressure")
	}
}

func (s *Streamer) OnDrop(reason string) {
	s.dropped.Add(1)
	metrics.StreamTicksDropped.WithLabelValues(reason).Inc()
}

func (s *Streamer) disconnected() {
	s.mu.Lock()
	s.session = nil
	s.subscribed = make(map[string]struct{})
	s.mu.Unlock()

	if s.connected.Swap(false) {
		metrics.StreamConnected.Set(0)
	}
	metrics.StreamSubscribedSymbols.Set(0)
}

func (s *Streamer) sync(ctx context.Context) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.syncLocked(ctx, false)
}

// syncLocked full=true 时订阅整个需求集，否则只订阅还没订阅过的。调用方持有 subMu。
func (s *Streamer) syncLocked(ctx context.Context, full bool) error {
	demand := s.demand()
	s.mu.RLock()
	sess := s.session
	var want []string
	for _, sym := range demand {
		if _, done := s.subscribed[sym]; full || !done {
			want = append(want, sym)
		}
	}
	s.mu.RUnlock()
	if sess == nil || len(want) == 0 {
		return nil
	}
	sort.Strings(want)

	var indices, equities, skipped []string
	for _, sym := range want {
		id, ok := symbol.ToProvider(sym)
		if !ok {
			skipped = append(skipped, sym)
			continue
		}
		if symbol.IsIndex(sym) {
			indices = append(indices, id)
		} else {
			equities = append(equities, id)
		}
	}
	if len(skipped) > 0 {
		logger.Debug(ctx, "symbols without provider mapping", zap.Strings("symbols", skipped))
	}

	var errs []error
	for _, group := range [][]string{indices, equities} {
		for _, batch := range chunk(group, s.BatchSize) {
			if err := sess.Subscribe(ctx, batch, s.Lite); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		// 这一轮都不记为已订阅，下个周期整体重试
		return errors.Join(errs...)
	}

	s.mu.Lock()
	if s.session == sess {
		for _, sym := range want {
			s.subscribed[sym] = struct{}{}
		}
		metrics.StreamSubscribedSymbols.Set(float64(len(s.subscribed)))
	}
	s.mu.Unlock()

	logger.Info(ctx, "📡 stream subscribed",
		zap.Bool("full", full),
		zap.Int("indices", len(indices)),
		zap.Int("equities", len(equities)))
	return nil
}

func chunk(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(ids)
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	return append(out, ids)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
