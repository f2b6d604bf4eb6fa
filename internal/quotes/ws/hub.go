package ws

import (
	"errors"
	"sort"
	"sync"

	"stockx.com/internal/quotes/symbol"
	"stockx.com/internal/quotes/wsmetrics"
	"stockx.com/pkg/metrics"
)

var (
	ErrUnknownConsumer = errors.New("ws: unknown consumer")
	ErrEmptySymbol     = errors.New("ws: empty symbol")
)

// Consumer 一个下游订阅者。Offer 必须非阻塞，慢消费者自己丢数据。
type Consumer interface {
	ID() string
	Offer(topic string, payload []byte) bool
}

// Hub 订阅表 + 扇出。topic 就是标准 symbol。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]Consumer // symbol -> consumer id -> consumer
	byConn map[string]map[string]struct{} // consumer id -> symbols
	conns  map[string]Consumer
	last   map[string][]byte // symbol -> last payload (snapshot)
	pairs  int               // (consumer, symbol) 对的数量
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[string]Consumer, 1024),
		byConn: make(map[string]map[string]struct{}, 1024),
		conns:  make(map[string]Consumer, 1024),
		last:   make(map[string][]byte, 1024),
	}
}

// Attach 连接建立时登记，订阅集合为空
func (h *Hub) Attach(c Consumer) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.byConn[c.ID()] = make(map[string]struct{}, 8)
	h.mu.Unlock()
}

// Subscribe 归一化后登记，并立刻回放该 symbol 的最新快照。返回标准 symbol。
func (h *Hub) Subscribe(id, raw string) (string, error) {
	sym := symbol.Canonical(raw)
	if sym == "" {
		wsmetrics.SubOp("sub", wsmetrics.ResultRejected)
		return "", ErrEmptySymbol
	}

	// 1) 记录订阅
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		wsmetrics.SubOp("sub", wsmetrics.ResultRejected)
		return "", ErrUnknownConsumer
	}
	set := h.subs[sym]
	if set == nil {
		set = make(map[string]Consumer, 16)
		h.subs[sym] = set
	}
	if _, dup := set[id]; !dup {
		h.pairs++
	}
	set[id] = c
	h.byConn[id][sym] = struct{}{}
	// 2) 取快照（同一把锁里取，避免订阅后立刻 publish 却取不到）
	snap := h.last[sym]
	h.observeLocked()
	h.mu.Unlock()

	wsmetrics.SubOp("sub", wsmetrics.ResultOK)

	// 3) 立即回放最新快照（首包延迟显著下降）
	if snap != nil && c.Offer(sym, snap) {
		wsmetrics.SnapshotReplays.Inc()
	}
	return sym, nil
}

func (h *Hub) Unsubscribe(id, raw string) string {
	sym := symbol.Canonical(raw)

	h.mu.Lock()
	h.removeLocked(id, sym)
	h.observeLocked()
	h.mu.Unlock()

	wsmetrics.SubOp("unsub", wsmetrics.ResultOK)
	return sym
}

// Disconnect 一次性清掉这个连接的全部订阅，立刻不再计入需求集
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	for sym := range h.byConn[id] {
		h.removeLocked(id, sym)
	}
	delete(h.byConn, id)
	delete(h.conns, id)
	h.observeLocked()
	h.mu.Unlock()
}

// observeLocked 需求集和订阅对数量；gauge 的 Set 很轻，持锁调用保证先后顺序
func (h *Hub) observeLocked() {
	metrics.DemandSetSize.Set(float64(len(h.subs)))
	wsmetrics.Subscriptions.Set(float64(h.pairs))
}

func (h *Hub) removeLocked(id, sym string) {
	if set := h.subs[sym]; set != nil {
		if _, ok := set[id]; ok {
			delete(set, id)
			h.pairs--
		}
		if len(set) == 0 {
			delete(h.subs, sym)
		}
	}
	if mine := h.byConn[id]; mine != nil {
		delete(mine, sym)
	}
}

// Publish：把 payload 广播给订阅了这个 symbol 的连接，返回投递数。
// 对每个 conn 都是非阻塞 Offer；慢客户端不会卡住广播。
func (h *Hub) Publish(sym string, payload []byte) int {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	h.mu.Lock()
	h.last[sym] = cp
	set := h.subs[sym]
	targets := make([]Consumer, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	n := 0
	for _, c := range targets {
		if c.Offer(sym, cp) {
			n++
		} else {
			wsmetrics.Drop(wsmetrics.DropClosed)
		}
	}
	wsmetrics.ObservePublish(n)
	return n
}

// DemandSet 所有连接订阅集合的并集
func (h *Hub) DemandSet() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.subs))
	for sym := range h.subs {
		out = append(out, sym)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscriptions 某个连接当前订阅的 symbol
func (h *Hub) Subscriptions(id string) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.byConn[id]))
	for sym := range h.byConn[id] {
		out = append(out, sym)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Pairs (consumer, symbol) 订阅对数量
func (h *Hub) Pairs() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pairs
}

func (h *Hub) Consumers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
