package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stockx.com/internal/quotes/wsmetrics"
)

// Conn 一个下游连接。行情按 symbol 只留最新一条（LatestOnly），
// 队列上限就是它订阅的 symbol 数，慢客户端不会拖累广播。
type Conn struct {
	id string

	ws     *websocket.Conn
	mu     sync.Mutex
	latest map[string][]byte // LatestOnly：topic -> last payload
	notify chan struct{}     // 缓冲 1：合并唤醒
	ctrl   chan []byte       // 回执走这里，不参与合并
	closed atomic.Bool
	done   chan struct{} // 读端退出时关闭，写端跟着退
	once   sync.Once

	lastPongUnix atomic.Int64 // time.Now().UnixNano()
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		latest: make(map[string][]byte, 64),
		notify: make(chan struct{}, 1),
		ctrl:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// shutdown 标记关闭并通知写端，可重复调用
func (c *Conn) shutdown() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Offer(topic string, payload []byte) bool {
	if c.closed.Load() {
		return false
	}

	c.mu.Lock()
	if _, ok := c.latest[topic]; ok {
		wsmetrics.Drop(wsmetrics.DropConflated)
	}
	c.latest[topic] = payload // hub 已经拷贝过，且不会再改
	c.mu.Unlock()

	c.wake()
	return true
}

// reply 回执；队列满了就丢，客户端可以重发
func (c *Conn) reply(b []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.ctrl <- b:
	default:
		wsmetrics.Drop(wsmetrics.DropCtrlFull)
	}
}

func (c *Conn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.latest) == 0 {
		return nil
	}
	out := make([][]byte, 0, min(len(c.latest), max))
	for k, v := range c.latest {
		out = append(out, v)
		delete(c.latest, k)
		if len(out) >= max {
			break
		}
	}
	return out
}

// pending 还有没写出去的数据（flush 被 max 截断时）
func (c *Conn) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.latest) > 0
}
