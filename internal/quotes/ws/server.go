package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stockx.com/internal/quotes/wsmetrics"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/ratelimit"
	"stockx.com/pkg/safe"
)

var errRateLimited = errors.New("too many requests")

const maxFlush = 256 // 单次最多写多少条，防止订阅 symbol 极多时一次写爆

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	ctx      context.Context

	// 每个连接的订阅请求限速，key 是连接 id
	Limiter *ratelimit.Store

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration // e.g. 3s
	WriteWait  time.Duration
	ReadLimit  int64

	writers atomic.Int64 // 存活的写协程
}

func NewServer(ctx context.Context, h *Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 跨域交给 gin 的 cors
		},
		Limiter:    ratelimit.NewStore(rate.Limit(20), 40, 10*time.Minute),
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  4 << 10,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(wsConn)
	s.Hub.Attach(c)
	wsmetrics.OnOpen()
	logger.Info(s.ctx, "🔗 ws client connected", zap.String("conn", c.id), zap.String("remote", r.RemoteAddr))

	safe.GoNamed(s.ctx, "ws-write", func(ctx context.Context) { s.writePump(ctx, c) })
	safe.GoNamed(s.ctx, "ws-read", func(ctx context.Context) { s.readPump(ctx, c) })
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	code, reason := websocket.CloseNoStatusReceived, "eof"
	defer func() {
		c.shutdown()
		s.Hub.Disconnect(c.id)
		s.Limiter.Forget(c.id)
		_ = c.ws.Close()
		wsmetrics.OnClose(code, reason)
		logger.Info(ctx, "ws client gone", zap.String("conn", c.id), zap.Int("code", code))
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	//  处理ping/pong
	c.lastPongUnix.Store(time.Now().UnixNano())
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		wsmetrics.Heartbeat(wsmetrics.PongRecv)
		c.lastPongUnix.Store(time.Now().UnixNano())
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, "peer"
			case errors.As(err, &ne) && ne.Timeout():
				code, reason = websocket.CloseAbnormalClosure, "pong_timeout"
				wsmetrics.Heartbeat(wsmetrics.PongTimeout)
			default:
				code, reason = websocket.CloseAbnormalClosure, "read_error"
			}
			return
		}
		s.handle(c, b)
	}
}

// handle 处理一条客户端消息；坏消息直接忽略，不断开
func (s *Server) handle(c *Conn, b []byte) {
	var msg ClientMsg
	if json.Unmarshal(b, &msg) != nil {
		wsmetrics.Drop(wsmetrics.DropBadClientMsg)
		return
	}
	if msg.Type != MsgSubscribe && msg.Type != MsgUnsubscribe {
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow(c.id) {
		op := "sub"
		if msg.Type == MsgUnsubscribe {
			op = "unsub"
		}
		wsmetrics.SubOp(op, wsmetrics.ResultRateLimited)
		c.reply(encodeAck(MsgError, "", errRateLimited))
		return
	}

	for _, raw := range msg.all() {
		switch msg.Type {
		case MsgSubscribe:
			sym, err := s.Hub.Subscribe(c.id, raw)
			if err != nil {
				c.reply(encodeAck(MsgError, raw, err))
				continue
			}
			c.reply(encodeAck(MsgSubscribed, sym, nil))
		case MsgUnsubscribe:
			sym := s.Hub.Unsubscribe(c.id, raw)
			c.reply(encodeAck(MsgUnsubscribed, sym, nil))
		}
	}
}

func (s *Server) writePump(ctx context.Context, c *Conn) {
	s.writers.Add(1)
	defer s.writers.Add(-1)

	// 相当于有个随机数等待，错开大量连接的 ping
	if s.PingJitter > 0 {
		d := time.Duration(rand.Int63n(int64(s.PingJitter)))
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			_ = c.ws.Close()
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.ctrl:
			if err := s.writeBatch(c, [][]byte{b}); err != nil {
				return
			}
		case <-c.notify:
			batch := c.flushLatest(maxFlush)
			if len(batch) == 0 {
				continue
			}
			if err := s.writeBatch(c, batch); err != nil {
				return
			}
			if c.pending() {
				c.wake()
			}
		case <-ticker.C:
			wsmetrics.Heartbeat(wsmetrics.PingSent)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.WriteWait)); err != nil {
				wsmetrics.Heartbeat(wsmetrics.PingError)
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(s.WriteWait))
			return
		}
	}
}

// writeBatch 批量写：一次 NextWriter 写完本批（减少 syscall），多条 JSON 用换行分隔
func (s *Server) writeBatch(c *Conn, batch [][]byte) (err error) {
	start := time.Now()
	n := 0
	defer func() {
		wsmetrics.ObserveWrite(len(batch), n, time.Since(start), err)
	}()

	_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	for i, payload := range batch {
		if i > 0 {
			if _, err = w.Write([]byte("\n")); err != nil {
				_ = w.Close()
				return err
			}
			n++
		}
		if _, err = w.Write(payload); err != nil {
			_ = w.Close()
			return err
		}
		n += len(payload)
	}
	return w.Close()
}
