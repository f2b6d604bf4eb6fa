package fyers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"stockx.com/internal/quotes/mdsource"
	"stockx.com/pkg/logger"
)

const DefaultURL = "wss://socket.fyers.in/hsm/v1-5/prod"

type Source struct {
	URL    string
	AppID  string
	Tokens TokenProvider

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration // 超过这么久没有任何帧就认为断了
	PingEvery    time.Duration
	ReadLimit    int64
}

func NewSource(url, appID string, tokens TokenProvider) *Source {
	if url == "" {
		url = DefaultURL
	}
	return &Source{
		URL:          url,
		AppID:        strings.Trim(appID, `'"`),
		Tokens:       tokens,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingEvery:    20 * time.Second,
		ReadLimit:    1 << 20,
	}
}

func (s *Source) Name() string { return "fyers" }

// Run: 一次连接生命周期（不做重连；重连交给 Streamer）
func (s *Source) Run(ctx context.Context, h mdsource.Handler) error {
	token, err := s.Tokens.AccessToken()
	if err != nil {
		return err
	}

	// Dial timeout：避免网络黑洞卡死
	dctx, cancel := context.WithTimeout(ctx, s.DialTimeout)
	conn, _, err := websocket.Dial(dctx, s.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{s.AppID + ":" + token}},
	})
	cancel()
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.ReadLimit)

	if err := h.OnConnect(ctx, &session{conn: conn, writeTimeout: s.WriteTimeout}); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.readLoop(ctx, conn, h)
	}()

	var pingC <-chan time.Time
	if s.PingEvery > 0 {
		t := time.NewTicker(s.PingEvery)
		defer t.Stop()
		pingC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		case err := <-errCh:
			if status := websocket.CloseStatus(err); status != -1 {
				logger.Info(ctx, "fyers socket closed by peer", zap.Int("status", int(status)))
			}
			return err
		case <-pingC:
			pctx, cancel := context.WithTimeout(ctx, s.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, h mdsource.Handler) error {
	for {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if s.ReadTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, s.ReadTimeout)
		}
		typ, raw, err := conn.Read(rctx)
		cancel()
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.OnDrop("malformed")
			continue
		}

		ticks, bad, err := Decode(raw)
		if errors.Is(err, ErrMalformed) {
			h.OnDrop("malformed")
			continue
		}
		for i := 0; i < bad; i++ {
			h.OnDrop("malformed")
		}
		for _, t := range ticks {
			h.OnTick(t)
		}
	}
}

type subscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Mode    string   `json:"mode"`
}

type session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *session) Subscribe(ctx context.Context, ids []string, lite bool) error {
	mode := "full"
	if lite {
		mode = "lite"
	}
	b, err := json.Marshal(subscribeMsg{Type: "subscribe", Symbols: ids, Mode: mode})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, b)
}

var _ mdsource.Source = (*Source)(nil)
