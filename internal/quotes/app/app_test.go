package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quotesConfig "stockx.com/internal/quotes/config"
	"stockx.com/internal/quotes/model"
)

type sink struct {
	mu  sync.Mutex
	got map[string]int
}

func (s *sink) ID() string { return "test-consumer" }

func (s *sink) Offer(topic string, _ []byte) bool {
	s.mu.Lock()
	s.got[topic]++
	s.mu.Unlock()
	return true
}

func (s *sink) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got[topic]
}

func startApp(t *testing.T) *App {
	t.Helper()
	cfg := quotesConfig.Default()
	cfg.HTTP.Metrics = false

	ctx, cancel := context.WithCancel(context.Background())
	a := New(&cfg)
	cleanUp, err := a.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		cleanUp()
	})
	return a
}

func TestApp_StatusWithoutStream(t *testing.T) {
	a := startApp(t)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, a.streamer)
}

func TestApp_OnTickUpdatesCacheAndFansOut(t *testing.T) {
	a := startApp(t)

	c := &sink{got: map[string]int{}}
	a.hub.Attach(c)
	_, err := a.hub.Subscribe(c.ID(), "^NSEI")
	require.NoError(t, err)

	a.OnTick(context.Background(), model.Tick{
		Src:    "fyers",
		Symbol: "NIFTY 50",
		Price:  decimal.RequireFromString("22104.35"),
		At:     time.Now(),
	})

	q, ok := a.cache.Peek("NIFTY 50")
	require.True(t, ok)
	assert.True(t, q.Price.Decimal.Equal(decimal.RequireFromString("22104.35")))

	assert.Eventually(t, func() bool { return c.count("NIFTY 50") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestApp_ReloadAppliesRateLimit(t *testing.T) {
	a := startApp(t)
	a.cfg.WS.Rate, a.cfg.WS.Burst = 1, 1
	a.Reload()

	assert.True(t, a.wss.Limiter.Allow("conn-1"))
	assert.False(t, a.wss.Limiter.Allow("conn-1"))
}
