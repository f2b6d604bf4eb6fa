package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/ws"
)

type sink struct {
	id string
	mu sync.Mutex
	n  map[string]int
}

func (s *sink) ID() string { return s.id }

func (s *sink) Offer(topic string, _ []byte) bool {
	s.mu.Lock()
	s.n[topic]++
	s.mu.Unlock()
	return true
}

func (s *sink) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n[topic]
}

func TestGateway_MemRoundTrip(t *testing.T) {
	hub := ws.NewHub()
	c := &sink{id: "c1", n: map[string]int{}}
	hub.Attach(c)
	_, err := hub.Subscribe("c1", "NIFTY 50")
	require.NoError(t, err)

	g := NewGateway(hub, NewMemBroker())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))

	require.NoError(t, g.PublishTick(ctx, model.Tick{Symbol: "NIFTY 50", Price: decimal.NewFromInt(22100), At: time.Now()}))
	require.Eventually(t, func() bool { return c.count("NIFTY 50") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, g.PublishQuote(ctx, model.Quote{Symbol: "TCS.NS"}), "没价格直接跳过")

	cancel()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

// 取消和 channel 关闭同时到，退出原因都要是 ctx.Err()
func TestGateway_StopReasonOnCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		g := NewGateway(ws.NewHub(), NewMemBroker())
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, g.Start(ctx))
		cancel()
		assert.ErrorIs(t, g.Wait(), context.Canceled)
	}
}

func TestGateway_BrokerClosedEarly(t *testing.T) {
	ch := make(chan Message)
	g := NewGateway(ws.NewHub(), nil)
	close(ch)
	assert.ErrorIs(t, g.loop(context.Background(), ch), ErrBrokerClosed)
}

func TestMemBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, []string{TicksTopic})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), TicksTopic, []byte(`x`)))
	m := <-ch
	assert.Equal(t, TicksTopic, m.Topic)

	cancel()
	_, ok := <-ch
	for ok {
		_, ok = <-ch
	}
	// channel 已关闭，再发不能 panic
	assert.NoError(t, b.Publish(context.Background(), TicksTopic, []byte(`y`)))
}

func TestGateway_DeliverIgnoresGarbage(t *testing.T) {
	g := NewGateway(ws.NewHub(), NewMemBroker())
	assert.Zero(t, g.deliver([]byte(`nope`)))
	assert.Zero(t, g.deliver([]byte(`{"type":"priceUpdate"}`)))
}

func TestSubjectMapping(t *testing.T) {
	assert.Equal(t, "quotes.ticks", topicToSubject(TicksTopic))
	assert.Equal(t, TicksTopic, subjectToTopic("quotes.ticks"))
}

func TestGateway_StartSubscribesBeforeReturn(t *testing.T) {
	hub := ws.NewHub()
	c := &sink{id: "c1", n: map[string]int{}}
	hub.Attach(c)
	_, err := hub.Subscribe("c1", "RELIANCE.NS")
	require.NoError(t, err)

	g := NewGateway(hub, NewMemBroker())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))

	// Start 返回后立即发布，一条都不丢
	require.NoError(t, g.PublishTick(ctx, model.Tick{Symbol: "RELIANCE.NS", Price: decimal.NewFromInt(2950), At: time.Now()}))
	assert.Eventually(t, func() bool { return c.count("RELIANCE.NS") == 1 }, 2*time.Second, 10*time.Millisecond)
}
