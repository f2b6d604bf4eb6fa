package gateway

import (
	"context"
	"slices"
	"sync"

	"stockx.com/internal/quotes/wsmetrics"
)

type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
	Buf  int
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message), Buf: 4096}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := Message{Topic: topic, Payload: payload}

	// fanout：at-most-once，慢订阅者直接丢。持读锁发送，和退订时的 close 互斥
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			wsmetrics.Drop(wsmetrics.DropBrokerFull)
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, b.Buf)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, t := range topics {
			b.subs[t] = slices.DeleteFunc(b.subs[t], func(c chan Message) bool { return c == ch })
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (b *MemBroker) Close() error { return nil }
