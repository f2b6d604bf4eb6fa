package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"stockx.com/internal/quotes/wsmetrics"
	"stockx.com/pkg/logger"
)

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	base := []nats.Option{
		nats.Name("quotes-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(context.Background(), "⚠️ nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := make(chan Message, 8192)

	// 保存订阅，退出时取消
	subs := make([]*nats.Subscription, 0, len(topics))

	for _, t := range topics {
		sub, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			msg := Message{
				Topic:   subjectToTopic(m.Subject),
				Payload: m.Data,
			}
			// at-most-once：慢消费者直接丢，避免把 NATS 回调卡死
			select {
			case out <- msg:
			default:
				wsmetrics.Drop(wsmetrics.DropBrokerFull)
			}
		})
		if err != nil {
			for _, ss := range subs {
				_ = ss.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	// 监听 ctx.Done 清理。Unsubscribe 之后回调不会再跑，再 close 安全
	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		close(out)
	}()

	return out, nil
}

func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
