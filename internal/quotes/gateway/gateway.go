package gateway

import (
	"context"
	"errors"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/ws"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/safe"
)

// TicksTopic 所有节点共用一个 topic，payload 就是编码好的 priceUpdate
const TicksTopic = "quotes:ticks"

// ErrBrokerClosed broker 在 ctx 结束之前关掉了订阅
var ErrBrokerClosed = errors.New("gateway: broker subscription closed")

// Gateway 生产侧把 tick 发到 broker，消费侧把 broker 消息桥接进本机 hub。
// 多实例时每个节点都能收到别的节点的 tick。
type Gateway struct {
	hub    *ws.Hub
	broker Broker
	done   chan error
}

func NewGateway(hub *ws.Hub, broker Broker) *Gateway {
	return &Gateway{hub: hub, broker: broker, done: make(chan error, 1)}
}

// Start 同步完成订阅，再把 broker -> hub 的桥接放到后台跑。
// 返回之后发出的 tick 不会丢；桥接结束的原因从 Wait 拿。
func (g *Gateway) Start(ctx context.Context) error {
	ch, err := g.subscribe(ctx)
	if err != nil {
		return err
	}
	safe.GoNamed(ctx, "tick-bridge", func(ctx context.Context) {
		err := g.loop(ctx, ch)
		if errors.Is(err, ErrBrokerClosed) {
			logger.Warn(ctx, "tick bridge stopped", zap.Error(err))
		}
		g.done <- err
	})
	return nil
}

// Wait 阻塞到桥接退出：ctx 取消返回 ctx.Err()，broker 提前关闭返回 ErrBrokerClosed
func (g *Gateway) Wait() error {
	return <-g.done
}

func (g *Gateway) subscribe(ctx context.Context) (<-chan Message, error) {
	ch, err := g.broker.Subscribe(ctx, []string{TicksTopic})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "🚀 tick bridge started", zap.String("topic", TicksTopic))
	return ch, nil
}

func (g *Gateway) loop(ctx context.Context, ch <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				// 取消时 broker 也会关 channel，两个 case 谁先到不确定
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrBrokerClosed
			}
			g.deliver(m.Payload)
		}
	}
}

func (g *Gateway) deliver(payload []byte) int {
	var head struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Symbol == "" {
		return 0
	}
	return g.hub.Publish(head.Symbol, payload)
}

// PublishTick：tick 管道调用它，把 tick 发到 broker（单机=内存，多机=跨节点）
func (g *Gateway) PublishTick(ctx context.Context, t model.Tick) error {
	_, b, err := ws.EncodeTick(t)
	if err != nil {
		return err
	}
	return g.publish(ctx, b)
}

// PublishQuote 刷新链路拿到的新报价也推给订阅者
func (g *Gateway) PublishQuote(ctx context.Context, q model.Quote) error {
	if !q.HasPrice() {
		return nil
	}
	_, b, err := ws.EncodeQuote(q)
	if err != nil {
		return err
	}
	return g.publish(ctx, b)
}

func (g *Gateway) publish(ctx context.Context, b []byte) error {
	if err := g.broker.Publish(ctx, TicksTopic, b); err != nil {
		logger.Warn(ctx, "broker publish failed", zap.Error(err))
		return err
	}
	return nil
}
