package gateway

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker 节点间转发 tick。单机用内存实现，多实例部署换成 NATS。
type Broker interface {
	// publish
	Publish(ctx context.Context, topic string, payload []byte) error
	// 订阅，ctx 结束后 channel 关闭
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	// 关闭
	Close() error
}
