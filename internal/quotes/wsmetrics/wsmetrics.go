// Package wsmetrics 推送通道的指标：/ws 连接、订阅表、扇出和写出。
package wsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "stockx"
	subsystem = "ws"
)

// 丢弃原因
const (
	DropConflated    = "conflated" // 同一 symbol 还没写出去就被新价覆盖
	DropCtrlFull     = "ctrl_full" // 回执队列满
	DropClosed       = "closed"    // 连接已关
	DropBadClientMsg = "bad_client_msg"
	DropBrokerFull   = "broker_full" // 跨节点 broker 订阅缓冲满
)

// 心跳事件
const (
	PingSent    = "ping_sent"
	PingError   = "ping_error"
	PongRecv    = "pong"
	PongTimeout = "pong_timeout"
)

// 订阅操作结果
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultRateLimited = "rate_limited"
)

var (
	Consumers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "consumers",
		Help: "Connected price consumers",
	})
	ConnClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "conn_closed_total",
		Help: "Consumer connections closed, by close code and reason",
	}, []string{"code", "reason"})

	// Subscriptions (consumer, symbol) 对的数量；需求集大小看 stockx_demand_set_size
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "subscriptions",
		Help: "Live (consumer, symbol) subscription pairs",
	})
	SubOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "sub_ops_total",
		Help: "Subscribe/unsubscribe requests by result",
	}, []string{"op", "result"})
	SnapshotReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "snapshot_replays_total",
		Help: "Last known price replayed to a consumer right after subscribe",
	})
	Fanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "fanout_consumers",
		Help:    "Consumers reached by one price publish",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})
	Dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "dropped_total",
		Help: "Price/control messages not delivered, by reason",
	}, []string{"why"})
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "heartbeats_total",
		Help: "Ping/pong events",
	}, []string{"event"})

	MsgsOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "msgs_out_total",
		Help: "Logical messages written to consumers (not frames)",
	})
	BytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "bytes_out_total",
		Help: "Bytes written to consumers",
	})
	WriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "write_errors_total",
		Help: "Failed batch writes",
	})
	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "write_duration_seconds",
		Help:    "Duration of one batch write",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "batch_size",
		Help:    "Messages per batch write",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
)

func OnOpen() { Consumers.Inc() }

func OnClose(code int, reason string) {
	Consumers.Dec()
	ConnClosed.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func SubOp(op, result string) { SubOps.WithLabelValues(op, result).Inc() }

func Drop(why string) { Dropped.WithLabelValues(why).Inc() }

func Heartbeat(event string) { Heartbeats.WithLabelValues(event).Inc() }

// ObservePublish 一次 publish 投递到的连接数
func ObservePublish(delivered int) { Fanout.Observe(float64(delivered)) }

func ObserveWrite(batchN int, bytes int, dur time.Duration, err error) {
	if batchN > 0 {
		MsgsOut.Add(float64(batchN))
		BatchSize.Observe(float64(batchN))
	}
	if bytes > 0 {
		BytesOut.Add(float64(bytes))
	}
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrors.Inc()
	}
}
