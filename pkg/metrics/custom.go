package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stockx"

var (
	// 熔断
	CBState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open).",
	}, []string{"name"})

	CBRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_reject_total",
		Help:      "Calls rejected while the breaker was open.",
	}, []string{"name"})

	// 上游调用，outcome: ok/transient/rate_limited/circuit_open/not_found
	UpstreamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_calls_total",
		Help:      "Upstream attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_call_duration_seconds",
		Help:      "Upstream attempt latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms ~ 20s
	}, []string{"provider"})

	// 刷新链路，tier: stream/rest/scrape，result: hit/miss
	RefreshTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_tier_total",
		Help:      "Refresh fallback chain results per tier.",
	}, []string{"tier", "result"})

	// 缓存读，result: fresh/stale/refreshed/negative/not_found
	CacheReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_reads_total",
		Help:      "Instrument cache reads by result.",
	}, []string{"mode", "result"})

	// 推流
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_connected",
		Help:      "1 when the broker socket is connected.",
	})
	StreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Broker socket connection attempts after a drop.",
	})
	StreamSubscribedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_subscribed_symbols",
		Help:      "Symbols currently subscribed upstream.",
	})
	StreamTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_ticks_total",
		Help:      "Ticks accepted from the broker socket.",
	})
	StreamTicksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_ticks_dropped_total",
		Help:      "Ticks dropped, by reason (malformed/unmapped/backpressure/influx_full).",
	}, []string{"reason"})

	DemandSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "demand_set_size",
		Help:      "Distinct symbols wanted by downstream consumers.",
	})
)
