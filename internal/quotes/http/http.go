package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"stockx.com/internal/quotes/cache"
	"stockx.com/internal/quotes/ws"
	"stockx.com/pkg/middleware"
	"stockx.com/pkg/ratelimit"
)

type Config struct {
	Addr      string                     `mapstructure:"addr"`
	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit"`
	MaxBatch  int                        `mapstructure:"max_batch"`
	Metrics   bool                       `mapstructure:"metrics"`
	Trace     bool                       `mapstructure:"trace"`
}

// BreakerSource 上游客户端，status 接口展示熔断状态
type BreakerSource interface {
	Breaker() ratelimit.BreakerState
}

// StreamStatus 推流连接状态
type StreamStatus interface {
	Connected() bool
	Subscribed() int
	Dropped() int64
}

type Deps struct {
	Cache    *cache.Cache
	Hub      *ws.Hub
	WS       *ws.Server
	Stream   StreamStatus
	Breakers []BreakerSource
	// Limiter 为空时按 cfg.RateLimit 新建；外部传入便于热更新
	Limiter *ratelimit.Store
}

var (
	promOnce sync.Once
	prom     *ginprom.Prometheus
)

func NewRouter(ctx context.Context, cfg Config, d Deps) *gin.Engine {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.RateLimit.Rate <= 0 {
		cfg.RateLimit = middleware.RateLimitConfig{Rate: 50, Burst: 100, TTL: 10 * time.Minute} // 50 rps，突发 100
	}
	// 限流
	store := d.Limiter
	if store == nil {
		store = middleware.NewRateLimitStore(cfg.RateLimit)
	}
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	if cfg.Metrics {
		// 监控，/metrics 由它注册；指标是全局注册的，只能建一次
		promOnce.Do(func() { prom = ginprom.NewPrometheus("stockx") })
		prom.Use(r)
	}
	if cfg.Trace {
		r.Use(otelgin.Middleware("quotes-service"))
	}
	r.Use(
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)

	h := &handler{deps: d, maxBatch: cfg.MaxBatch}
	api := r.Group("/api", middleware.RateLimit(store))
	stocks := api.Group("/stocks")
	{
		stocks.GET("", h.batchQuery)
		stocks.POST("/batch", h.batchBody)
		stocks.GET("/status", h.status)
		stocks.GET("/:symbol", h.quote)
	}
	if d.WS != nil {
		r.GET("/ws", func(c *gin.Context) { d.WS.ServeWS(c.Writer, c.Request) })
	}
	return r
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// 同步刷新最坏要走完三级，每级 10s
		WriteTimeout:   40 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
