package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"stockx.com/internal/quotes/cache"
	quotesConfig "stockx.com/internal/quotes/config"
	"stockx.com/internal/quotes/datasource/fyers"
	"stockx.com/internal/quotes/gateway"
	qhttp "stockx.com/internal/quotes/http"
	"stockx.com/internal/quotes/mdsource"
	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/refresh"
	"stockx.com/internal/quotes/storage/influxsink"
	"stockx.com/internal/quotes/store"
	"stockx.com/internal/quotes/symbol"
	"stockx.com/internal/quotes/upstream"
	"stockx.com/internal/quotes/ws"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/metrics"
	"stockx.com/pkg/middleware"
	"stockx.com/pkg/orm"
	"stockx.com/pkg/ratelimit"
	"stockx.com/pkg/safe"
	"stockx.com/pkg/trace"
	"stockx.com/pkg/xredis"
)

type App struct {
	ctx context.Context
	cfg *quotesConfig.QuotesConfig

	db  *gorm.DB
	rdb *redis.Client

	hub      *ws.Hub
	wss      *ws.Server
	streamer *mdsource.Streamer
	cache    *cache.Cache
	broker   gateway.Broker
	gw       *gateway.Gateway
	sink     *influxsink.Sink
	sinkIn   chan model.Tick
	limiter  *ratelimit.Store
	yahoo    *upstream.Client
	scrape   *upstream.Client

	traceShutdown func(context.Context) error
}

func New(cfg *quotesConfig.QuotesConfig) *App {
	return &App{cfg: cfg}
}

// Start 按依赖顺序建好所有组件并拉起后台循环，返回清理函数
func (app *App) Start(ctx context.Context) (func(), error) {
	app.ctx = ctx

	if err := app.startTrace(); err != nil {
		return nil, err
	}
	st, err := app.startStore()
	if err != nil {
		app.cleanup()
		return nil, err
	}
	if err := app.startBroker(); err != nil {
		app.cleanup()
		return nil, err
	}
	app.startInflux()

	app.hub = ws.NewHub()
	app.wss = ws.NewServer(ctx, app.hub)
	app.gw = gateway.NewGateway(app.hub, app.broker)
	app.limiter = middleware.NewRateLimitStore(app.rateLimit())
	app.Reload()

	// 刷新链路：推流快照 -> REST -> 网页
	var snap refresh.StreamSnapshot
	if app.cfg.Stream.Enabled {
		app.streamer = app.newStreamer()
		snap = app.streamer
	}
	app.yahoo = upstream.NewClient(app.cfg.Yahoo.Client)
	app.scrape = upstream.NewClient(app.cfg.Scrape.Client)
	orch := refresh.New(snap,
		upstream.NewYahoo(app.cfg.Yahoo.Base, app.yahoo),
		upstream.NewScraper(app.cfg.Scrape.Base, app.scrape),
	)

	opts := []cache.Option{
		cache.WithOnRefresh(func(q model.Quote) {
			if err := app.gw.PublishQuote(ctx, q); err != nil {
				logger.Warn(ctx, "publish refreshed quote failed", zap.String("symbol", q.Symbol), zap.Error(err))
			}
		}),
	}
	if app.rdb != nil && app.cfg.Redis.Lock {
		opts = append(opts, cache.WithLocker(xredis.NewLocker(app.rdb)))
	}
	app.cache = cache.New(ctx, app.cfg.Cache, st, orch, opts...)

	if err := app.gw.Start(ctx); err != nil {
		app.cleanup()
		return nil, err
	}
	if app.streamer != nil {
		safe.GoNamed(ctx, "stream", app.streamer.Run)
		safe.GoNamed(ctx, "tick-pump", app.pumpTicks)
	}

	logger.Info(ctx, "✅ quotes service components ready",
		zap.Bool("stream", app.streamer != nil),
		zap.Bool("mysql", app.db != nil),
		zap.Bool("redis", app.rdb != nil),
		zap.Bool("influx", app.sink != nil))
	return app.cleanup, nil
}

func (app *App) StartHttp() *http.Server {
	return qhttp.NewServer(app.cfg.HTTP.Addr, app.Handler())
}

func (app *App) Handler() http.Handler {
	deps := qhttp.Deps{
		Cache:    app.cache,
		Hub:      app.hub,
		WS:       app.wss,
		Breakers: []qhttp.BreakerSource{app.yahoo, app.scrape},
		Limiter:  app.limiter,
	}
	if app.streamer != nil {
		deps.Stream = app.streamer
	}
	return qhttp.NewRouter(app.ctx, app.cfg.HTTP, deps)
}

// Reload 配置热更新后调整限流参数
func (app *App) Reload() {
	if app.limiter != nil {
		rl := app.rateLimit()
		app.limiter.Reconfigure(rl.Rate, rl.Burst)
	}
	if app.wss != nil && app.cfg.WS.Rate > 0 {
		app.wss.Limiter.Reconfigure(rate.Limit(app.cfg.WS.Rate), app.cfg.WS.Burst)
	}
}

// OnTick 一条推流 tick：进缓存、广播、写历史
func (app *App) OnTick(ctx context.Context, t model.Tick) {
	var opts []cache.UpsertOption
	// 个股 tick 太密，只在内存里合并；指数落库
	if !symbol.IsIndex(t.Symbol) {
		opts = append(opts, cache.SkipPersist())
	}
	app.cache.Upsert(ctx, t.Symbol, t.Fields(), opts...)

	if err := app.gw.PublishTick(ctx, t); err != nil {
		logger.Warn(ctx, "publish tick failed", zap.String("symbol", t.Symbol), zap.Error(err))
	}
	if app.sinkIn != nil {
		select {
		case app.sinkIn <- t:
		default:
			metrics.StreamTicksDropped.WithLabelValues("influx_full").Inc()
		}
	}
}

func (app *App) pumpTicks(ctx context.Context) {
	in := app.streamer.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-in:
			app.OnTick(ctx, t)
		}
	}
}

func (app *App) newStreamer() *mdsource.Streamer {
	sc := app.cfg.Stream
	var tokens fyers.TokenProvider = fyers.NewTokenFile(sc.TokenFile)
	if sc.AccessToken != "" {
		tokens = fyers.StaticToken(sc.AccessToken)
	}
	s := mdsource.NewStreamer(fyers.NewSource(sc.URL, sc.AppID, tokens), app.hub.DemandSet)
	if sc.ReconnectInterval > 0 {
		s.ReconnectInterval = sc.ReconnectInterval
	}
	if sc.SyncInterval > 0 {
		s.SyncInterval = sc.SyncInterval
	}
	if sc.BatchSize > 0 {
		s.BatchSize = sc.BatchSize
	}
	s.Lite = sc.Lite
	return s
}

func (app *App) startTrace() error {
	if !app.cfg.Trace.Enabled {
		return nil
	}
	shutdown, err := trace.InitTrace(app.cfg.Name, app.cfg.Trace.Host)
	if err != nil {
		return err
	}
	app.traceShutdown = shutdown
	return nil
}

// startStore mysql 为底，redis 在上面做读穿；都没配就用内存
func (app *App) startStore() (cache.Store, error) {
	var (
		st    cache.Store
		next  store.Store
		sqlDB *sql.DB
	)
	if app.cfg.MySQL.DSN != "" {
		db, err := orm.NewMySQL(&app.cfg.MySQL)
		if err != nil {
			return nil, err
		}
		app.db = db
		m := store.NewMySQL(db)
		if err := m.AutoMigrate(); err != nil {
			return nil, err
		}
		next, st = m, m
		sqlDB, _ = db.DB()
		logger.Info(app.ctx, "mysql store ready", zap.String("target", orm.Target(app.cfg.MySQL.DSN)))
	}
	if app.cfg.Redis.Enabled {
		rdb, err := xredis.NewRedis(&app.cfg.Redis.Config)
		if err != nil {
			return nil, err
		}
		app.rdb = rdb
		st = store.NewRedis(rdb, next, app.cfg.Redis.TTL)
	}
	if st == nil {
		st = store.NewMemory()
	}
	if sqlDB != nil || app.rdb != nil {
		safe.GoNamed(app.ctx, "pool-stats", func(ctx context.Context) {
			metrics.WatchPools(ctx, sqlDB, app.rdb, 15*time.Second)
		})
	}
	return st, nil
}

func (app *App) startBroker() error {
	if app.cfg.Nats.URL == "" {
		app.broker = gateway.NewMemBroker()
		return nil
	}
	b, err := gateway.NewNatsBroker(app.cfg.Nats.URL)
	if err != nil {
		return err
	}
	app.broker = b
	return nil
}

func (app *App) startInflux() {
	if !app.cfg.Influx.Enabled {
		return
	}
	app.sink = influxsink.New(app.cfg.Influx)
	app.sinkIn = make(chan model.Tick, 4096)
	logger.Info(app.ctx, "influx sink enabled", zap.Stringer("cfg", app.cfg.Influx))
	safe.GoNamed(app.ctx, "influx-sink", func(ctx context.Context) {
		_ = app.sink.Run(ctx, app.sinkIn)
	})
}

func (app *App) rateLimit() middleware.RateLimitConfig {
	rl := app.cfg.HTTP.RateLimit
	if rl.Rate <= 0 {
		rl = middleware.RateLimitConfig{Rate: 50, Burst: 100, TTL: 10 * time.Minute}
	}
	return rl
}

func (app *App) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if app.broker != nil {
		_ = app.broker.Close()
	}
	if app.sink != nil {
		app.sink.Close()
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if app.traceShutdown != nil {
		if err := app.traceShutdown(ctx); err != nil {
			logger.Error(ctx, "shutdown tracer error", zap.Error(err))
		}
	}
	logger.Sync()
}
