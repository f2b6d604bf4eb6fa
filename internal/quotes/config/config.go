package config

import (
	"time"

	"stockx.com/internal/quotes/cache"
	qhttp "stockx.com/internal/quotes/http"
	"stockx.com/internal/quotes/storage/influxsink"
	"stockx.com/internal/quotes/upstream"
	"stockx.com/pkg/orm"
	"stockx.com/pkg/xredis"
)

// 总配置，对应 config/quotes-service.yaml
type QuotesConfig struct {
	Name   string            `mapstructure:"name" yaml:"name"`
	Log    LogConfig         `mapstructure:"log" yaml:"log"`
	HTTP   qhttp.Config      `mapstructure:"http" yaml:"http"`
	Stream StreamConfig      `mapstructure:"stream" yaml:"stream"`
	Yahoo  UpstreamConfig    `mapstructure:"yahoo" yaml:"yahoo"`
	Scrape UpstreamConfig    `mapstructure:"scrape" yaml:"scrape"`
	Cache  cache.Config      `mapstructure:"cache" yaml:"cache"`
	MySQL  orm.Config        `mapstructure:"mysql" yaml:"mysql"`
	Redis  RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Nats   NatsConfig        `mapstructure:"nats" yaml:"nats"`
	Influx influxsink.Config `mapstructure:"influx" yaml:"influx"`
	Trace  TraceConfig       `mapstructure:"trace" yaml:"trace"`
	WS     WSConfig          `mapstructure:"ws" yaml:"ws"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// 券商推流
type StreamConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	URL               string        `mapstructure:"url" yaml:"url"`
	AppID             string        `mapstructure:"app_id" yaml:"app_id"`
	AccessToken       string        `mapstructure:"access_token" yaml:"access_token"` // 优先于 token_file
	TokenFile         string        `mapstructure:"token_file" yaml:"token_file"`
	Lite              bool          `mapstructure:"lite" yaml:"lite"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
	SyncInterval      time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size"`
}

type UpstreamConfig struct {
	Base   string                `mapstructure:"base" yaml:"base"`
	Client upstream.ClientConfig `mapstructure:"client" yaml:"client"`
}

type RedisConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	xredis.Config `mapstructure:",squash" yaml:",inline"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Lock          bool          `mapstructure:"lock" yaml:"lock"` // 多节点刷新互斥
}

type NatsConfig struct {
	URL string `mapstructure:"url" yaml:"url"` // 为空用进程内 broker
}

type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
}

type WSConfig struct {
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// Default 配置文件里没写的项用这些值
func Default() QuotesConfig {
	return QuotesConfig{
		Name: "quotes-service",
		Log:  LogConfig{Level: "info"},
		HTTP: qhttp.Config{Addr: ":8080", MaxBatch: 100, Metrics: true},
		Stream: StreamConfig{
			Lite:              true,
			ReconnectInterval: 5 * time.Second,
			SyncInterval:      2 * time.Second,
			BatchSize:         100,
			TokenFile:         "fyers_token.json",
		},
		Yahoo:  UpstreamConfig{Client: upstream.DefaultClientConfig("yahoo")},
		Scrape: UpstreamConfig{Client: upstream.DefaultClientConfig("scrape")},
		Cache:  cache.DefaultConfig(),
		Redis:  RedisConfig{TTL: 10 * time.Minute},
		WS:     WSConfig{Rate: 20, Burst: 40},
	}
}
