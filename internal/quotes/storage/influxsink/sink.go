package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"stockx.com/internal/quotes/model"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/safe"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`     // 建议从 1000~5000 起步
	FlushInterval time.Duration `mapstructure:"flush_interval"` // 例如 1s
	UseGzip       bool          `mapstructure:"use_gzip"`
}

// Sink tick 历史写 influx，异步批量，不影响主链路
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 1 * time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入错误可能导致阻塞/泄露
	errs := w.Errors()
	safe.Go(func() {
		for err := range errs {
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	})

	return &Sink{client: c, write: w}
}

// Close 会 flush buffer
func (s *Sink) Close() {
	s.client.Close()
}

func (s *Sink) Flush() { s.write.Flush() }

func (s *Sink) WriteTick(t model.Tick) {
	s.write.WritePoint(tickPoint(t))
}

// tickPoint measurement：ticks；tags：symbol/src（注意 tag cardinality）
func tickPoint(t model.Tick) *write.Point {
	tags := map[string]string{
		"symbol": t.Symbol,
		"src":    t.Src,
	}
	fields := map[string]interface{}{
		"price": t.Price.InexactFloat64(),
	}
	if t.Change.Valid {
		fields["change"] = t.Change.Decimal.InexactFloat64()
	}
	if t.ChangePercent.Valid {
		fields["chp"] = t.ChangePercent.Decimal.InexactFloat64()
	}
	if t.High.Valid {
		fields["high"] = t.High.Decimal.InexactFloat64()
	}
	if t.Low.Valid {
		fields["low"] = t.Low.Decimal.InexactFloat64()
	}
	return write.NewPoint("ticks", tags, fields, t.At)
}

// Run 消费 tick 直到 ctx 结束或 in 关闭
func (s *Sink) Run(ctx context.Context, in <-chan model.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-in:
			if !ok {
				return nil
			}
			s.WriteTick(t)
		}
	}
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
