package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stockx.com/pkg/common"
	"stockx.com/pkg/logger"
	"stockx.com/pkg/ratelimit"
	"stockx.com/pkg/xerr"
)

type RateLimitConfig struct {
	Rate  rate.Limit    `mapstructure:"rate"`
	Burst int           `mapstructure:"burst"`
	TTL   time.Duration `mapstructure:"ttl"`
}

func NewRateLimitStore(c RateLimitConfig) *ratelimit.Store {
	return ratelimit.NewStore(c.Rate, c.Burst, c.TTL)
}

func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于“可控拒绝”，不要打堆栈（压测会炸日志）
			logger.Warn(c, "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, http.StatusTooManyRequests, xerr.TooManyRequests, xerr.MapErrMsg(xerr.TooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
