// Package store 报价的持久化。缓存只依赖 Store 接口，具体是内存、MySQL 还是带 Redis 的组合由启动时决定。
package store

import (
	"context"

	"stockx.com/internal/quotes/model"
)

// Store 按标准 symbol 读写一条报价。ok=false 表示从没存过。
type Store interface {
	LoadInstrument(ctx context.Context, symbol string) (q model.Quote, ok bool, err error)
	SaveInstrument(ctx context.Context, q model.Quote) error
}
