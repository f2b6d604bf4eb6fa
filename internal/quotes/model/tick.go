package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawTick 券商推过来、还没翻译 symbol 的一条行情
type RawTick struct {
	ProviderID    string
	Price         decimal.Decimal
	Change        decimal.NullDecimal
	ChangePercent decimal.NullDecimal
	High          decimal.NullDecimal
	Low           decimal.NullDecimal
}

// Tick 翻译成标准 symbol 之后的行情，进缓存和推送都用它
type Tick struct {
	Src           string // "fyers"
	Symbol        string // 标准 symbol，例如 RELIANCE.NS / NIFTY 50
	ProviderID    string // 券商原始代码，例如 NSE:RELIANCE-EQ
	Price         decimal.Decimal
	Change        decimal.NullDecimal
	ChangePercent decimal.NullDecimal
	High          decimal.NullDecimal
	Low           decimal.NullDecimal
	At            time.Time
}

// Fields tick 只带行情字段，转成部分 Quote 给缓存合并
func (t Tick) Fields() Quote {
	return Quote{
		Symbol:        t.Symbol,
		Price:         decimal.NewNullDecimal(t.Price),
		Change:        t.Change,
		ChangePercent: t.ChangePercent,
		DayHigh:       t.High,
		DayLow:        t.Low,
		LastUpdatedAt: t.At,
		Tier:          TierStream,
	}
}
