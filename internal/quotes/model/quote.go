package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier 这份数据是从哪一级数据源拿到的，只用于日志和测试，不落库
type Tier string

const (
	TierNone   Tier = ""
	TierStream Tier = "stream"
	TierREST   Tier = "rest"
	TierScrape Tier = "scrape"
	TierCache  Tier = "cache"
)

// Quote 一个标的的当前认知。数值字段都可以为空，合并时空值不覆盖已有值。
type Quote struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`

	Price         decimal.NullDecimal `json:"price"`
	Change        decimal.NullDecimal `json:"change"`
	ChangePercent decimal.NullDecimal `json:"changePercent"`
	DayHigh       decimal.NullDecimal `json:"dayHigh"`
	DayLow        decimal.NullDecimal `json:"dayLow"`
	High52Week    decimal.NullDecimal `json:"high52Week"`
	Low52Week     decimal.NullDecimal `json:"low52Week"`

	// 基本面，行情 tick 里没有，绝不能被 tick 冲掉
	MarketCap decimal.NullDecimal `json:"marketCap"`
	PERatio   decimal.NullDecimal `json:"peRatio"`
	PBRatio   decimal.NullDecimal `json:"pbRatio"`

	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	Tier          Tier      `json:"-"`
}

// Merge 字段级合并：u 里有值的字段覆盖 q，空字段保持 q 原值。
// LastUpdatedAt 和 Tier 由调用方决定，这里不动。
func (q *Quote) Merge(u Quote) {
	if u.Name != "" {
		q.Name = u.Name
	}
	if u.Exchange != "" {
		q.Exchange = u.Exchange
	}
	src := u.numbers()
	for i, dst := range q.numbers() {
		if src[i].Valid {
			*dst = *src[i]
		}
	}
}

// HasPrice 价格为 0 视为没有价格
func (q Quote) HasPrice() bool {
	return q.Price.Valid && !q.Price.Decimal.IsZero()
}

// IsZero 一个字段都没有
func (q Quote) IsZero() bool {
	if q.Name != "" || q.Exchange != "" {
		return false
	}
	for _, n := range q.numbers() {
		if n.Valid {
			return false
		}
	}
	return true
}

// Age 距离上次更新多久，从没更新过返回一个很大的值
func (q Quote) Age(now time.Time) time.Duration {
	if q.LastUpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(q.LastUpdatedAt)
}

func (q *Quote) numbers() []*decimal.NullDecimal {
	return []*decimal.NullDecimal{
		&q.Price, &q.Change, &q.ChangePercent,
		&q.DayHigh, &q.DayLow, &q.High52Week, &q.Low52Week,
		&q.MarketCap, &q.PERatio, &q.PBRatio,
	}
}

// Num float64 -> 可空十进制
func Num(f float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

// NumPtr nil 表示字段缺失
func NumPtr(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return Num(*f)
}
