package store

import (
	"time"

	"github.com/shopspring/decimal"

	"stockx.com/internal/quotes/model"
)

// InstrumentRow instruments 表，一行一个标的
type InstrumentRow struct {
	Symbol   string `gorm:"column:symbol;primaryKey;type:varchar(64);not null"`
	Name     string `gorm:"column:name;type:varchar(128)"`
	Exchange string `gorm:"column:exchange;type:varchar(16)"`

	Price         decimal.NullDecimal `gorm:"column:price;type:decimal(20,6)"`
	Change        decimal.NullDecimal `gorm:"column:change_abs;type:decimal(20,6)"`
	ChangePercent decimal.NullDecimal `gorm:"column:change_percent;type:decimal(12,6)"`
	DayHigh       decimal.NullDecimal `gorm:"column:day_high;type:decimal(20,6)"`
	DayLow        decimal.NullDecimal `gorm:"column:day_low;type:decimal(20,6)"`
	High52Week    decimal.NullDecimal `gorm:"column:high_52w;type:decimal(20,6)"`
	Low52Week     decimal.NullDecimal `gorm:"column:low_52w;type:decimal(20,6)"`
	MarketCap     decimal.NullDecimal `gorm:"column:market_cap;type:decimal(24,2)"`
	PERatio       decimal.NullDecimal `gorm:"column:pe_ratio;type:decimal(12,4)"`
	PBRatio       decimal.NullDecimal `gorm:"column:pb_ratio;type:decimal(12,4)"`

	LastUpdatedAt time.Time `gorm:"column:last_updated_at;index"`
}

func (InstrumentRow) TableName() string {
	return "instruments"
}

func rowFromQuote(q model.Quote) InstrumentRow {
	return InstrumentRow{
		Symbol:        q.Symbol,
		Name:          q.Name,
		Exchange:      q.Exchange,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		DayHigh:       q.DayHigh,
		DayLow:        q.DayLow,
		High52Week:    q.High52Week,
		Low52Week:     q.Low52Week,
		MarketCap:     q.MarketCap,
		PERatio:       q.PERatio,
		PBRatio:       q.PBRatio,
		LastUpdatedAt: q.LastUpdatedAt.UTC(),
	}
}

func (r InstrumentRow) quote() model.Quote {
	return model.Quote{
		Symbol:        r.Symbol,
		Name:          r.Name,
		Exchange:      r.Exchange,
		Price:         r.Price,
		Change:        r.Change,
		ChangePercent: r.ChangePercent,
		DayHigh:       r.DayHigh,
		DayLow:        r.DayLow,
		High52Week:    r.High52Week,
		Low52Week:     r.Low52Week,
		MarketCap:     r.MarketCap,
		PERatio:       r.PERatio,
		PBRatio:       r.PBRatio,
		LastUpdatedAt: r.LastUpdatedAt,
		Tier:          model.TierCache,
	}
}
