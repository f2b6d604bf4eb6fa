package ws

import (
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"stockx.com/internal/quotes/model"
)

// EncodeTick: tick -> priceUpdate，topic 就是标准 symbol
func EncodeTick(t model.Tick) (topic string, payload []byte, err error) {
	msg := PriceUpdate{
		Type:          MsgPriceUpdate,
		Symbol:        t.Symbol,
		Price:         t.Price.InexactFloat64(),
		Change:        optFloat(t.Change),
		ChangePercent: optFloat(t.ChangePercent),
		High:          optFloat(t.High),
		Low:           optFloat(t.Low),
		Ts:            t.At.UnixMilli(),
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return "", nil, err
	}
	return t.Symbol, buf, nil
}

// EncodeQuote REST 刷新出来的报价也推一份，前端不区分来源
func EncodeQuote(q model.Quote) (topic string, payload []byte, err error) {
	return EncodeTick(model.Tick{
		Symbol:        q.Symbol,
		Price:         q.Price.Decimal,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		High:          q.DayHigh,
		Low:           q.DayLow,
		At:            q.LastUpdatedAt,
	})
}

func encodeAck(typ, sym string, err error) []byte {
	a := AckMsg{Type: typ, Symbol: sym}
	if err != nil {
		a.Error = err.Error()
	}
	b, _ := json.Marshal(a)
	return b
}

func optFloat(n decimal.NullDecimal) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Decimal.InexactFloat64()
	return &f
}
