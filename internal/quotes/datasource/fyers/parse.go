package fyers

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"stockx.com/internal/quotes/model"
)

var ErrMalformed = errors.New("fyers: malformed frame")

const maxNesting = 4

// flexNum 上游同一个字段有时是数字，有时是字符串，有时是 null
type flexNum decimal.NullDecimal

func (n *flexNum) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = flexNum{}
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = flexNum{}
			return nil
		}
		b = []byte(s)
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		// 非数字当作缺失，不让一个坏字段毁掉整条 tick
		*n = flexNum{}
		return nil
	}
	*n = flexNum{Decimal: d, Valid: true}
	return nil
}

// flexStr 代码字段偶尔是数字 token
type flexStr string

func (s *flexStr) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		v, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*s = flexStr(v)
		return nil
	}
	*s = flexStr(b)
	return nil
}

// item 一条 tick 可能出现的所有别名
type item struct {
	Data []json.RawMessage `json:"data"`

	N      flexStr `json:"n"`
	Symbol flexStr `json:"symbol"`
	S      flexStr `json:"s"`
	Tk     flexStr `json:"tk"`
	Ts     flexStr `json:"ts"`

	Lp        flexNum `json:"lp"`
	LastPrice flexNum `json:"last_price"`
	Ltp       flexNum `json:"ltp"`
	Iv        flexNum `json:"iv"`

	Ch  flexNum `json:"ch"`
	Cng flexNum `json:"cng"`
	Chp flexNum `json:"chp"`
	Nc  flexNum `json:"nc"`

	HighPrice flexNum `json:"high_price"`
	H         flexNum `json:"h"`
	LowPrice  flexNum `json:"low_price"`
	L         flexNum `json:"l"`
}

// 控制消息里 s 是状态不是代码
var statusWords = map[string]bool{"ok": true, "error": true, "success": true}

func (it *item) providerID() string {
	for _, v := range []flexStr{it.N, it.Symbol, it.S, it.Tk, it.Ts} {
		if v != "" && !statusWords[strings.ToLower(string(v))] {
			return string(v)
		}
	}
	return ""
}

func firstPositive(vs ...flexNum) (decimal.Decimal, bool) {
	for _, v := range vs {
		if v.Valid && v.Decimal.IsPositive() {
			return v.Decimal, true
		}
	}
	return decimal.Zero, false
}

func firstValid(vs ...flexNum) decimal.NullDecimal {
	for _, v := range vs {
		if v.Valid {
			return decimal.NullDecimal(v)
		}
	}
	return decimal.NullDecimal{}
}

// Decode 把一帧解析成 RawTick。
// 控制消息（既没有代码也没有价格）直接忽略；只有一半的条目计入 bad；整帧不是 JSON 返回 ErrMalformed。
func Decode(frame []byte) (ticks []model.RawTick, bad int, err error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, 0, nil
	}
	if err := decodeInto(frame, 0, &ticks, &bad); err != nil {
		return ticks, bad, err
	}
	return ticks, bad, nil
}

func decodeInto(b []byte, depth int, out *[]model.RawTick, bad *int) error {
	if depth > maxNesting {
		*bad++
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(b, &arr); err != nil {
			return ErrMalformed
		}
		for _, raw := range arr {
			if err := decodeInto(bytes.TrimSpace(raw), depth+1, out, bad); err != nil {
				*bad++
			}
		}
		return nil
	}

	var it item
	if err := json.Unmarshal(b, &it); err != nil {
		return ErrMalformed
	}
	if len(it.Data) > 0 {
		for _, raw := range it.Data {
			if err := decodeInto(bytes.TrimSpace(raw), depth+1, out, bad); err != nil {
				*bad++
			}
		}
		return nil
	}

	id := it.providerID()
	price, hasPrice := firstPositive(it.Lp, it.LastPrice, it.Ltp, it.Iv)
	switch {
	case id == "" && !hasPrice:
		// 订阅回执、心跳
		return nil
	case id == "" || !hasPrice:
		*bad++
		return nil
	}
	*out = append(*out, model.RawTick{
		ProviderID:    id,
		Price:         price,
		Change:        firstValid(it.Ch, it.Cng),
		ChangePercent: firstValid(it.Chp, it.Nc),
		High:          firstValid(it.HighPrice, it.H),
		Low:           firstValid(it.LowPrice, it.L),
	})
	return nil
}
