package ws

// 客户端 -> 服务端
//
//	{"type":"subscribe","symbol":"RELIANCE"}
//	{"type":"unsubscribe","symbols":["TCS.NS","NIFTY 50"]}
type ClientMsg struct {
	Type    string   `json:"type"` // "subscribe" | "unsubscribe"
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// all 单个 symbol 和列表都可以用
func (m ClientMsg) all() []string {
	out := make([]string, 0, len(m.Symbols)+1)
	if m.Symbol != "" {
		out = append(out, m.Symbol)
	}
	return append(out, m.Symbols...)
}

const (
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgPriceUpdate  = "priceUpdate"
	MsgError        = "error"
)

// AckMsg 订阅/退订回执，symbol 是归一化后的标准代码
type AckMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PriceUpdate 推给前端的行情，ts 毫秒
type PriceUpdate struct {
	Type          string   `json:"type"`
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Change        *float64 `json:"change,omitempty"`
	ChangePercent *float64 `json:"changePercent,omitempty"`
	High          *float64 `json:"high,omitempty"`
	Low           *float64 `json:"low,omitempty"`
	Ts            int64    `json:"ts"`
}
