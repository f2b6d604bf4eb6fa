package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/segmentio/encoding/json"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/symbol"
	"stockx.com/pkg/xerr"
)

const (
	DefaultYahooBase = "https://query1.finance.yahoo.com"
	yahooQuotePath   = "/v7/finance/quote"
	browserUA        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

type yahooResp struct {
	QuoteResponse struct {
		Result []yahooQuote `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

type yahooQuote struct {
	Symbol            string   `json:"symbol"`
	ShortName         string   `json:"shortName"`
	LongName          string   `json:"longName"`
	FullExchangeName  string   `json:"fullExchangeName"`
	Price             *float64 `json:"regularMarketPrice"`
	PreviousClose     *float64 `json:"regularMarketPreviousClose"`
	Change            *float64 `json:"regularMarketChange"`
	ChangePercent     *float64 `json:"regularMarketChangePercent"`
	DayHigh           *float64 `json:"regularMarketDayHigh"`
	DayLow            *float64 `json:"regularMarketDayLow"`
	FiftyTwoWeekHigh  *float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow   *float64 `json:"fiftyTwoWeekLow"`
	MarketCap         *float64 `json:"marketCap"`
	TrailingPE        *float64 `json:"trailingPE"`
	PriceToBook       *float64 `json:"priceToBook"`
	RegularMarketTime int64    `json:"regularMarketTime"`
}

// Yahoo 二级 REST 行情源。会限流，错误码不稳定（429 / 401 Invalid Crumb）。
type Yahoo struct {
	http   *resty.Client
	client *Client
	now    func() time.Time
}

func NewYahoo(base string, client *Client) *Yahoo {
	if base == "" {
		base = DefaultYahooBase
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("User-Agent", browserUA).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(json.Unmarshal)
	return &Yahoo{http: hc, client: client, now: time.Now}
}

func (y *Yahoo) Name() string { return y.client.Name() }

func (y *Yahoo) Budget() time.Duration { return y.client.Budget() }

// Quote 按标准 symbol 查一次报价，指数自动换成 ^ 代码
func (y *Yahoo) Quote(ctx context.Context, sym string) (model.Quote, error) {
	code := symbol.RESTCode(sym)
	q, err := Do(ctx, y.client, func(ctx context.Context) (model.Quote, error) {
		return y.fetch(ctx, code)
	})
	if err != nil {
		return model.Quote{}, err
	}
	q.Symbol = sym
	return q, nil
}

func (y *Yahoo) fetch(ctx context.Context, code string) (model.Quote, error) {
	resp, err := y.http.R().
		SetContext(ctx).
		SetQueryParam("symbols", code).
		Get(yahooQuotePath)
	if err != nil {
		return model.Quote{}, xerr.Transient(err)
	}
	if err := classify(resp.StatusCode(), resp.Body()); err != nil {
		return model.Quote{}, err
	}

	var body yahooResp
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return model.Quote{}, xerr.Transient(fmt.Errorf("decode quote %s: %w", code, err))
	}
	if e := body.QuoteResponse.Error; e != nil && e.Code != "" {
		if strings.Contains(strings.ToLower(e.Description), "crumb") {
			return model.Quote{}, xerr.RateLimited(fmt.Errorf("%s: %s", e.Code, e.Description))
		}
		return model.Quote{}, xerr.Transient(fmt.Errorf("%s: %s", e.Code, e.Description))
	}
	for _, r := range body.QuoteResponse.Result {
		if strings.EqualFold(r.Symbol, code) {
			return y.toQuote(r), nil
		}
	}
	if len(body.QuoteResponse.Result) == 1 {
		return y.toQuote(body.QuoteResponse.Result[0]), nil
	}
	return model.Quote{}, xerr.NotFound(fmt.Errorf("no quote for %s", code))
}

func (y *Yahoo) toQuote(r yahooQuote) model.Quote {
	price := r.Price
	if price == nil || *price == 0 {
		// 停牌或盘前，用昨收顶上
		price = r.PreviousClose
	}
	name := r.LongName
	if name == "" {
		name = r.ShortName
	}
	return model.Quote{
		Name:          name,
		Exchange:      r.FullExchangeName,
		Price:         model.NumPtr(price),
		Change:        model.NumPtr(r.Change),
		ChangePercent: model.NumPtr(r.ChangePercent),
		DayHigh:       model.NumPtr(r.DayHigh),
		DayLow:        model.NumPtr(r.DayLow),
		High52Week:    model.NumPtr(r.FiftyTwoWeekHigh),
		Low52Week:     model.NumPtr(r.FiftyTwoWeekLow),
		MarketCap:     model.NumPtr(r.MarketCap),
		PERatio:       model.NumPtr(r.TrailingPE),
		PBRatio:       model.NumPtr(r.PriceToBook),
		LastUpdatedAt: y.now(),
		Tier:          model.TierREST,
	}
}

// classify HTTP 状态码 -> 错误分类
func classify(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		strings.Contains(strings.ToLower(string(body)), "invalid crumb"):
		return xerr.RateLimited(fmt.Errorf("http %d", status))
	case status == http.StatusNotFound:
		return xerr.NotFound(fmt.Errorf("http %d", status))
	default:
		return xerr.Transient(fmt.Errorf("http %d", status))
	}
}
