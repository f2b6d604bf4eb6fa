package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/symbol"
	"stockx.com/pkg/xerr"
)

const DefaultScrapeBase = "https://www.google.com"

var lastPriceRe = regexp.MustCompile(`data-last-price="([^"]+)"`)

// Scraper 兜底：抓公开行情页里的最新价。页面结构随时会变，失败就算了。
type Scraper struct {
	http   *resty.Client
	client *Client
	now    func() time.Time
}

func NewScraper(base string, client *Client) *Scraper {
	if base == "" {
		base = DefaultScrapeBase
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("User-Agent", browserUA).
		SetHeader("Accept", "text/html")
	return &Scraper{http: hc, client: client, now: time.Now}
}

func (s *Scraper) Name() string { return s.client.Name() }

func (s *Scraper) Budget() time.Duration { return s.client.Budget() }

func (s *Scraper) Quote(ctx context.Context, sym string) (model.Quote, error) {
	code, ok := symbol.ScrapeCode(sym)
	if !ok {
		return model.Quote{}, xerr.MappingUnavailable(sym)
	}
	price, err := Do(ctx, s.client, func(ctx context.Context) (decimal.Decimal, error) {
		return s.fetch(ctx, code)
	})
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		Symbol:        sym,
		Price:         decimal.NewNullDecimal(price),
		LastUpdatedAt: s.now(),
		Tier:          model.TierScrape,
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, code string) (decimal.Decimal, error) {
	resp, err := s.http.R().SetContext(ctx).Get("/finance/quote/" + code)
	if err != nil {
		return decimal.Zero, xerr.Transient(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, classify(resp.StatusCode(), nil)
	}
	return parseLastPrice(resp.Body())
}

func parseLastPrice(page []byte) (decimal.Decimal, error) {
	m := lastPriceRe.FindSubmatch(page)
	if m == nil {
		return decimal.Zero, xerr.NotFound(errors.New("last price not on page"))
	}
	raw := strings.ReplaceAll(string(m[1]), ",", "")
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, xerr.NotFound(fmt.Errorf("bad last price %q: %w", raw, err))
	}
	if !p.IsPositive() {
		return decimal.Zero, xerr.NotFound(fmt.Errorf("non-positive last price %s", raw))
	}
	return p, nil
}
