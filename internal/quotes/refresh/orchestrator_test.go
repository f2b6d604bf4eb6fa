package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockx.com/internal/quotes/model"
	"stockx.com/internal/quotes/upstream"
	"stockx.com/pkg/xerr"
)

type fakeStream struct {
	connected bool
	ticks     map[string]model.Tick
}

func (f *fakeStream) Connected() bool { return f.connected }
func (f *fakeStream) LastTick(sym string) (model.Tick, bool) {
	t, ok := f.ticks[sym]
	return t, ok
}

type fakeProvider struct {
	name  string
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, sym string) (model.Quote, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Quote(ctx context.Context, sym string) (model.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sym)
	f.mu.Unlock()
	return f.fn(ctx, sym)
}

func quoteOf(price float64, tier model.Tier) func(context.Context, string) (model.Quote, error) {
	return func(_ context.Context, sym string) (model.Quote, error) {
		return model.Quote{Symbol: sym, Price: model.Num(price), ChangePercent: model.Num(1.2), Tier: tier}, nil
	}
}

func failWith(err error) func(context.Context, string) (model.Quote, error) {
	return func(context.Context, string) (model.Quote, error) { return model.Quote{}, err }
}

func TestRefresh_StreamTierWins(t *testing.T) {
	st := &fakeStream{connected: true, ticks: map[string]model.Tick{
		"RELIANCE.NS": {Symbol: "RELIANCE.NS", Price: decimal.NewFromFloat(2950.5), At: time.Now()},
	}}
	rest := &fakeProvider{name: "yahoo", fn: quoteOf(1, model.TierREST)}
	o := New(st, rest, nil)

	q, err := o.Refresh(context.Background(), "RELIANCE.NS", model.Quote{})
	require.NoError(t, err)
	assert.Equal(t, model.TierStream, q.Tier)
	assert.Equal(t, "2950.5", q.Price.Decimal.String())
	assert.Empty(t, rest.calls, "推流有数据就不打 REST")
}

func TestRefresh_StreamDownFallsToREST(t *testing.T) {
	st := &fakeStream{connected: false, ticks: map[string]model.Tick{
		"X.NS": {Symbol: "X.NS", Price: decimal.NewFromInt(1)},
	}}
	rest := &fakeProvider{name: "yahoo", fn: quoteOf(250, model.TierREST)}
	o := New(st, rest, nil)

	q, err := o.Refresh(context.Background(), "X.NS", model.Quote{})
	require.NoError(t, err)
	assert.Equal(t, "250", q.Price.Decimal.String())
	assert.Equal(t, "1.2", q.ChangePercent.Decimal.String())
	assert.Equal(t, model.TierREST, q.Tier)
}

func TestRefresh_BSEFallback(t *testing.T) {
	rest := &fakeProvider{name: "yahoo", fn: func(_ context.Context, sym string) (model.Quote, error) {
		if sym == "SMALLCO.NS" {
			return model.Quote{}, xerr.NotFound(errors.New("no result"))
		}
		return quoteOf(12, model.TierREST)(context.Background(), sym)
	}}
	o := New(nil, rest, nil)

	q, err := o.Refresh(context.Background(), "SMALLCO.NS", model.Quote{})
	require.NoError(t, err)
	assert.Equal(t, "SMALLCO.NS", q.Symbol, "结果挂回原 symbol")
	assert.Equal(t, []string{"SMALLCO.NS", "SMALLCO.BO"}, rest.calls)
}

func TestRefresh_NoBSEFallbackOnThrottle(t *testing.T) {
	rest := &fakeProvider{name: "yahoo", fn: failWith(xerr.CircuitOpen(nil))}
	scrape := &fakeProvider{name: "google", fn: quoteOf(99, model.TierScrape)}
	o := New(nil, rest, scrape)

	q, err := o.Refresh(context.Background(), "TCS.NS", model.Quote{})
	require.NoError(t, err)
	assert.Equal(t, model.TierScrape, q.Tier)
	assert.Equal(t, []string{"TCS.NS"}, rest.calls)
}

func TestRefresh_BackfillKeepsFundamentals(t *testing.T) {
	prev := model.Quote{
		Symbol:    "INFY.NS",
		Price:     model.Num(1500),
		DayHigh:   model.Num(1520),
		MarketCap: model.Num(6_000_000),
		PERatio:   model.Num(24),
	}
	scrape := &fakeProvider{name: "google", fn: func(_ context.Context, sym string) (model.Quote, error) {
		return model.Quote{Symbol: sym, Price: model.Num(1510), Tier: model.TierScrape}, nil
	}}
	o := New(nil, nil, scrape)

	q, err := o.Refresh(context.Background(), "INFY.NS", prev)
	require.NoError(t, err)
	assert.Equal(t, "1510", q.Price.Decimal.String())
	assert.Equal(t, "1520", q.DayHigh.Decimal.String())
	assert.Equal(t, "6000000", q.MarketCap.Decimal.String())
	assert.Equal(t, "24", q.PERatio.Decimal.String())
}

func TestRefresh_AllTiersFail(t *testing.T) {
	st := &fakeStream{connected: true}
	rest := &fakeProvider{name: "yahoo", fn: failWith(xerr.Transient(errors.New("boom")))}
	scrape := &fakeProvider{name: "google", fn: failWith(xerr.NotFound(nil))}
	o := New(st, rest, scrape)

	_, err := o.Refresh(context.Background(), "Y.BO", model.Quote{Price: model.Num(100)})
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindNotFound))

	var te *TierError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.TierREST, te.Tier)
}

func TestRefresh_ZeroPriceIsNotAWin(t *testing.T) {
	rest := &fakeProvider{name: "yahoo", fn: quoteOf(0, model.TierREST)}
	scrape := &fakeProvider{name: "google", fn: quoteOf(7, model.TierScrape)}
	o := New(nil, rest, scrape)

	q, err := o.Refresh(context.Background(), "NIFTY 50", model.Quote{})
	require.NoError(t, err)
	assert.Equal(t, "7", q.Price.Decimal.String())
}

func TestRefresh_NothingAttemptable(t *testing.T) {
	scrape := &fakeProvider{name: "google", fn: failWith(xerr.MappingUnavailable("^XYZ"))}
	o := New(&fakeStream{connected: false}, nil, scrape)

	_, err := o.Refresh(context.Background(), "^XYZ", model.Quote{})
	assert.True(t, xerr.IsKind(err, xerr.KindMappingUnavailable))
}

func TestRefresh_TierTimeout(t *testing.T) {
	rest := &fakeProvider{name: "yahoo", fn: func(ctx context.Context, _ string) (model.Quote, error) {
		<-ctx.Done()
		return model.Quote{}, xerr.Transient(ctx.Err())
	}}
	scrape := &fakeProvider{name: "google", fn: quoteOf(3, model.TierScrape)}
	o := New(nil, rest, scrape)
	o.TierTimeout = 30 * time.Millisecond

	start := time.Now()
	q, err := o.Refresh(context.Background(), "SLOW.BO", model.Quote{})
	require.NoError(t, err)
	assert.Equal(t, model.TierScrape, q.Tier)
	assert.Less(t, time.Since(start), time.Second)
}

// 退避总时长比 TierTimeout 长，重试也要全部跑完
func TestRefresh_TierBudgetCoversRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := upstream.NewClient(upstream.ClientConfig{
		Name:             "yahoo-tier-budget",
		Timeout:          200 * time.Millisecond,
		Retries:          3,
		BaseDelay:        20 * time.Millisecond,
		MaxDelay:         time.Second,
		BreakerThreshold: 100,
		BreakerCooldown:  time.Minute,
	})
	o := New(nil, upstream.NewYahoo(srv.URL, client), nil)
	o.TierTimeout = 50 * time.Millisecond // 小于 20+40+80ms 的退避

	_, err := o.Refresh(context.Background(), "XYZ.NS", model.Quote{})
	require.Error(t, err)
	assert.EqualValues(t, 4, calls.Load(), "第一次 + 3 次重试")

	var te *TierError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, xerr.KindRateLimited, xerr.KindOf(te.Err))
}
