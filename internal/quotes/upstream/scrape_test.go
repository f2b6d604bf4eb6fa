package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockx.com/internal/quotes/model"
	"stockx.com/pkg/xerr"
)

func TestScraper_Quote(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`<div class="x" data-last-price="22,104.35" data-currency-code="INR"></div>`))
	}))
	defer srv.Close()
	s := NewScraper(srv.URL, testClient("scrape-ok", 0, 100))

	q, err := s.Quote(context.Background(), "NIFTY 50")
	require.NoError(t, err)
	assert.Equal(t, "/finance/quote/NIFTY_50:INDEXNSE", gotPath)
	assert.Equal(t, "NIFTY 50", q.Symbol)
	assert.Equal(t, model.TierScrape, q.Tier)
	assert.True(t, q.Price.Decimal.Equal(decimal.RequireFromString("22104.35")))
	assert.False(t, q.ChangePercent.Valid)
}

func TestScraper_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/finance/quote/TCS:BOM" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<html>layout changed</html>`))
	}))
	defer srv.Close()
	s := NewScraper(srv.URL, testClient("scrape-fail", 0, 100))

	_, err := s.Quote(context.Background(), "RELIANCE.NS")
	assert.True(t, xerr.IsKind(err, xerr.KindNotFound))

	_, err = s.Quote(context.Background(), "TCS.BO")
	assert.True(t, xerr.IsKind(err, xerr.KindTransient))

	_, err = s.Quote(context.Background(), "^GSPC")
	assert.True(t, xerr.IsKind(err, xerr.KindMappingUnavailable))
}

func TestParseLastPrice(t *testing.T) {
	p, err := parseLastPrice([]byte(`data-last-price="2950.5"`))
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("2950.5")))

	_, err = parseLastPrice([]byte(`data-last-price="N/A"`))
	assert.Error(t, err)
	_, err = parseLastPrice([]byte(`data-last-price="0"`))
	assert.Error(t, err)
}
