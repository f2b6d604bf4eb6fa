package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToProvider(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"RELIANCE.NS", "NSE:RELIANCE-EQ", true},
		{"reliance", "NSE:RELIANCE-EQ", true},
		{"TCS.BO", "BSE:TCS-EQ", true},
		{"NIFTY 50", "NSE:NIFTY50-INDEX", true},
		{"^NSEI", "NSE:NIFTY50-INDEX", true},
		{"NSEBANK", "NSE:NIFTYBANK-INDEX", true},
		{"SENSEX", "BSE:SENSEX-INDEX", true},
		{"NIFTY SMALLCAP", "NSE:NIFTYSMALLCAP-INDEX", true},
		{"^UNKNOWN", "", false},
		{"AAPL.US", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := ToProvider(c.in)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestFromProvider(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"NSE:RELIANCE-EQ", "RELIANCE.NS", true},
		{"BSE:TCS-EQ", "TCS.BO", true},
		{"NSE:NIFTY50-INDEX", "NIFTY 50", true},
		{"NSE:NIFTYBANK-INDEX", "NIFTY BANK", true},
		{"nifty50", "NIFTY 50", true},
		{"Nifty 50", "NIFTY 50", true},
		{"NSE:NIFTYSMALLCAP-INDEX", "NIFTY SMALLCAP", true},
		{"garbage", "", false},
		{"MCX:GOLD-FUT", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := FromProvider(c.in)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	syms := []string{"RELIANCE.NS", "INFY.NS", "TCS.BO", "M&M.NS", "BAJAJ-AUTO.NS", "NIFTY SMALLCAP", "NIFTY NEXT50", "NIFTY"}
	for _, ix := range indices {
		syms = append(syms, ix.Canonical)
	}
	for _, s := range syms {
		id, ok := ToProvider(s)
		require.True(t, ok, s)
		back, ok := FromProvider(id)
		require.True(t, ok, id)
		assert.Equal(t, s, back)
	}
}

func TestRoundTrip_FromSubscribeInput(t *testing.T) {
	for _, raw := range []string{"nifty next 50", "NIFTY MIDCAP SELECT", "NIFTY50", "nsebank", "^NSEI", "reliance"} {
		sym := Normalize(raw)
		id, ok := ToProvider(sym)
		require.True(t, ok, raw)
		back, ok := FromProvider(id)
		require.True(t, ok, id)
		assert.Equal(t, sym, back, raw)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"reliance":      "RELIANCE.NS",
		" infy ":        "INFY.NS",
		"TCS.BO":        "TCS.BO",
		"NIFTY 50":      "NIFTY 50",
		"nifty bank":    "NIFTY BANK",
		"SENSEX":        "SENSEX",
		"^NSEI":         "NIFTY 50",
		"NIFTY50":       "NIFTY 50",
		"niftybank":     "NIFTY BANK",
		"NSEBANK":       "NIFTY BANK",
		"NIFTY NEXT 50": "NIFTY NEXT50",
		"NIFTYSMALLCAP": "NIFTY SMALLCAP",
		"^GSPC":         "^GSPC",
		"":              "",
		"RELIANCE.NS":   "RELIANCE.NS",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
	assert.Equal(t, Normalize("reliance"), Normalize("RELIANCE.NS"), "两种写法要合并成同一个订阅")
}

func TestCanonical_BrandAlias(t *testing.T) {
	assert.Equal(t, "ZOMATO.NS", Canonical("eternal"))
	assert.Equal(t, "HDFCBANK.NS", Canonical("hdfcbank"))
}

func TestIsIndex(t *testing.T) {
	assert.True(t, IsIndex("NIFTY 50"))
	assert.True(t, IsIndex("SENSEX"))
	assert.True(t, IsIndex("NIFTY SMALLCAP"))
	assert.True(t, IsIndex("^NSEI"))
	assert.False(t, IsIndex("RELIANCE.NS"))
}

func TestRESTAndScrapeCodes(t *testing.T) {
	assert.Equal(t, "^NSEI", RESTCode("NIFTY 50"))
	assert.Equal(t, "^NSEBANK", RESTCode("NIFTY BANK"))
	assert.Equal(t, "RELIANCE.NS", RESTCode("RELIANCE.NS"))

	code, ok := ScrapeCode("RELIANCE.NS")
	require.True(t, ok)
	assert.Equal(t, "RELIANCE:NSE", code)

	code, ok = ScrapeCode("TCS.BO")
	require.True(t, ok)
	assert.Equal(t, "TCS:BOM", code)

	code, ok = ScrapeCode("NIFTY 50")
	require.True(t, ok)
	assert.Equal(t, "NIFTY_50:INDEXNSE", code)

	code, ok = ScrapeCode("SENSEX")
	require.True(t, ok)
	assert.Equal(t, "SENSEX:INDEXBOM", code)

	_, ok = ScrapeCode("^GSPC")
	assert.False(t, ok)
}

func TestAlternateListing(t *testing.T) {
	alt, ok := AlternateListing("RELIANCE.NS")
	require.True(t, ok)
	assert.Equal(t, "RELIANCE.BO", alt)

	_, ok = AlternateListing("RELIANCE.BO")
	assert.False(t, ok)
	_, ok = AlternateListing("NIFTY 50")
	assert.False(t, ok)
}
